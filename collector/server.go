package collector

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

const headerContentEncoding = "Content-Encoding"
const brotliEncoding = "br"

// maxIngestBodyBytes bounds the raw /api/instance/update request body,
// independent of the collector's per-snapshot byte budget (budget.go) —
// this is a wire-framing cap, not an accounting one. Oversized bodies are
// rejected with 413 before they ever reach JSON decode, per spec.md §7's
// "size-limit exceeded (413)" ingest error kind.
const maxIngestBodyBytes = 10 << 20

// NewHandler builds the collector's top-level HTTP handler, wiring the
// ingest and SSE-connect endpoints at spec.md §6's exact paths plus the
// UI-facing endpoints ui handles. Grounded on
// `api/v1/routes.go`'s `http.ServeMux` + per-route method-switch style.
// metricsReg may be nil to skip mounting /metrics.
func NewHandler(ingest *Ingest, connect *ConnectHandler, ui *UI, metricsReg *prometheus.Registry, logger logrus.FieldLogger) http.Handler {
	mux := http.NewServeMux()

	if metricsReg != nil {
		mux.Handle("/metrics", Handler(metricsReg))
	}

	mux.HandleFunc("/api/instance/update", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handleUpdate(w, r, ingest, logger)
	})

	mux.HandleFunc("/api/instance/connect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		connect.ServeHTTP(w, r)
	})

	ui.Register(mux)

	return mux
}

func handleUpdate(w http.ResponseWriter, r *http.Request, ingest *Ingest, logger logrus.FieldLogger) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if r.Header.Get(headerContentEncoding) == brotliEncoding {
		body, err = wire.Decompress(body)
		if err != nil {
			http.Error(w, "failed to decompress body", http.StatusBadRequest)
			return
		}
	}

	var snapshot wire.ExportSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		http.Error(w, "failed to decode snapshot", http.StatusBadRequest)
		return
	}

	directive, err := ingest.HandleSnapshot(r.Context(), snapshot)
	if err != nil {
		if err == ErrInstanceNotRegistered {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.WithError(err).Warn("ingest: failed to handle snapshot")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeDirective(w, directive)
}

func writeDirective(w http.ResponseWriter, directive wire.Sampling) {
	data, err := json.Marshal(directive)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if wire.WorthCompressing(data) {
		if compressed, cerr := wire.Compress(data); cerr == nil {
			w.Header().Set(headerContentEncoding, brotliEncoding)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(compressed)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

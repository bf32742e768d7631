package tracer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// Client talks to the collector's ingest endpoint. It's grounded on
// cloudapi/client.go's Do/CheckResponse/retry shape, trimmed to the one
// call the Export Loop needs and extended with Brotli (de)compression of
// the request and response bodies per spec.md §6.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	logger  logrus.FieldLogger

	retries       int
	retryInterval time.Duration
}

const (
	retryInterval = 500 * time.Millisecond
	maxRetries    = 3

	headerContentEncoding = "Content-Encoding"
	brotliEncoding        = "br"
)

// NewClient returns a Client posting to baseURL (the collector's address)
// with the given bearer token and per-request timeout.
func NewClient(logger logrus.FieldLogger, baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		http:          &http.Client{Timeout: timeout},
		baseURL:       baseURL,
		token:         token,
		logger:        logger,
		retries:       maxRetries,
		retryInterval: retryInterval,
	}
}

// PushSnapshot POSTs snapshot to the collector's ingest endpoint and
// decodes the returned Sampling directive. The request body is
// Brotli-compressed whenever it's large enough to be worth it (spec.md
// §6's "worth compressing" threshold).
func (c *Client) PushSnapshot(ctx context.Context, snapshot wire.ExportSnapshot) (wire.Sampling, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return wire.Sampling{}, fmt.Errorf("tracer: marshal export snapshot: %w", err)
	}

	compressed := false
	if wire.WorthCompressing(body) {
		if cbody, cerr := wire.Compress(body); cerr == nil {
			body = cbody
			compressed = true
		} else {
			c.logger.WithError(cerr).Warn("falling back to uncompressed export body")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/instance/update", bytes.NewReader(body))
	if err != nil {
		return wire.Sampling{}, fmt.Errorf("tracer: build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if compressed {
		req.Header.Set(headerContentEncoding, brotliEncoding)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	var directive wire.Sampling
	err = c.do(req, func(resp *http.Response) error {
		return decodeDirective(resp, &directive)
	})
	if err != nil {
		return wire.Sampling{}, err
	}
	return directive, nil
}

func decodeDirective(resp *http.Response, out *wire.Sampling) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tracer: read export response: %w", err)
	}
	if resp.Header.Get(headerContentEncoding) == brotliEncoding {
		data, err = wire.Decompress(data)
		if err != nil {
			return fmt.Errorf("tracer: decompress export response: %w", err)
		}
	}
	if len(data) == 0 {
		*out = wire.NewAllowEverything()
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("tracer: decode export response: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request, decode func(*http.Response) error) error {
	var originalBody []byte
	if req.Body != nil {
		var err error
		originalBody, err = io.ReadAll(req.Body)
		if err != nil {
			return err
		}
		_ = req.Body.Close()
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if originalBody != nil {
			req.Body = io.NopCloser(bytes.NewReader(originalBody))
			req.ContentLength = int64(len(originalBody))
		}

		resp, err := c.http.Do(req)
		retry, doneErr := c.evaluate(resp, err, decode, attempt)
		lastErr = doneErr
		if !retry {
			return lastErr
		}
		time.Sleep(c.retryInterval)
	}
	return lastErr
}

func (c *Client) evaluate(resp *http.Response, err error, decode func(*http.Response) error, attempt int) (retry bool, outErr error) {
	if resp != nil {
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()
	}

	if shouldRetry(resp, err, attempt, c.retries) {
		return true, err
	}
	if err != nil {
		return false, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("tracer: collector returned %s", resp.Status)
	}
	return false, decode(resp)
}

func shouldRetry(resp *http.Response, err error, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	if resp == nil || err != nil {
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
}

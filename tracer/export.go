package tracer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// ExportInterval is how often the Export Loop drains State and ships a
// snapshot to the collector (spec.md §4.D).
const ExportInterval = 1 * time.Second

// ExportLoop is the producer's component D: on a fixed tick, it drains
// State, serializes and (optionally) compresses the snapshot, posts it to
// the collector, and applies whatever Sampling directive comes back.
// Grounded on original_source/tracing-config-helper/src/server_connection/instance_update_sender.rs's
// "drain, send, apply, continue on failure" loop.
type ExportLoop struct {
	state      *State
	sampler    *Sampler
	client     *Client
	instanceId wire.InstanceId
	filter     func() string
	logger     logrus.FieldLogger
}

// NewExportLoop wires together the pieces an Export Loop needs. filter
// returns the producer's current log filter string, read fresh on every
// tick so a live filter change (see controlchannel.go) is reflected in
// the very next snapshot.
func NewExportLoop(state *State, sampler *Sampler, client *Client, instanceId wire.InstanceId, filter func() string, logger logrus.FieldLogger) *ExportLoop {
	return &ExportLoop{
		state:      state,
		sampler:    sampler,
		client:     client,
		instanceId: instanceId,
		filter:     filter,
		logger:     logger,
	}
}

// Run blocks, ticking every ExportInterval until ctx is canceled. A
// failed export is logged and the loop simply waits for the next tick —
// State keeps accumulating regardless (spec.md §4.D: "on failure, log
// and continue; never block the hook on network I/O").
func (e *ExportLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(ExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *ExportLoop) tick(ctx context.Context) {
	traces, orphanEvents := e.state.DrainExport()
	snapshot := wire.ExportSnapshot{
		InstanceId:   e.instanceId,
		OrphanEvents: orphanEvents,
		Traces:       traces,
		Filter:       e.filter(),
	}

	reqCtx, cancel := context.WithTimeout(ctx, ExportInterval)
	defer cancel()

	directive, err := e.client.PushSnapshot(reqCtx, snapshot)
	if err != nil {
		e.logger.WithError(err).Warn("export to collector failed, will retry next tick")
		return
	}
	e.sampler.UpdateDirective(directive)
}

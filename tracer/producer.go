package tracer

import (
	"context"
	"net/url"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tiberiusferreira/tracer-sub000/wire"
)

// Producer groups the five producer-side components (spec.md §4.A-E)
// into the one object an instrumented process constructs at startup,
// mirroring how cmd/state.GlobalState groups together everything a k6
// process-wide run needs instead of scattering it across globals.
type Producer struct {
	State   *State
	Sampler *Sampler
	Hook    *Hook
	Tracer  *Tracer

	export  *ExportLoop
	control *ControlChannelConsumer

	filterMu sync.Mutex
	filter   string
}

// NewProducer wires State, Sampler, Hook, the wrapping Tracer, the Export
// Loop and the Control Channel Consumer together for instanceId, talking
// to the collector at cfg.CollectorURL.
func NewProducer(cfg Config, instanceId wire.InstanceId, logger logrus.FieldLogger) *Producer {
	state := NewState()
	sampler := NewSampler()
	hook := NewHook(state, sampler, logger)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(hook))
	innerTracer := tp.Tracer(instanceId.ServiceId.Name)
	wrappedTracer := WrapTracer(innerTracer, hook)

	client := NewClient(logger, cfg.CollectorURL.String, cfg.Token.String, cfg.ExportTimeout)

	p := &Producer{
		State:   state,
		Sampler: sampler,
		Hook:    hook,
		Tracer:  wrappedTracer,
	}
	p.export = NewExportLoop(state, sampler, client, instanceId, p.currentFilter, logger)
	p.control = NewControlChannelConsumer(controlChannelURL(cfg.CollectorURL.String, instanceId), cfg.Token.String, p.setFilter, logger)
	return p
}

// Run blocks running the Export Loop and Control Channel Consumer
// concurrently until ctx is canceled.
func (p *Producer) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { p.export.Run(ctx); done <- struct{}{} }()
	go func() { p.control.Run(ctx); done <- struct{}{} }()
	<-done
	<-done
}

// StartSpan is the convenience entry point instrumented code uses instead
// of reaching into Producer.Tracer directly.
func (p *Producer) StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return p.Tracer.Start(ctx, name)
}

func (p *Producer) currentFilter() string {
	p.filterMu.Lock()
	defer p.filterMu.Unlock()
	return p.filter
}

func (p *Producer) setFilter(filter string) {
	p.filterMu.Lock()
	defer p.filterMu.Unlock()
	p.filter = filter
}

func controlChannelURL(collectorURL string, instanceId wire.InstanceId) string {
	q := url.Values{}
	q.Set("name", instanceId.ServiceId.Name)
	q.Set("env", instanceId.ServiceId.Env)
	q.Set("instance_id", strconv.FormatInt(instanceId.InstanceId, 10))
	return collectorURL + "/api/instance/connect?" + q.Encode()
}

// Package probe verifies that a plugin can be loaded within bounded time.
//
// A probe runs instantiation and a minimal prepare/release cycle on its own
// goroutine. The caller waits for at most the timeout; a worker that never
// returns is abandoned, not joined. This covers hangs only: a plugin that crashes
// the process still takes the host down with it.
package probe

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/shaban/fxhost/loader"
	"github.com/shaban/fxhost/plugins"
)

// Status is the result class of a probe.
type Status int

const (
	Loaded Status = iota
	Failed
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome is what a probe reports.
type Outcome struct {
	Status  Status        `json:"status"`
	Reason  string        `json:"reason,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// OK reports whether the plugin loaded.
func (o Outcome) OK() bool { return o.Status == Loaded }

func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Status.String()
	}
	return fmt.Sprintf("%s: %s", o.Status, o.Reason)
}

// Stats counts worker lifecycles.
type Stats struct {
	Started     int64
	Abandoned   int64
	LateReturns int64
}

// Config configures a Prober.
type Config struct {
	Loaders    *loader.Registry
	Policy     TimeoutPolicy
	SampleRate float64
	BlockSize  int
	Logger     *zap.Logger
	Tracer     trace.Tracer
}

// Prober runs bounded-time load checks.
type Prober struct {
	loaders    *loader.Registry
	policy     TimeoutPolicy
	sampleRate float64
	blockSize  int
	logger     *zap.Logger
	tracer     trace.Tracer

	group singleflight.Group

	started     atomic.Int64
	abandoned   atomic.Int64
	lateReturns atomic.Int64
}

// New creates a prober.
func New(cfg Config) *Prober {
	p := &Prober{
		loaders:    cfg.Loaders,
		policy:     cfg.Policy,
		sampleRate: cfg.SampleRate,
		blockSize:  cfg.BlockSize,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
	}
	if p.loaders == nil {
		p.loaders = loader.NewRegistry()
	}
	if p.policy.Base <= 0 {
		p.policy = DefaultTimeoutPolicy()
	}
	if p.sampleRate <= 0 {
		p.sampleRate = 48000
	}
	if p.blockSize <= 0 {
		p.blockSize = 512
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.tracer == nil {
		p.tracer = noop.NewTracerProvider().Tracer("probe")
	}
	return p
}

// Stats returns a snapshot of the worker counters.
func (p *Prober) Stats() Stats {
	return Stats{
		Started:     p.started.Load(),
		Abandoned:   p.abandoned.Load(),
		LateReturns: p.lateReturns.Load(),
	}
}

// ProbeDefault probes d with the timeout the policy assigns to it.
func (p *Prober) ProbeDefault(ctx context.Context, d plugins.Descriptor) Outcome {
	return p.Probe(ctx, d, p.policy.For(d))
}

// Probe attempts to load d within timeout. Concurrent probes of the same key and
// timeout share one worker and one deadline. Cancelling ctx only ends this caller's
// wait; the shared wait keeps running until the worker answers or the timeout fires.
func (p *Prober) Probe(ctx context.Context, d plugins.Descriptor, timeout time.Duration) Outcome {
	start := time.Now()
	flight := fmt.Sprintf("%s@%s", d.Key(), timeout)
	ch := p.group.DoChan(flight, func() (any, error) {
		return p.run(context.WithoutCancel(ctx), d, timeout), nil
	})
	select {
	case r := <-ch:
		return r.Val.(Outcome)
	case <-ctx.Done():
		p.logger.Debug("probe wait cancelled", zap.String("plugin", string(d.Key())))
		return Outcome{Status: Failed, Reason: "cancelled", Elapsed: time.Since(start)}
	}
}

// Worker states. Exactly one side moves a worker out of workerPending.
const (
	workerPending int32 = iota
	workerDone
	workerAbandoned
)

type result struct {
	err error
}

func (p *Prober) run(ctx context.Context, d plugins.Descriptor, timeout time.Duration) Outcome {
	_, span := p.tracer.Start(ctx, "probe.run", trace.WithAttributes(
		attribute.String(AttrPluginKey, string(d.Key())),
		attribute.String(AttrPluginFormat, string(d.Format)),
		attribute.Int64(AttrTimeoutMS, timeout.Milliseconds()),
	))
	defer span.End()

	start := time.Now()
	done := make(chan result, 1)
	var state atomic.Int32

	p.started.Add(1)
	go func() {
		res := p.cycle(d)
		if state.CompareAndSwap(workerPending, workerDone) {
			done <- res
			return
		}
		p.lateReturns.Add(1)
		p.logger.Warn("abandoned probe returned late",
			zap.String("plugin", string(d.Key())),
			zap.Duration("after", time.Since(start)),
			zap.NamedError("result", res.err))
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out Outcome
	select {
	case res := <-done:
		out = finished(res)
	case <-timer.C:
		if !state.CompareAndSwap(workerPending, workerAbandoned) {
			// The worker answered as the deadline fired.
			out = finished(<-done)
			break
		}
		p.abandoned.Add(1)
		out = Outcome{Status: TimedOut, Reason: fmt.Sprintf("no response within %s", timeout)}
	}
	out.Elapsed = time.Since(start)

	span.SetAttributes(attribute.String(AttrOutcome, out.Status.String()))
	if !out.OK() {
		span.SetStatus(codes.Error, out.Reason)
	}
	p.logger.Debug("probe finished",
		zap.String("plugin", string(d.Key())),
		zap.Stringer("status", out.Status),
		zap.String("reason", out.Reason),
		zap.Duration("elapsed", out.Elapsed))
	return out
}

func finished(res result) Outcome {
	if res.err != nil {
		return Outcome{Status: Failed, Reason: res.err.Error()}
	}
	return Outcome{Status: Loaded}
}

// cycle runs instantiate, prepare, release and close. Panics become errors.
func (p *Prober) cycle(d plugins.Descriptor) (res result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("plugin panicked during probe",
				zap.String("plugin", string(d.Key())),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res = result{err: fmt.Errorf("panic: %v", r)}
		}
	}()

	inst, err := p.loaders.Instantiate(d, p.sampleRate, p.blockSize)
	if err != nil {
		return result{err: err}
	}
	defer func() {
		if cerr := inst.Close(); cerr != nil {
			p.logger.Warn("close after probe failed", zap.String("plugin", string(d.Key())), zap.Error(cerr))
		}
	}()

	if inst.NumInputs() != d.NumInputs || inst.NumOutputs() != d.NumOutputs {
		p.logger.Info("instance channel layout differs from descriptor",
			zap.String("plugin", string(d.Key())),
			zap.Int("inputs", inst.NumInputs()),
			zap.Int("outputs", inst.NumOutputs()))
	}
	if err := inst.Prepare(p.sampleRate, p.blockSize); err != nil {
		return result{err: fmt.Errorf("prepare: %w", err)}
	}
	inst.Release()
	return result{}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch runs one streaming invocation per model concurrently.
//
// Each model moves through PENDING, STARTING, STREAMING and ends in
// COMPLETED or FAILED. Models never wait on each other: every model runs in
// its own goroutine and delivers its increments to the sink as they arrive.
// A model's failure, timeout or panic becomes that model's outcome and never
// cancels its siblings.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/jeranaias/manthan/internal/backend"
	"github.com/jeranaias/manthan/internal/model"
	"github.com/jeranaias/manthan/internal/sink"
)

// Job is one model's work for a turn. When HandleErr is set the model fails
// without being started.
type Job struct {
	Spec      model.InvocationSpec
	Handle    backend.Backend
	HandleErr error
}

// Key returns the model key of the job.
func (j Job) Key() string {
	return j.Spec.Descriptor.Key()
}

// Dispatcher fans jobs out and collects their outcomes.
type Dispatcher struct {
	sink    *lockedSink
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the default per-model stream timeout. Descriptors with
// their own timeout override it. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(x *Dispatcher) { x.timeout = d }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Dispatcher) { x.logger = l }
}

// New creates a dispatcher delivering to s.
func New(s sink.Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:   newLockedSink(s),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs every job and returns their outcomes in job order. It only
// fails on invalid input; model failures are reported in the outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []Job) ([]model.StreamOutcome, error) {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if seen[j.Key()] {
			return nil, fmt.Errorf("duplicate model %s in dispatch", j.Key())
		}
		seen[j.Key()] = true
	}

	for _, j := range jobs {
		d.sink.state(j.Key(), sink.StatePending)
	}

	outcomes := make([]model.StreamOutcome, len(jobs))
	var wg conc.WaitGroup
	for i, job := range jobs {
		wg.Go(func() {
			outcomes[i] = d.run(ctx, job)
		})
	}
	wg.Wait()
	return outcomes, nil
}

// run drives one model through its state machine.
func (d *Dispatcher) run(ctx context.Context, job Job) model.StreamOutcome {
	key := job.Key()
	log := d.logger.With("model", key)

	if job.HandleErr != nil || job.Handle == nil {
		err := job.HandleErr
		if err == nil {
			err = errors.New("no backend handle")
		}
		log.Warn("model not started", "error", err)
		return d.finish(key, model.StreamOutcome{
			ModelKey:    key,
			Status:      model.StatusError,
			ErrorDetail: err.Error(),
		})
	}

	timeout := d.timeout
	if job.Spec.Descriptor.Timeout > 0 {
		timeout = job.Spec.Descriptor.Timeout
	}
	var (
		mctx   context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		mctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		mctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	d.sink.state(key, sink.StateStarting)

	var acc strings.Builder
	increments := 0
	start := d.now()
	d.sink.state(key, sink.StateStreaming)

	var streamErr error
	if rec := panics.Try(func() {
		streamErr = d.stream(mctx, job, &acc, &increments)
	}); rec != nil {
		log.Error("backend panicked", "panic", rec.String())
		streamErr = fmt.Errorf("panic: %v", rec.Value)
	}

	outcome := model.StreamOutcome{
		ModelKey:   key,
		FinalText:  acc.String(),
		Elapsed:    d.now().Sub(start),
		Status:     model.StatusOK,
		Increments: increments,
	}
	if streamErr != nil {
		outcome.Status = model.StatusError
		outcome.ErrorDetail = classify(ctx, mctx, streamErr)
		log.Warn("stream failed", "error", streamErr, "partial_chars", acc.Len())
	} else {
		log.Debug("stream completed", "increments", increments, "elapsed", outcome.Elapsed)
	}
	return d.finish(key, outcome)
}

// stream opens the model's stream and forwards increments until it ends.
func (d *Dispatcher) stream(ctx context.Context, job Job, acc *strings.Builder, increments *int) error {
	s, err := job.Handle.OpenStream(ctx, job.Spec)
	if err != nil {
		return err
	}
	defer s.Close()

	// Closing the stream unblocks a Recv that does not watch ctx.
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	key := job.Key()
	for {
		delta, err := s.Recv()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if delta == "" {
			continue
		}
		acc.WriteString(delta)
		*increments++
		d.sink.increment(key, delta)
	}
}

func (d *Dispatcher) finish(key string, outcome model.StreamOutcome) model.StreamOutcome {
	if outcome.OK() {
		d.sink.state(key, sink.StateCompleted)
	} else {
		d.sink.state(key, sink.StateFailed)
	}
	d.sink.outcome(key, outcome)
	return outcome
}

// classify turns a stream error into the outcome's error detail.
func classify(parent, mctx context.Context, err error) string {
	if perr := parent.Err(); perr != nil {
		if errors.Is(perr, context.DeadlineExceeded) {
			return model.DetailTimeout
		}
		return model.DetailCanceled
	}
	if errors.Is(mctx.Err(), context.DeadlineExceeded) {
		return model.DetailTimeout
	}
	return err.Error()
}

// =============================================================================
// SINK SERIALIZATION
// =============================================================================

// lockedSink serializes calls into the sink so a delta is never interleaved
// with another model's delta.
type lockedSink struct {
	mu  sync.Mutex
	s   sink.Sink
	obs sink.StateObserver
}

func newLockedSink(s sink.Sink) *lockedSink {
	if s == nil {
		s = sink.Discard{}
	}
	obs, _ := s.(sink.StateObserver)
	return &lockedSink{s: s, obs: obs}
}

func (l *lockedSink) increment(key, delta string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s.OnIncrement(key, delta)
}

func (l *lockedSink) outcome(key string, o model.StreamOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s.OnOutcome(key, o)
}

func (l *lockedSink) state(key string, st sink.StreamState) {
	if l.obs == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.obs.OnState(key, st)
}

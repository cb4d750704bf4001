// Package dispatch sends routed segments to the cloud engine without
// blocking the live pipeline. Each dispatch runs in its own goroutine
// under a bounded timeout with one shorter retry; results come back as
// corrections keyed by sequence number.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livespeak-labs/livespeak-core/internal/audio"
	"github.com/livespeak-labs/livespeak-core/internal/config"
	"github.com/livespeak-labs/livespeak-core/internal/engine"
)

// Correction is a cloud result delivered back to the caption pipeline.
type Correction struct {
	SessionID  string
	SequenceNo uint64
	Text       string
	LatencyMS  int64
}

// Counters snapshot the dispatcher's bookkeeping.
type Counters struct {
	Dispatched  uint64
	Failures    uint64
	Corrections uint64
}

// Dispatcher owns cloud calls and the network availability signal. The
// decision engine consults Available before routing; availability flips
// off for a cooldown window after a run of consecutive failures, then
// recovers optimistically.
type Dispatcher struct {
	cloud   engine.CloudTranscriber
	timeout time.Duration
	retry   time.Duration

	failureThreshold int
	cooldown         time.Duration

	onCorrection func(Correction)
	log          *slog.Logger
	clock        func() time.Time

	mu               sync.Mutex
	consecutiveFails int
	unavailableUntil time.Time

	dispatched  atomic.Uint64
	failures    atomic.Uint64
	corrections atomic.Uint64

	wg sync.WaitGroup
}

// New creates a dispatcher. onCorrection runs on dispatch goroutines;
// it must be safe for concurrent use and must not block for long.
func New(cloud engine.CloudTranscriber, cfg config.CloudConfig, onCorrection func(Correction), log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cloud:            cloud,
		timeout:          time.Duration(cfg.TimeoutMS) * time.Millisecond,
		retry:            time.Duration(cfg.RetryTimeoutMS) * time.Millisecond,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         time.Duration(cfg.CooldownMS) * time.Millisecond,
		onCorrection:     onCorrection,
		log:              log,
		clock:            time.Now,
	}
}

// Available reports whether the cloud engine is currently considered
// reachable.
func (d *Dispatcher) Available() bool {
	if d.cloud == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.clock().Before(d.unavailableUntil)
}

// Dispatch sends one segment to the cloud engine asynchronously. ctx is
// the session context: stopping the session cancels in-flight calls.
func (d *Dispatcher) Dispatch(ctx context.Context, seg audio.Segment) {
	d.dispatched.Add(1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx, seg)
	}()
}

// Wait blocks until all in-flight dispatches have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Counters returns a snapshot of dispatch totals.
func (d *Dispatcher) Counters() Counters {
	return Counters{
		Dispatched:  d.dispatched.Load(),
		Failures:    d.failures.Load(),
		Corrections: d.corrections.Load(),
	}
}

func (d *Dispatcher) run(ctx context.Context, seg audio.Segment) {
	start := d.clock()

	res, err := d.attempt(ctx, seg, d.timeout)
	if err != nil {
		if ctx.Err() != nil {
			// Session stopped; not a network failure.
			return
		}
		res, err = d.attempt(ctx, seg, d.retry)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.failures.Add(1)
		d.recordFailure()
		d.log.Warn("cloud transcription failed",
			slog.String("session_id", seg.SessionID),
			slog.Uint64("sequence_no", seg.SequenceNo),
			slog.String("error", err.Error()))
		return
	}

	d.recordSuccess()
	if res.Text == "" {
		return
	}
	d.corrections.Add(1)
	if d.onCorrection != nil {
		d.onCorrection(Correction{
			SessionID:  seg.SessionID,
			SequenceNo: seg.SequenceNo,
			Text:       res.Text,
			LatencyMS:  d.clock().Sub(start).Milliseconds(),
		})
	}
}

func (d *Dispatcher) attempt(ctx context.Context, seg audio.Segment, timeout time.Duration) (engine.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.cloud.Transcribe(callCtx, seg)
}

func (d *Dispatcher) recordFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveFails++
	if d.failureThreshold > 0 && d.consecutiveFails >= d.failureThreshold {
		d.unavailableUntil = d.clock().Add(d.cooldown)
		d.consecutiveFails = 0
		d.log.Info("cloud engine marked unavailable",
			slog.Duration("cooldown", d.cooldown))
	}
}

func (d *Dispatcher) recordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveFails = 0
}

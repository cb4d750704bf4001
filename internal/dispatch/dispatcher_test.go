package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/livespeak-labs/livespeak-core/internal/audio"
	"github.com/livespeak-labs/livespeak-core/internal/config"
	"github.com/livespeak-labs/livespeak-core/internal/engine"
)

type fakeCloud struct {
	mu      sync.Mutex
	calls   int
	results []func() (engine.Result, error)
}

func (f *fakeCloud) Transcribe(ctx context.Context, seg audio.Segment) (engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i]()
}

func (f *fakeCloud) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ok(text string) func() (engine.Result, error) {
	return func() (engine.Result, error) {
		return engine.Result{Engine: engine.SourceCloud, Text: text}, nil
	}
}

func fail() func() (engine.Result, error) {
	return func() (engine.Result, error) {
		return engine.Result{}, errors.New("upstream unavailable")
	}
}

func testConfig() config.CloudConfig {
	return config.CloudConfig{
		TimeoutMS:        200,
		RetryTimeoutMS:   100,
		FailureThreshold: 3,
		CooldownMS:       5000,
	}
}

func newTestDispatcher(cloud engine.CloudTranscriber, onCorrection func(Correction)) *Dispatcher {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cloud, testConfig(), onCorrection, log)
}

func segment(seq uint64) audio.Segment {
	return audio.Segment{SessionID: "sess", SequenceNo: seq, Samples: make([]int16, 3200)}
}

func TestDispatchDeliversCorrection(t *testing.T) {
	var mu sync.Mutex
	var got []Correction
	d := newTestDispatcher(
		&fakeCloud{results: []func() (engine.Result, error){ok("cloud text")}},
		func(c Correction) {
			mu.Lock()
			got = append(got, c)
			mu.Unlock()
		})

	d.Dispatch(context.Background(), segment(7))
	d.Wait()

	if len(got) != 1 {
		t.Fatalf("expected one correction, got %d", len(got))
	}
	if got[0].SequenceNo != 7 || got[0].Text != "cloud text" {
		t.Fatalf("unexpected correction: %+v", got[0])
	}
	if c := d.Counters(); c.Dispatched != 1 || c.Corrections != 1 || c.Failures != 0 {
		t.Fatalf("unexpected counters: %+v", c)
	}
}

func TestDispatchRetriesOnceThenSucceeds(t *testing.T) {
	cloud := &fakeCloud{results: []func() (engine.Result, error){fail(), ok("second try")}}
	var mu sync.Mutex
	var got []Correction
	d := newTestDispatcher(cloud, func(c Correction) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})

	d.Dispatch(context.Background(), segment(1))
	d.Wait()

	if cloud.callCount() != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", cloud.callCount())
	}
	if len(got) != 1 || got[0].Text != "second try" {
		t.Fatalf("retry result not delivered: %+v", got)
	}
	if d.Counters().Failures != 0 {
		t.Fatalf("successful retry must not count as failure")
	}
}

func TestDispatchFailureAfterRetry(t *testing.T) {
	cloud := &fakeCloud{results: []func() (engine.Result, error){fail()}}
	var corrections int
	d := newTestDispatcher(cloud, func(Correction) { corrections++ })

	d.Dispatch(context.Background(), segment(1))
	d.Wait()

	if cloud.callCount() != 2 {
		t.Fatalf("expected retry before giving up, got %d attempts", cloud.callCount())
	}
	if corrections != 0 {
		t.Fatalf("failed dispatch must not deliver a correction")
	}
	if d.Counters().Failures != 1 {
		t.Fatalf("expected one recorded failure, got %d", d.Counters().Failures)
	}
}

func TestAvailabilityCooldownAfterConsecutiveFailures(t *testing.T) {
	cloud := &fakeCloud{results: []func() (engine.Result, error){fail()}}
	d := newTestDispatcher(cloud, nil)

	now := time.Unix(1000, 0)
	d.clock = func() time.Time { return now }

	if !d.Available() {
		t.Fatalf("dispatcher must start available")
	}
	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), segment(uint64(i)))
	}
	d.Wait()

	if d.Available() {
		t.Fatalf("expected unavailable after %d consecutive failures", testConfig().FailureThreshold)
	}

	// Cooldown elapses, availability recovers optimistically.
	now = now.Add(6 * time.Second)
	if !d.Available() {
		t.Fatalf("expected available again after cooldown")
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	cloud := &fakeCloud{results: []func() (engine.Result, error){
		fail(), fail(), // dispatch 1: attempt + retry fail
		fail(), fail(), // dispatch 2
		ok("recovered"), // dispatch 3 succeeds on first attempt
		fail(), fail(), // dispatch 4 fails again
	}}
	d := newTestDispatcher(cloud, func(Correction) {})

	for i := 0; i < 4; i++ {
		d.Dispatch(context.Background(), segment(uint64(i)))
		d.Wait()
	}

	// Streak was 2, reset by success, then 1: threshold of 3 never hit.
	if !d.Available() {
		t.Fatalf("a success mid-streak must reset the failure count")
	}
}

func TestSessionStopCancelsInFlight(t *testing.T) {
	cloud := &fakeCloud{results: []func() (engine.Result, error){fail()}}
	d := newTestDispatcher(cloud, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, segment(1))
	d.Wait()

	if d.Counters().Failures != 0 {
		t.Fatalf("cancelled dispatch must not count as a network failure")
	}
	if !d.Available() {
		t.Fatalf("cancellation must not trip the cooldown")
	}
}

func TestNilCloudIsNeverAvailable(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	d.cloud = nil
	if d.Available() {
		t.Fatalf("dispatcher without a cloud engine must report unavailable")
	}
}

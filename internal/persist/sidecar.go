package persist

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	writeTimeout = 2 * time.Second
	drainTimeout = 3 * time.Second
)

type opKind int

const (
	opSessionStart opKind = iota
	opSessionEnd
	opCaption
	opDecision
	opJargon
)

type op struct {
	kind      opKind
	sessionID string
	at        time.Time
	caption   CaptionRecord
	decision  DecisionRecord
	edgeText  string
	cloudText string
}

// Sidecar decouples the caption pipeline from storage latency. Writes
// are enqueued without blocking; when the bounded queue is full the
// oldest pending write is dropped and counted. Persistence failures
// never propagate back into the pipeline.
type Sidecar struct {
	store *Store
	log   *slog.Logger

	mu     sync.Mutex
	queue  []op
	cap    int
	closed bool

	notify  chan struct{}
	dropped atomic.Uint64

	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
}

// NewSidecar starts the writer pool. workers and queueSize fall back to
// safe minimums when non-positive.
func NewSidecar(store *Store, queueSize, workers int, log *slog.Logger) *Sidecar {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sidecar{
		store:  store,
		log:    log,
		cap:    queueSize,
		notify: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// SessionStarted enqueues a session-start row.
func (s *Sidecar) SessionStarted(sessionID string, at time.Time) {
	s.enqueue(op{kind: opSessionStart, sessionID: sessionID, at: at})
}

// SessionEnded enqueues a session-end stamp.
func (s *Sidecar) SessionEnded(sessionID string, at time.Time) {
	s.enqueue(op{kind: opSessionEnd, sessionID: sessionID, at: at})
}

// Caption enqueues a finalized or corrected caption row.
func (s *Sidecar) Caption(rec CaptionRecord) {
	s.enqueue(op{kind: opCaption, caption: rec})
}

// Decision enqueues a routing decision row.
func (s *Sidecar) Decision(rec DecisionRecord) {
	s.enqueue(op{kind: opDecision, decision: rec})
}

// Jargon enqueues an edge/cloud disagreement observation.
func (s *Sidecar) Jargon(edgeText, cloudText string, at time.Time) {
	s.enqueue(op{kind: opJargon, edgeText: edgeText, cloudText: cloudText, at: at})
}

// Dropped reports how many writes were discarded under backpressure.
func (s *Sidecar) Dropped() uint64 {
	return s.dropped.Load()
}

// Pending reports the current queue depth.
func (s *Sidecar) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops accepting writes, drains the remaining queue best-effort
// within a bounded window and waits for the workers.
func (s *Sidecar) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Sidecar) enqueue(o op) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.cap {
		// Oldest write loses; the live pipeline never waits on storage.
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.dropped.Add(1)
	}
	s.queue = append(s.queue, o)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Sidecar) pop() (op, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return op{}, false
	}
	o := s.queue[0]
	copy(s.queue, s.queue[1:])
	s.queue = s.queue[:len(s.queue)-1]
	return o, true
}

func (s *Sidecar) worker() {
	defer s.wg.Done()
	for {
		if o, ok := s.pop(); ok {
			s.apply(o)
			continue
		}
		select {
		case <-s.ctx.Done():
			s.drain()
			return
		case <-s.notify:
		}
	}
}

// drain flushes whatever is left after shutdown begins, bounded so a
// wedged database cannot hold up process exit.
func (s *Sidecar) drain() {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		o, ok := s.pop()
		if !ok {
			return
		}
		s.apply(o)
	}
	if n := s.Pending(); n > 0 {
		s.log.Warn("sidecar drain deadline reached", slog.Int("pending", n))
	}
}

func (s *Sidecar) apply(o op) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch o.kind {
	case opSessionStart:
		err = s.store.StartSession(ctx, o.sessionID, o.at)
	case opSessionEnd:
		err = s.store.EndSession(ctx, o.sessionID, o.at)
	case opCaption:
		err = s.store.AppendCaption(ctx, o.caption)
	case opDecision:
		err = s.store.AppendDecision(ctx, o.decision)
	case opJargon:
		err = s.store.RecordJargon(ctx, o.edgeText, o.cloudText, o.at)
	}
	if err != nil {
		s.log.Warn("sidecar write failed",
			slog.Int("kind", int(o.kind)),
			slog.String("error", err.Error()))
	}
}

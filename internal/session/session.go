// Package session runs one caption pipeline per capture session:
// segmentation, quality scoring, edge transcription, routing, cloud
// dispatch and caption consolidation. The merger and all its inputs are
// driven by a single goroutine per session; cloud results re-enter
// through a channel rather than touching the merger directly.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livespeak-labs/livespeak-core/internal/audio"
	"github.com/livespeak-labs/livespeak-core/internal/caption"
	"github.com/livespeak-labs/livespeak-core/internal/config"
	"github.com/livespeak-labs/livespeak-core/internal/dispatch"
	"github.com/livespeak-labs/livespeak-core/internal/engine"
	"github.com/livespeak-labs/livespeak-core/internal/export"
	"github.com/livespeak-labs/livespeak-core/internal/persist"
	"github.com/livespeak-labs/livespeak-core/internal/protocol"
	"github.com/livespeak-labs/livespeak-core/internal/routing"
)

const (
	segmentBuffer    = 8
	correctionBuffer = 32
	exportTimeout    = 5 * time.Second
)

// Deps are the shared collaborators a session is wired with.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Edge     engine.EdgeTranscriber
	Cloud    engine.CloudTranscriber
	Sidecar  *persist.Sidecar
	Exporter *export.Publisher

	// Publish fans one stream event out to subscribers. Must not block.
	Publish func(ev protocol.Event)
}

// Session is one live captioning session.
type Session struct {
	id        string
	deps      Deps
	log       *slog.Logger
	startedAt time.Time

	segmenter  *audio.Segmenter
	estimator  audio.Estimator
	dispatcher *dispatch.Dispatcher
	dumper     *audio.WAVDumper
	metrics    *pipelineMetrics

	// mu guards the merger; ops run on the pipeline goroutine, reads
	// come from stream clients asking for history or stats.
	mu     sync.Mutex
	merger *caption.Merger

	corrections chan dispatch.Correction

	// Last measured values for the open caption window, carried into the
	// finalized row. Only the pipeline goroutine touches these.
	windowConfidence float64
	windowNoise      float64

	segments  atomic.Uint64
	edgeOnly  atomic.Uint64
	cloudSent atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	sideWG   sync.WaitGroup
	stopOnce sync.Once
}

func newSession(id string, deps Deps) *Session {
	cfg := deps.Config
	log := deps.Log.With(slog.String("session_id", id))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          id,
		deps:        deps,
		log:         log,
		startedAt:   time.Now(),
		segmenter:   audio.NewSegmenter(id, cfg.Capture.SampleRate, cfg.Capture.SegmentMS, segmentBuffer),
		estimator:   audio.Estimator{ZCRWeight: cfg.Quality.ZCRWeight, RMSRef: cfg.Quality.RMSRef},
		corrections: make(chan dispatch.Correction, correctionBuffer),
		ctx:         ctx,
		cancel:      cancel,
		loopDone:    make(chan struct{}),
	}
	s.merger = caption.New(cfg.Merger.HistorySize, cfg.Merger.CorrectionWaitCycles, s.onMergerEvent, log)
	s.dispatcher = dispatch.New(deps.Cloud, cfg.Cloud, s.onCorrection, log)
	if cfg.Capture.DebugWAV {
		s.dumper = audio.NewWAVDumper(cfg.Capture.DebugDir, cfg.Capture.SampleRate, cfg.Capture.DebugWAVS, log)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// PushAudio feeds captured samples into the pipeline. Blocks when the
// pipeline falls behind, which backpressures the capture source.
func (s *Session) PushAudio(ctx context.Context, samples []int16) error {
	s.dumper.Append(s.id, samples)
	return s.segmenter.Push(ctx, samples)
}

// History returns the current caption timeline, oldest first.
func (s *Session) History() []caption.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merger.History()
}

// Stats snapshots the session's counters.
func (s *Session) Stats() protocol.StatsEvent {
	s.mu.Lock()
	mc := s.merger.Counters()
	s.mu.Unlock()
	dc := s.dispatcher.Counters()

	total := s.segments.Load()
	stats := protocol.StatsEvent{
		SegmentsTotal:        total,
		CorrectionsApplied:   mc.CorrectionsApplied,
		CorrectionsDiscarded: mc.CorrectionsDiscarded,
		DroppedWrites:        s.deps.Sidecar.Dropped(),
		Timestamp:            time.Now(),
	}
	if routed := s.edgeOnly.Load() + s.cloudSent.Load(); routed > 0 {
		stats.EdgePercent = 100 * float64(s.edgeOnly.Load()) / float64(routed)
		stats.CloudPercent = 100 * float64(s.cloudSent.Load()) / float64(routed)
	}
	if dc.Dispatched > 0 {
		stats.CloudSuccessRate = float64(dc.Dispatched-dc.Failures) / float64(dc.Dispatched)
	}
	return stats
}

// Stop flushes buffered audio, finalizes the open caption window,
// cancels in-flight cloud calls and reports final stats.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.segmenter.Flush(flushCtx); err != nil {
			s.log.Warn("segment flush failed", slog.String("error", err.Error()))
		}
		cancel()
		s.segmenter.Close()
		<-s.loopDone

		s.cancel()
		s.dispatcher.Wait()
		s.sideWG.Wait()

		s.deps.Sidecar.SessionEnded(s.id, time.Now())
		s.publish(protocol.Event{
			Type:      protocol.EventTypeStats,
			SessionID: s.id,
			Stats:     ptr(s.Stats()),
		})
		s.log.Info("session stopped",
			slog.Uint64("segments", s.segments.Load()),
			slog.Duration("duration", time.Since(s.startedAt)))
	})
}

// run is the pipeline goroutine. It owns the merger: segments and cloud
// corrections are serialized here.
func (s *Session) run() {
	defer close(s.loopDone)
	segments := s.segmenter.Segments()
	for {
		select {
		case seg, ok := <-segments:
			if !ok {
				s.drainCorrections()
				s.mu.Lock()
				s.merger.FinalizeWindow()
				s.mu.Unlock()
				return
			}
			s.handleSegment(seg)
		case c := <-s.corrections:
			s.metrics.recordCorrection(s.ctx)
			s.mu.Lock()
			s.merger.ApplyCorrection(c.SequenceNo, c.Text)
			s.mu.Unlock()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) handleSegment(seg audio.Segment) {
	s.segments.Add(1)
	s.metrics.recordSegment(s.ctx)
	metrics := s.estimator.Measure(seg.Samples)

	// A silent segment is a voice-activity boundary: it commits the
	// open caption window and is never transcribed or routed.
	if metrics.RMS < s.deps.Config.Capture.SilenceRMS {
		s.mu.Lock()
		s.merger.FinalizeWindow()
		s.mu.Unlock()
		return
	}

	edgeCtx := s.ctx
	if ms := s.deps.Config.Edge.TimeoutMS; ms > 0 {
		var cancel context.CancelFunc
		edgeCtx, cancel = context.WithTimeout(s.ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}
	res, err := s.deps.Edge.Transcribe(edgeCtx, seg)
	if err != nil {
		// Degraded edge result: empty text, zero confidence. Routing
		// below will ask the cloud for help if it is reachable.
		s.log.Debug("edge transcription failed",
			slog.Uint64("sequence_no", seg.SequenceNo),
			slog.String("error", err.Error()))
		res = engine.Result{SequenceNo: seg.SequenceNo, Engine: engine.SourceEdge}
	}
	confidence := engine.Confidence(res.TokenLogprobs)

	decision := routing.Decide(seg.SequenceNo, confidence, metrics.NoiseScore, s.dispatcher.Available(), routing.Thresholds{
		Confidence: s.deps.Config.Routing.ConfidenceThreshold,
		Noise:      s.deps.Config.Routing.NoiseThreshold,
	})
	s.deps.Sidecar.Decision(persist.DecisionRecord{
		SessionID:  s.id,
		SequenceNo: decision.SequenceNo,
		Route:      decision.Route.String(),
		Reason:     decision.Reason.String(),
		Confidence: decision.Confidence,
		NoiseScore: decision.NoiseScore,
	})

	s.windowConfidence = confidence
	s.windowNoise = metrics.NoiseScore

	s.metrics.recordRoute(s.ctx, decision.Route.String())
	if decision.Route == routing.RouteToCloud {
		s.cloudSent.Add(1)
		s.dispatcher.Dispatch(s.ctx, seg)
	} else {
		s.edgeOnly.Add(1)
	}

	s.mu.Lock()
	s.merger.ApplyPartial(seg.SequenceNo, res.Text, caption.SourceEdge)
	s.mu.Unlock()
}

// onCorrection runs on dispatcher goroutines and hands the result to
// the pipeline goroutine.
func (s *Session) onCorrection(c dispatch.Correction) {
	select {
	case s.corrections <- c:
	case <-s.ctx.Done():
	}
}

func (s *Session) drainCorrections() {
	for {
		select {
		case c := <-s.corrections:
			s.mu.Lock()
			s.merger.ApplyCorrection(c.SequenceNo, c.Text)
			s.mu.Unlock()
		default:
			return
		}
	}
}

// onMergerEvent translates merger output into stream events, storage
// writes and export records. Runs under s.mu on the pipeline goroutine.
func (s *Session) onMergerEvent(ev caption.OutEvent) {
	ce := &protocol.CaptionEvent{
		SequenceNo: ev.Entry.SequenceNo,
		Text:       ev.Entry.Text,
		Source:     string(ev.Entry.Source),
		State:      ev.Entry.State.String(),
		Timestamp:  ev.Entry.Timestamp,
	}
	s.publish(protocol.Event{Type: protocol.EventTypeCaption, SessionID: s.id, Caption: ce})

	switch ev.Kind {
	case caption.OutFinal:
		s.persistFinal(ev.Entry, false)
	case caption.OutCorrection:
		s.persistFinal(ev.Entry, true)
		s.deps.Sidecar.Jargon(ev.PrevText, ev.Entry.Text, ev.Entry.Timestamp)
	}
}

func (s *Session) persistFinal(e caption.Entry, corrected bool) {
	rec := persist.CaptionRecord{
		SessionID:  s.id,
		SequenceNo: e.SequenceNo,
		Timestamp:  e.Timestamp,
		Text:       e.Text,
		Source:     string(e.Source),
	}
	if !corrected {
		// Correction rows come from the remote engine, which reports no
		// confidence; the window's measurements stay on the edge row.
		rec.Confidence = s.windowConfidence
		rec.NoiseScore = s.windowNoise
	}
	s.deps.Sidecar.Caption(rec)
	if s.deps.Exporter == nil {
		return
	}
	exp := export.FinalCaption{
		SessionID:  s.id,
		SequenceNo: e.SequenceNo,
		Text:       e.Text,
		Source:     string(e.Source),
		Corrected:  corrected,
		Timestamp:  e.Timestamp,
	}
	// Kafka writes happen off the pipeline goroutine.
	s.sideWG.Add(1)
	go func() {
		defer s.sideWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if err := s.deps.Exporter.PublishFinal(ctx, exp); err != nil {
			s.log.Warn("caption export failed",
				slog.Uint64("sequence_no", exp.SequenceNo),
				slog.String("error", err.Error()))
		}
	}()
}

func (s *Session) publish(ev protocol.Event) {
	if s.deps.Publish != nil {
		s.deps.Publish(ev)
	}
}

func ptr[T any](v T) *T {
	return &v
}

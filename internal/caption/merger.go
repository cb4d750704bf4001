// Package caption consolidates local and remote transcription results
// into an ordered, flicker-free caption timeline. The merger is a
// single-threaded state machine: all events (partials, window
// finalizations, corrections) are applied by one goroutine, and the
// entry history is owned exclusively by the merger.
package caption

import (
	"log/slog"
	"time"
)

// Source identifies where a caption entry's text came from.
type Source string

const (
	SourceEdge   Source = "EDGE"
	SourceCloud  Source = "CLOUD"
	SourceWindow Source = "WINDOW"
)

// State is the lifecycle state of a caption entry.
type State int

const (
	// StateLive entries are mutable and displayed as in-progress.
	StateLive State = iota
	// StateFinal entries are immutable except for one permitted
	// correction matching their sequence range.
	StateFinal
)

func (s State) String() string {
	if s == StateLive {
		return "LIVE"
	}
	return "FINAL"
}

// Entry is one caption timeline entry. A live entry covers every segment
// merged since the window opened: SequenceNo is the first segment of the
// window and LastSequenceNo the most recent one.
type Entry struct {
	SequenceNo     uint64
	LastSequenceNo uint64
	Text           string
	Source         Source
	State          State
	Timestamp      time.Time

	corrected bool
}

func (e Entry) covers(seq uint64) bool {
	return seq >= e.SequenceNo && seq <= e.LastSequenceNo
}

// OutKind tags merger output events.
type OutKind int

const (
	OutLive OutKind = iota
	OutFinal
	OutCorrection
)

// OutEvent is emitted by the merger whenever the visible timeline
// changes. PrevText is set for corrections so disagreements between edge
// and cloud can be recorded downstream.
type OutEvent struct {
	Kind     OutKind
	Entry    Entry
	PrevText string
}

// Counters aggregate merger bookkeeping, exposed through stats events.
type Counters struct {
	Partials             uint64
	Finalized            uint64
	CorrectionsApplied   uint64
	CorrectionsDiscarded uint64
	CorrectionReplays    uint64
}

type pendingCorrection struct {
	text       string
	cyclesLeft int
}

// Merger holds the single live slot, the bounded FIFO history ring and
// the queue of corrections waiting for their live target to finalize.
type Merger struct {
	historySize int
	waitCycles  int

	live    *Entry
	history []Entry
	pending map[uint64]*pendingCorrection

	sink     func(OutEvent)
	log      *slog.Logger
	counters Counters
	clock    func() time.Time
}

// New creates a merger. sink receives every timeline change; it runs on
// the merger's goroutine and must not block.
func New(historySize, waitCycles int, sink func(OutEvent), log *slog.Logger) *Merger {
	if historySize <= 0 {
		historySize = 100
	}
	return &Merger{
		historySize: historySize,
		waitCycles:  waitCycles,
		pending:     make(map[uint64]*pendingCorrection),
		sink:        sink,
		log:         log,
		clock:       time.Now,
	}
}

// ApplyPartial replaces the live entry in place with a new partial
// result; there is never more than one live entry. Empty partials do not
// erase existing live text.
func (m *Merger) ApplyPartial(seq uint64, text string, source Source) {
	m.counters.Partials++
	m.agePending()

	if m.live == nil {
		m.live = &Entry{
			SequenceNo:     seq,
			LastSequenceNo: seq,
			Source:         source,
			State:          StateLive,
		}
	}
	if seq > m.live.LastSequenceNo {
		m.live.LastSequenceNo = seq
	}
	if text != "" {
		m.live.Text = text
		m.live.Source = source
	}
	m.live.Timestamp = m.clock()
	m.emit(OutEvent{Kind: OutLive, Entry: *m.live})
}

// FinalizeWindow transitions the current live entry to FINAL, appends it
// to history and opens a fresh live slot. Triggered by a silence window
// or an external voice-activity boundary. A live entry without text is
// dropped silently, matching the commit-on-silence behavior.
func (m *Merger) FinalizeWindow() {
	if m.live == nil {
		return
	}
	entry := *m.live
	m.live = nil
	if entry.Text == "" {
		return
	}
	entry.State = StateFinal
	entry.Timestamp = m.clock()
	m.appendHistory(entry)
	m.counters.Finalized++
	m.emit(OutEvent{Kind: OutFinal, Entry: entry})

	// A correction that was waiting for this window applies now.
	for seq, p := range m.pending {
		if entry.covers(seq) {
			delete(m.pending, seq)
			m.ApplyCorrection(seq, p.text)
		}
	}
}

// ApplyCorrection applies a remote result to the entry covering seq.
// Final entries are corrected in place exactly once; a replay of the
// same correction is a no-op. A correction matching the live entry is
// queued for a bounded number of cycles rather than overwriting
// in-progress text. A correction with no target is discarded.
func (m *Merger) ApplyCorrection(seq uint64, text string) {
	if m.live != nil && m.live.covers(seq) {
		if m.waitCycles <= 0 {
			m.discardCorrection(seq, "target still live")
			return
		}
		m.pending[seq] = &pendingCorrection{text: text, cyclesLeft: m.waitCycles}
		return
	}

	for i := len(m.history) - 1; i >= 0; i-- {
		e := &m.history[i]
		if !e.covers(seq) {
			continue
		}
		if e.corrected {
			// Already replaced once; the entry is immutable now.
			m.counters.CorrectionReplays++
			return
		}
		prev := e.Text
		e.Text = text
		e.Source = SourceCloud
		e.corrected = true
		m.counters.CorrectionsApplied++
		m.emit(OutEvent{Kind: OutCorrection, Entry: *e, PrevText: prev})
		return
	}

	m.discardCorrection(seq, "no matching entry in retention window")
}

// History returns a copy of the finalized entries, oldest first, with
// the live entry appended when present.
func (m *Merger) History() []Entry {
	out := make([]Entry, 0, len(m.history)+1)
	out = append(out, m.history...)
	if m.live != nil {
		out = append(out, *m.live)
	}
	return out
}

// Counters returns a snapshot of the merger's bookkeeping.
func (m *Merger) Counters() Counters {
	return m.counters
}

func (m *Merger) appendHistory(e Entry) {
	if len(m.history) >= m.historySize {
		// FIFO eviction; correction lookups only cover the retained tail.
		copy(m.history, m.history[1:])
		m.history = m.history[:len(m.history)-1]
	}
	m.history = append(m.history, e)
}

// agePending decrements pending correction budgets once per segmentation
// cycle (each new partial) and discards a correction the moment its
// budget is exhausted. waitCycles of 1 means the target must finalize
// before the next partial arrives.
func (m *Merger) agePending() {
	for seq, p := range m.pending {
		p.cyclesLeft--
		if p.cyclesLeft <= 0 {
			delete(m.pending, seq)
			m.discardCorrection(seq, "live target did not finalize in time")
		}
	}
}

func (m *Merger) discardCorrection(seq uint64, reason string) {
	m.counters.CorrectionsDiscarded++
	if m.log != nil {
		m.log.Debug("correction discarded",
			slog.Uint64("sequence_no", seq),
			slog.String("reason", reason))
	}
}

func (m *Merger) emit(ev OutEvent) {
	if m.sink != nil {
		m.sink(ev)
	}
}

package audio

import (
	"context"
	"time"
)

// Segment is a fixed-duration slice of mono PCM audio, the unit of work
// for the whole pipeline. Immutable once produced; SequenceNo is the sole
// ordering key within a session.
type Segment struct {
	SessionID  string
	SequenceNo uint64
	Samples    []int16
	StartedAt  time.Time
	Duration   time.Duration
}

// Segmenter slices an unbounded sample stream into fixed-duration
// segments at fixed boundaries. It never drops samples: Push blocks when
// the downstream consumer falls behind, which is the backpressure
// contract towards the capture source.
type Segmenter struct {
	sessionID  string
	sampleRate int
	segmentDur time.Duration
	perSegment int
	seq        uint64
	buf        []int16
	segStart   time.Time
	out        chan Segment
	clock      func() time.Time
}

// NewSegmenter creates a segmenter for one session. bufferedSegments
// bounds how far segmentation may run ahead of the consumer before Push
// starts blocking.
func NewSegmenter(sessionID string, sampleRate, segmentMS, bufferedSegments int) *Segmenter {
	if bufferedSegments < 0 {
		bufferedSegments = 0
	}
	return &Segmenter{
		sessionID:  sessionID,
		sampleRate: sampleRate,
		segmentDur: time.Duration(segmentMS) * time.Millisecond,
		perSegment: sampleRate * segmentMS / 1000,
		out:        make(chan Segment, bufferedSegments),
		clock:      time.Now,
	}
}

// Segments returns the ordered segment stream. Closed by Close.
func (s *Segmenter) Segments() <-chan Segment {
	return s.out
}

// Push appends captured samples and emits every completed segment. The
// send blocks until the consumer keeps up or ctx is cancelled.
func (s *Segmenter) Push(ctx context.Context, samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	if len(s.buf) == 0 {
		s.segStart = s.clock()
	}
	s.buf = append(s.buf, samples...)
	for len(s.buf) >= s.perSegment {
		seg := s.cut(s.perSegment, s.segmentDur)
		select {
		case s.out <- seg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Flush emits any buffered remainder as a short trailing segment. Called
// at session end so no samples are lost.
func (s *Segmenter) Flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	n := len(s.buf)
	dur := time.Duration(n) * time.Second / time.Duration(s.sampleRate)
	seg := s.cut(n, dur)
	select {
	case s.out <- seg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the segment stream. Push must not be called afterwards.
func (s *Segmenter) Close() {
	close(s.out)
}

// Reset rebinds the segmenter to a new session, restarting the sequence.
func (s *Segmenter) Reset(sessionID string) {
	s.sessionID = sessionID
	s.seq = 0
	s.buf = s.buf[:0]
}

func (s *Segmenter) cut(n int, dur time.Duration) Segment {
	samples := make([]int16, n)
	copy(samples, s.buf[:n])
	s.buf = s.buf[n:]

	seg := Segment{
		SessionID:  s.sessionID,
		SequenceNo: s.seq,
		Samples:    samples,
		StartedAt:  s.segStart,
		Duration:   dur,
	}
	s.seq++
	s.segStart = s.segStart.Add(dur)
	return seg
}

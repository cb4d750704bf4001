package engine

import (
	"context"
	"fmt"

	"github.com/livespeak-labs/livespeak-core/internal/audio"
)

type mockEdge struct{}

// NewMockEdge returns a deterministic edge engine for development and
// tests.
func NewMockEdge() EdgeTranscriber {
	return &mockEdge{}
}

func (m *mockEdge) Transcribe(_ context.Context, seg audio.Segment) (Result, error) {
	logprobs := []float64{-0.05, -0.1, -0.15}
	return Result{
		SequenceNo:    seg.SequenceNo,
		Engine:        SourceEdge,
		Text:          fmt.Sprintf("[edge seq=%d samples=%d]", seg.SequenceNo, len(seg.Samples)),
		TokenLogprobs: logprobs,
		Confidence:    Confidence(logprobs),
	}, nil
}

type mockCloud struct{}

// NewMockCloud returns a deterministic cloud engine for development and
// tests. It never fails and carries no token logprobs.
func NewMockCloud() CloudTranscriber {
	return &mockCloud{}
}

func (m *mockCloud) Transcribe(_ context.Context, seg audio.Segment) (Result, error) {
	return Result{
		SequenceNo: seg.SequenceNo,
		Engine:     SourceCloud,
		Text:       fmt.Sprintf("[cloud seq=%d samples=%d]", seg.SequenceNo, len(seg.Samples)),
	}, nil
}

// Package engine defines the transcription collaborators: the local edge
// engine and the remote cloud engine. Both are black boxes that accept a
// segment of audio and return text; the pipeline never mutates a Result.
package engine

import (
	"context"
	"encoding/binary"

	"github.com/livespeak-labs/livespeak-core/internal/audio"
)

// Source identifies which engine produced a result.
type Source string

const (
	SourceEdge  Source = "EDGE"
	SourceCloud Source = "CLOUD"
)

// Result is one engine's transcription of one segment. TokenLogprobs is
// populated by edge engines only; Confidence is computed from it and is
// meaningless for cloud results (never defaulted, never routed on).
type Result struct {
	SequenceNo    uint64
	Engine        Source
	Text          string
	TokenLogprobs []float64
	Confidence    float64
	LatencyMS     int64
}

// EdgeTranscriber is the local, offline engine. It is expected to return
// within the segment duration budget; callers degrade failures to an
// empty-text, zero-confidence result.
type EdgeTranscriber interface {
	Transcribe(ctx context.Context, seg audio.Segment) (Result, error)
}

// CloudTranscriber is the network-dependent, higher-accuracy engine. It
// may fail; a failure yields no correction, never a pipeline fault.
type CloudTranscriber interface {
	Transcribe(ctx context.Context, seg audio.Segment) (Result, error)
}

// PCMBytes encodes samples as little-endian 16-bit PCM, the payload
// format both engine transports consume.
func PCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

package engine

import (
	"context"
	"fmt"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/livespeak-labs/livespeak-core/internal/audio"
	"github.com/livespeak-labs/livespeak-core/internal/config"
)

// googleCloud transcribes segments through Google Cloud Speech-to-Text,
// one synchronous Recognize call per routed segment. Cloud results carry
// no token logprobs.
type googleCloud struct {
	client     *speech.Client
	language   string
	sampleRate int
}

// NewGoogleCloud creates the Cloud Speech transcriber. Without an
// explicit credentials file, application default credentials apply.
func NewGoogleCloud(ctx context.Context, cfg config.CloudConfig, sampleRate int) (CloudTranscriber, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create cloud speech client: %w", err)
	}
	return &googleCloud{
		client:     client,
		language:   cfg.Language,
		sampleRate: sampleRate,
	}, nil
}

func (g *googleCloud) Transcribe(ctx context.Context, seg audio.Segment) (Result, error) {
	start := time.Now()
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(g.sampleRate),
			LanguageCode:    g.language,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: PCMBytes(seg.Samples)},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("cloud recognize: %w", err)
	}

	var text string
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if text != "" {
			text += " "
		}
		text += r.Alternatives[0].Transcript
	}
	// No alternatives is a valid outcome (unintelligible audio), not a
	// transport failure: it yields no correction.
	return Result{
		SequenceNo: seg.SequenceNo,
		Engine:     SourceCloud,
		Text:       text,
		LatencyMS:  time.Since(start).Milliseconds(),
	}, nil
}

// Close releases the underlying gRPC connection.
func (g *googleCloud) Close() error {
	return g.client.Close()
}

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/livespeak-labs/livespeak-core/internal/audio"
	"github.com/livespeak-labs/livespeak-core/internal/config"
)

// execEdge shells out to an external recognizer command per segment. The
// command is handed a WAV temp file and must print a JSON result on
// stdout: {"text": "...", "token_logprobs": [...]}.
type execEdge struct {
	cmd []string
	cfg config.EdgeConfig
	sr  int
	mu  sync.Mutex
}

type execResult struct {
	Text          string    `json:"text"`
	TokenLogprobs []float64 `json:"token_logprobs"`
}

func NewExecEdge(cfg config.EdgeConfig, sampleRate int) (EdgeTranscriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse edge command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("edge command is empty")
	}
	return &execEdge{cmd: args, cfg: cfg, sr: sampleRate}, nil
}

func (r *execEdge) Transcribe(ctx context.Context, seg audio.Segment) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()

	file, err := os.CreateTemp(os.TempDir(), "livespeak_edge_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeSegmentWAV(file, seg.Samples, r.sr); err != nil {
		return Result{}, err
	}

	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", r.cfg.Language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("edge command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode edge response: %w", err)
	}
	return Result{
		SequenceNo:    seg.SequenceNo,
		Engine:        SourceEdge,
		Text:          resp.Text,
		TokenLogprobs: resp.TokenLogprobs,
		Confidence:    Confidence(resp.TokenLogprobs),
		LatencyMS:     time.Since(start).Milliseconds(),
	}, nil
}

func writeSegmentWAV(file *os.File, samples []int16, sampleRate int) error {
	buffer := &gaudio.IntBuffer{Format: &gaudio.Format{NumChannels: 1, SampleRate: sampleRate}}
	buffer.Data = make([]int, len(samples))
	for i, s := range samples {
		buffer.Data[i] = int(s)
	}

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

package audio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVDumper writes the first N seconds of a session's audio to a WAV file
// once, for capture debugging. After the dump it becomes a no-op.
type WAVDumper struct {
	dir        string
	sampleRate int
	limit      int
	buf        []int16
	done       bool
	log        *slog.Logger
}

func NewWAVDumper(dir string, sampleRate, seconds int, log *slog.Logger) *WAVDumper {
	return &WAVDumper{
		dir:        dir,
		sampleRate: sampleRate,
		limit:      sampleRate * seconds,
		log:        log,
	}
}

// Append buffers samples and flushes the dump file once enough audio has
// accumulated. Errors are logged, never propagated to the pipeline.
func (d *WAVDumper) Append(sessionID string, samples []int16) {
	if d == nil || d.done {
		return
	}
	d.buf = append(d.buf, samples...)
	if len(d.buf) < d.limit {
		return
	}
	d.done = true
	if err := d.flush(sessionID); err != nil {
		d.log.Warn("debug wav dump failed", slog.String("error", err.Error()))
	}
	d.buf = nil
}

func (d *WAVDumper) flush(sessionID string) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("create debug dir: %w", err)
	}
	name := fmt.Sprintf("capture_%s_%d.wav", sessionID, time.Now().Unix())
	file, err := os.Create(filepath.Join(d.dir, name))
	if err != nil {
		return fmt.Errorf("create debug wav: %w", err)
	}
	defer file.Close()

	buffer := &gaudio.IntBuffer{Format: &gaudio.Format{NumChannels: 1, SampleRate: d.sampleRate}}
	buffer.Data = make([]int, len(d.buf))
	for i, s := range d.buf {
		buffer.Data[i] = int(s)
	}

	enc := wav.NewEncoder(file, d.sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	d.log.Info("debug wav written", slog.String("file", name), slog.Int("samples", len(d.buf)))
	return nil
}

package persist

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/livespeak-labs/livespeak-core/internal/config"
)

func newTestStore(t *testing.T, mode string) *Store {
	t.Helper()
	cfg := config.PersistenceConfig{
		Path:          filepath.Join(t.TempDir(), "captions.db"),
		RetentionMode: mode,
		RetentionDays: 30,
		MaxSessions:   100,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndListCaptions(t *testing.T) {
	s := newTestStore(t, "session")
	ctx := context.Background()

	if err := s.StartSession(ctx, "sess-1", time.Now()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	for i := 0; i < 3; i++ {
		err := s.AppendCaption(ctx, CaptionRecord{
			SessionID:  "sess-1",
			SequenceNo: uint64(i),
			Text:       "caption",
			Source:     "EDGE",
			Confidence: 0.9,
		})
		if err != nil {
			t.Fatalf("append caption %d: %v", i, err)
		}
	}

	records, err := s.ListSessionCaptions(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("list captions: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 captions, got %d", len(records))
	}
	for i, rec := range records {
		if rec.SequenceNo != uint64(i) {
			t.Fatalf("captions out of order at %d: %d", i, rec.SequenceNo)
		}
	}
}

func TestCorrectionAppendsNewRow(t *testing.T) {
	s := newTestStore(t, "session")
	ctx := context.Background()

	if err := s.StartSession(ctx, "sess-1", time.Now()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := s.AppendCaption(ctx, CaptionRecord{SessionID: "sess-1", SequenceNo: 0, Text: "edge text", Source: "EDGE"}); err != nil {
		t.Fatalf("append edge caption: %v", err)
	}
	if err := s.AppendCaption(ctx, CaptionRecord{SessionID: "sess-1", SequenceNo: 0, Text: "cloud text", Source: "CLOUD"}); err != nil {
		t.Fatalf("append correction: %v", err)
	}

	records, err := s.ListSessionCaptions(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("list captions: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("correction must append, not update: got %d rows", len(records))
	}
	if records[1].Source != "CLOUD" {
		t.Fatalf("expected correction row last, got %+v", records[1])
	}
}

func TestAppendDecision(t *testing.T) {
	s := newTestStore(t, "session")
	ctx := context.Background()

	if err := s.StartSession(ctx, "sess-1", time.Now()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	err := s.AppendDecision(ctx, DecisionRecord{
		SessionID:  "sess-1",
		SequenceNo: 5,
		Route:      "ROUTED_TO_CLOUD",
		Reason:     "LOW_CONFIDENCE",
		Confidence: 0.4,
		NoiseScore: 0.2,
	})
	if err != nil {
		t.Fatalf("append decision: %v", err)
	}
}

func TestJargonUpsert(t *testing.T) {
	s := newTestStore(t, "session")
	ctx := context.Background()

	now := time.Now()
	if err := s.RecordJargon(ctx, "kubernetes", "cooper netties", now); err != nil {
		t.Fatalf("first observation: %v", err)
	}
	if err := s.RecordJargon(ctx, "Kubernetes ", "Cooper Netties", now.Add(time.Minute)); err != nil {
		t.Fatalf("second observation: %v", err)
	}

	obs, found, err := s.GetJargon(ctx, "kubernetes", "cooper netties")
	if err != nil {
		t.Fatalf("get jargon: %v", err)
	}
	if !found {
		t.Fatalf("observation not found")
	}
	if obs.Frequency != 2 {
		t.Fatalf("normalized pair must aggregate, got frequency %d", obs.Frequency)
	}
}

func TestJargonIgnoresIdenticalPair(t *testing.T) {
	s := newTestStore(t, "session")
	ctx := context.Background()

	if err := s.RecordJargon(ctx, "same text", "Same Text", time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	_, found, err := s.GetJargon(ctx, "same text", "same text")
	if err != nil {
		t.Fatalf("get jargon: %v", err)
	}
	if found {
		t.Fatalf("identical normalized pair must not be recorded")
	}
}

func TestEphemeralModeWritesNothing(t *testing.T) {
	s := newTestStore(t, "ephemeral")
	ctx := context.Background()

	if err := s.StartSession(ctx, "sess-1", time.Now()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := s.AppendCaption(ctx, CaptionRecord{SessionID: "sess-1", Text: "caption"}); err != nil {
		t.Fatalf("append caption: %v", err)
	}
	records, err := s.ListSessionCaptions(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("ephemeral store must not retain rows")
	}
}

func TestPruneByRetentionDays(t *testing.T) {
	s := newTestStore(t, "persistent")
	ctx := context.Background()

	old := time.Now().Add(-90 * 24 * time.Hour)
	if err := s.StartSession(ctx, "old-sess", old); err != nil {
		t.Fatalf("start old session: %v", err)
	}
	if err := s.AppendCaption(ctx, CaptionRecord{SessionID: "old-sess", SequenceNo: 0, Timestamp: old, Text: "stale"}); err != nil {
		t.Fatalf("append old caption: %v", err)
	}
	if err := s.StartSession(ctx, "new-sess", time.Now()); err != nil {
		t.Fatalf("start new session: %v", err)
	}
	if err := s.AppendCaption(ctx, CaptionRecord{SessionID: "new-sess", SequenceNo: 0, Text: "fresh"}); err != nil {
		t.Fatalf("append new caption: %v", err)
	}

	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	oldRecords, err := s.ListSessionCaptions(ctx, "old-sess", 10)
	if err != nil {
		t.Fatalf("list old: %v", err)
	}
	if len(oldRecords) != 0 {
		t.Fatalf("expected stale captions pruned, got %d", len(oldRecords))
	}
	newRecords, err := s.ListSessionCaptions(ctx, "new-sess", 10)
	if err != nil {
		t.Fatalf("list new: %v", err)
	}
	if len(newRecords) != 1 {
		t.Fatalf("fresh captions must survive prune, got %d", len(newRecords))
	}
}

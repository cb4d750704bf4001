package persist

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/livespeak-labs/livespeak-core/internal/config"
)

// CaptionRecord is an append-only row for a finalized (or corrected)
// caption.
type CaptionRecord struct {
	SessionID  string
	SequenceNo uint64
	Timestamp  time.Time
	Text       string
	Source     string
	Confidence float64
	NoiseScore float64
}

// DecisionRecord preserves every routing decision for explainability.
type DecisionRecord struct {
	SessionID  string
	SequenceNo uint64
	Route      string
	Reason     string
	Confidence float64
	NoiseScore float64
	CreatedAt  time.Time
}

// JargonObservation is an aggregated edge/cloud disagreement, keyed by
// the normalized text pair.
type JargonObservation struct {
	EdgeText  string
	CloudText string
	Frequency int64
	LastSeen  time.Time
}

// Store wraps the SQLite-backed caption archive.
type Store struct {
	db    *sql.DB
	cfg   config.PersistenceConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Retention mode
// "ephemeral" yields a store whose writes are no-ops.
func Open(ctx context.Context, cfg config.PersistenceConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The sidecar worker pool shares this handle; a single connection
	// serializes writes so concurrent workers never hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS captions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    sequence_no INTEGER NOT NULL,
    ts TIMESTAMP NOT NULL,
    text TEXT NOT NULL,
    source TEXT NOT NULL,
    confidence REAL,
    noise_score REAL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_captions_session_seq ON captions(session_id, sequence_no);
CREATE TABLE IF NOT EXISTS routing_decisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    sequence_no INTEGER NOT NULL,
    route TEXT NOT NULL,
    reason TEXT NOT NULL,
    confidence REAL,
    noise_score REAL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS jargon_observations (
    edge_text TEXT NOT NULL,
    cloud_text TEXT NOT NULL,
    frequency INTEGER NOT NULL DEFAULT 1,
    last_seen TIMESTAMP NOT NULL,
    PRIMARY KEY(edge_text, cloud_text)
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartSession records a session's start time.
func (s *Store) StartSession(ctx context.Context, sessionID string, startedAt time.Time) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, started_at) VALUES(?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, startedAt.UTC())
	return err
}

// EndSession stamps a session's end time.
func (s *Store) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE session_id = ?`,
		endedAt.UTC(), sessionID)
	return err
}

// AppendCaption writes one finalized caption row. Corrections append a
// new row rather than updating, keeping the record append-only.
func (s *Store) AppendCaption(ctx context.Context, rec CaptionRecord) error {
	if s.db == nil {
		return nil
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO captions(session_id, sequence_no, ts, text, source, confidence, noise_score)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.SequenceNo, ts.UTC(), rec.Text, rec.Source, rec.Confidence, rec.NoiseScore)
	return err
}

// AppendDecision writes one routing decision row.
func (s *Store) AppendDecision(ctx context.Context, rec DecisionRecord) error {
	if s.db == nil {
		return nil
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing_decisions(session_id, sequence_no, route, reason, confidence, noise_score, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.SequenceNo, rec.Route, rec.Reason, rec.Confidence, rec.NoiseScore, created.UTC())
	return err
}

// RecordJargon increments the frequency of the normalized (edge, cloud)
// text pair, creating the observation when absent.
func (s *Store) RecordJargon(ctx context.Context, edgeText, cloudText string, seenAt time.Time) error {
	if s.db == nil {
		return nil
	}
	edge := normalizeJargon(edgeText)
	cloud := normalizeJargon(cloudText)
	if edge == "" || cloud == "" || edge == cloud {
		return nil
	}
	if seenAt.IsZero() {
		seenAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jargon_observations(edge_text, cloud_text, frequency, last_seen)
		 VALUES(?, ?, 1, ?)
		 ON CONFLICT(edge_text, cloud_text)
		 DO UPDATE SET frequency = frequency + 1, last_seen = excluded.last_seen`,
		edge, cloud, seenAt.UTC())
	return err
}

// ListSessionCaptions returns up to limit caption rows for a session in
// sequence order.
func (s *Store) ListSessionCaptions(ctx context.Context, sessionID string, limit int) ([]CaptionRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, sequence_no, ts, text, source, confidence, noise_score
		 FROM captions WHERE session_id = ? ORDER BY sequence_no ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CaptionRecord
	for rows.Next() {
		var rec CaptionRecord
		var ts string
		if err := rows.Scan(&rec.SessionID, &rec.SequenceNo, &ts, &rec.Text, &rec.Source, &rec.Confidence, &rec.NoiseScore); err != nil {
			return nil, err
		}
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.Timestamp = parsed
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetJargon fetches one observation by its normalized pair; found
// reports whether it exists.
func (s *Store) GetJargon(ctx context.Context, edgeText, cloudText string) (JargonObservation, bool, error) {
	var obs JargonObservation
	if s.db == nil {
		return obs, false, nil
	}
	var lastSeen string
	err := s.db.QueryRowContext(ctx,
		`SELECT edge_text, cloud_text, frequency, last_seen FROM jargon_observations
		 WHERE edge_text = ? AND cloud_text = ?`,
		normalizeJargon(edgeText), normalizeJargon(cloudText)).
		Scan(&obs.EdgeText, &obs.CloudText, &obs.Frequency, &lastSeen)
	if err == sql.ErrNoRows {
		return obs, false, nil
	}
	if err != nil {
		return obs, false, err
	}
	if parsed, err := time.Parse(time.RFC3339Nano, lastSeen); err == nil {
		obs.LastSeen = parsed
	}
	return obs, true, nil
}

// Prune applies configured retention by age and by session count.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM captions WHERE ts < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM routing_decisions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func normalizeJargon(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

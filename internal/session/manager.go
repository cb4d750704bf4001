package session

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Manager owns the live sessions. One capture session maps to one
// pipeline; sessions are independent and share only the storage sidecar
// and the export publisher. The capture gate is a process-wide switch
// over whether inbound audio reaches any pipeline.
type Manager struct {
	deps Deps

	captureOff atomic.Bool
	metrics    *pipelineMetrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager with capture enabled.
func NewManager(deps Deps) *Manager {
	m := &Manager{
		deps:     deps,
		sessions: make(map[string]*Session),
	}
	metrics, err := newPipelineMetrics(m)
	if err != nil {
		deps.Log.Warn("failed to initialize pipeline metrics", slog.String("error", err.Error()))
	}
	m.metrics = metrics
	return m
}

// SetCapture toggles whether inbound audio is fed to the pipelines.
func (m *Manager) SetCapture(enabled bool) {
	m.captureOff.Store(!enabled)
	m.deps.Log.Info("capture toggled", slog.Bool("enabled", enabled))
}

// CaptureEnabled reports the capture gate state.
func (m *Manager) CaptureEnabled() bool {
	return !m.captureOff.Load()
}

// Start creates a session, registers it and starts its pipeline.
func (m *Manager) Start() *Session {
	id := uuid.NewString()
	s := newSession(id, m.deps)
	s.metrics = m.metrics

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.deps.Sidecar.SessionStarted(id, s.startedAt)
	go s.run()

	m.deps.Log.Info("session started", slog.String("session_id", id))
	return s
}

// Get looks up a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stop shuts one session down and removes it from the registry.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %q", id)
	}
	s.Stop()
	return nil
}

// StopAll shuts every live session down, used at process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Stop()
	}
}

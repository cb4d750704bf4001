package protocol

import "time"

// Event is the envelope delivered on the caption stream, both over the
// bus and down the websocket. Exactly one payload field is set per event.
type Event struct {
	Type       string           `json:"type"`
	SessionID  string           `json:"session_id"`
	Caption    *CaptionEvent    `json:"caption,omitempty"`
	Stats      *StatsEvent      `json:"stats,omitempty"`
	History    *HistoryEvent    `json:"history,omitempty"`
	SystemInfo *SystemInfoEvent `json:"system_info,omitempty"`
	Error      *ErrorEvent      `json:"error,omitempty"`
}

// CaptionEvent carries one caption entry update: a live partial, a
// finalized segment, or an in-place correction of a finalized segment.
type CaptionEvent struct {
	SequenceNo uint64    `json:"sequence_no"`
	Text       string    `json:"text"`
	Source     string    `json:"source"`
	State      string    `json:"state"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatsEvent carries aggregate per-session counters.
type StatsEvent struct {
	SegmentsTotal        uint64    `json:"segments_total"`
	EdgePercent          float64   `json:"edge_percent"`
	CloudPercent         float64   `json:"cloud_percent"`
	CloudSuccessRate     float64   `json:"cloud_success_rate"`
	CorrectionsApplied   uint64    `json:"corrections_applied"`
	CorrectionsDiscarded uint64    `json:"corrections_discarded"`
	DroppedWrites        uint64    `json:"dropped_writes"`
	Timestamp            time.Time `json:"timestamp"`
}

// HistoryEvent is the reply to a history command: the session's caption
// timeline, oldest first, live entry last when present.
type HistoryEvent struct {
	Entries   []CaptionEvent `json:"entries"`
	Timestamp time.Time      `json:"timestamp"`
}

// SystemInfoEvent reports non-error runtime conditions to the client.
type SystemInfoEvent struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent reports a rejected command or malformed input. The session
// continues after an error event.
type ErrorEvent struct {
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Event type tags.
const (
	EventTypeCaption    = "caption"
	EventTypeStats      = "stats"
	EventTypeHistory    = "history"
	EventTypeSystemInfo = "system_info"
	EventTypeError      = "error"
)

// Caption states and sources as they appear on the wire.
const (
	StateLive  = "LIVE"
	StateFinal = "FINAL"

	SourceEdge   = "EDGE"
	SourceCloud  = "CLOUD"
	SourceWindow = "WINDOW"
)

// SubjectCaptionEventsPrefix fans caption stream envelopes out per
// session: caption.events.<session_id>.
const SubjectCaptionEventsPrefix = "caption.events"

// SubjectCaptionEvents returns the bus subject for a session's stream.
func SubjectCaptionEvents(sessionID string) string {
	return SubjectCaptionEventsPrefix + "." + sessionID
}

package protocol

// Event names carried on the transcript stream.
const (
	EventChunk         = "chunk"
	EventFullText      = "full_text"
	EventWordHighlight = "word_highlight"
	EventStreamEnd     = "stream_end"
	EventError         = "error"
)

// ChatRequest begins an exchange with the backend.
type ChatRequest struct {
	Prompt string `json:"prompt"`
}

// StreamEnd is the payload the reference backend sends with stream_end.
type StreamEnd struct {
	Reason string `json:"reason"`
}

// ControlStart asks a controller to begin a session.
type ControlStart struct {
	Query string `json:"query"`
}

// ControlReply answers a control request when the caller set a reply subject.
type ControlReply struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	SubjectHighlightState = "transcript.highlight.state"
	SubjectControlStart   = "transcript.control.start"
	SubjectControlCancel  = "transcript.control.cancel"
)

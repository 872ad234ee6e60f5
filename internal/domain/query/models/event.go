package models

import "encoding/json"

// EventType is the value of the "type" discriminant on the wire
type EventType string

// Dialect A ("incremental-chunk") and dialect B ("staged-answer") share one
// vocabulary; a stream may interleave both.
const (
	EventStatus             EventType = "status"
	EventHeartbeat          EventType = "heartbeat"
	EventChunk              EventType = "chunk"
	EventCitation           EventType = "citation"
	EventProgress           EventType = "progress"
	EventRetrievedDocuments EventType = "retrieved_documents"
	EventAnswerDelta        EventType = "answer_delta"
	EventAnswerComplete     EventType = "answer_complete"
	EventReferences         EventType = "references"
	EventDone               EventType = "done"
	EventError              EventType = "error"
)

// Event is one decoded server push. The set of implementations is closed;
// anything else arrives as UnknownEvent.
type Event interface {
	Type() EventType
	isEvent()
}

type StatusEvent struct {
	Message string `json:"message"`
}

// HeartbeatEvent keeps the session visibly alive while the server works silently
type HeartbeatEvent struct {
	Message string `json:"message,omitempty"`
}

// ChunkEvent appends Content to the answer (dialect A)
type ChunkEvent struct {
	Content string `json:"content"`
}

// CitationEvent carries a single citation (dialect A)
type CitationEvent struct {
	ChunkID          string       `json:"chunk_id"`
	ChunkType        CitationKind `json:"chunk_type"`
	DocumentID       string       `json:"document_id"`
	DocumentName     string       `json:"document_name"`
	Content          string       `json:"content,omitempty"`
	ImageDescription string       `json:"image_description,omitempty"`
	ChunkIndex       int          `json:"chunk_index"`
	ImageURL         string       `json:"image_url,omitempty"`
}

// ProgressData reports per-document progress of the staged executor.
// Older executors send "current" instead of "completed".
type ProgressData struct {
	Completed *int   `json:"completed,omitempty"`
	Current   *int   `json:"current,omitempty"`
	Total     int    `json:"total"`
	DocName   string `json:"doc_name"`
	Status    string `json:"status,omitempty"`
}

// Done returns the number of documents processed so far
func (p ProgressData) Done() int {
	switch {
	case p.Completed != nil:
		return *p.Completed
	case p.Current != nil:
		return *p.Current
	default:
		return 0
	}
}

// Failed reports whether the document named in this update failed
func (p ProgressData) Failed() bool {
	return p.Status == "failed"
}

type ProgressEvent struct {
	Data ProgressData `json:"data"`
}

type RetrievedDocumentsEvent struct {
	DocumentCount int      `json:"document_count"`
	DocumentIDs   []string `json:"document_ids,omitempty"`
	ChunkCount    int      `json:"chunk_count,omitempty"`
}

// TextData is the nested payload of answer_delta and answer_complete
type TextData struct {
	Text string `json:"text"`
}

// AnswerDeltaEvent appends Data.Text to the answer (dialect B)
type AnswerDeltaEvent struct {
	Data TextData `json:"data"`
}

// AnswerCompleteEvent replaces the whole answer with the server's final,
// already-substituted text (dialect B)
type AnswerCompleteEvent struct {
	Data TextData `json:"data"`
}

// Reference is one item of a references batch
type Reference struct {
	RefID     string       `json:"ref_id"`
	ChunkType CitationKind `json:"chunk_type"`
	DocID     string       `json:"doc_id"`
	DocName   string       `json:"doc_name"`
	Content   string       `json:"content,omitempty"`
	ImageURL  string       `json:"image_url,omitempty"`
}

type ReferencesEvent struct {
	Data []Reference `json:"data"`
}

type DoneEvent struct {
	QueryID string          `json:"query_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorEvent carries a server-reported failure. The staged executor nests the
// message under data.
type ErrorEvent struct {
	Message string `json:"message"`
	Data    struct {
		Message string `json:"message"`
	} `json:"data"`
}

// Text returns the server-supplied message, wherever it was placed
func (e ErrorEvent) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Data.Message
}

// UnknownEvent holds a frame whose discriminant is not recognised
type UnknownEvent struct {
	Name string
	Raw  json.RawMessage
}

func (StatusEvent) Type() EventType             { return EventStatus }
func (HeartbeatEvent) Type() EventType          { return EventHeartbeat }
func (ChunkEvent) Type() EventType              { return EventChunk }
func (CitationEvent) Type() EventType           { return EventCitation }
func (ProgressEvent) Type() EventType           { return EventProgress }
func (RetrievedDocumentsEvent) Type() EventType { return EventRetrievedDocuments }
func (AnswerDeltaEvent) Type() EventType        { return EventAnswerDelta }
func (AnswerCompleteEvent) Type() EventType     { return EventAnswerComplete }
func (ReferencesEvent) Type() EventType         { return EventReferences }
func (DoneEvent) Type() EventType               { return EventDone }
func (ErrorEvent) Type() EventType              { return EventError }
func (e UnknownEvent) Type() EventType          { return EventType(e.Name) }

func (StatusEvent) isEvent()             {}
func (HeartbeatEvent) isEvent()          {}
func (ChunkEvent) isEvent()              {}
func (CitationEvent) isEvent()           {}
func (ProgressEvent) isEvent()           {}
func (RetrievedDocumentsEvent) isEvent() {}
func (AnswerDeltaEvent) isEvent()        {}
func (AnswerCompleteEvent) isEvent()     {}
func (ReferencesEvent) isEvent()         {}
func (DoneEvent) isEvent()               {}
func (ErrorEvent) isEvent()              {}
func (UnknownEvent) isEvent()            {}

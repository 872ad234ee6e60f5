package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/deepgram/kbquery/internal/domain/query/models"
	"github.com/deepgram/kbquery/internal/logger"
)

// Outcome is the lifecycle state of a Session
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeStreaming Outcome = "streaming"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Terminal reports whether no further event can change the session
func (o Outcome) Terminal() bool {
	return o == OutcomeCompleted || o == OutcomeFailed
}

// Status lines shown to the user
const (
	StatusProcessing    = "Processing..."
	StatusGenerating    = "Generating answer..."
	StatusDone          = "Done"
	StatusError         = "Error"
	MessageInterrupted  = "Connection interrupted"
	MessageQueryFailed  = "Query failed"
	progressFormat      = "Completed %d/%d documents: %s"
	progressFailed      = "Completed %d/%d documents (failed: %s)"
	retrievedDocsFormat = "Retrieved %d relevant documents"
)

// Session is the view model of one submitted question. It is not safe for
// concurrent use; the Controller owning it serialises access.
type Session struct {
	answer       string
	status       string
	citations    []models.Citation
	seen         map[string]struct{}
	outcome      Outcome
	errorMessage string
	queryID      string
	lastActivity time.Time
	now          func() time.Time
}

// NewSession returns an idle session
func NewSession() *Session {
	return newSession(time.Now)
}

func newSession(now func() time.Time) *Session {
	return &Session{
		outcome: OutcomeIdle,
		seen:    make(map[string]struct{}),
		now:     now,
	}
}

// Start moves an idle session into streaming
func (s *Session) Start() bool {
	if s.outcome != OutcomeIdle {
		return false
	}
	s.outcome = OutcomeStreaming
	s.status = StatusProcessing
	s.lastActivity = s.now()
	return true
}

// Apply folds one event into the session and reports whether anything a
// viewer can see has changed. Events arriving outside streaming are ignored.
func (s *Session) Apply(ev models.Event) bool {
	if s.outcome != OutcomeStreaming {
		return false
	}
	s.lastActivity = s.now()

	switch e := ev.(type) {
	case models.StatusEvent:
		s.status = e.Message
	case models.HeartbeatEvent:
		s.status = e.Message
		if s.status == "" {
			s.status = StatusGenerating
		}
	case models.ProgressEvent:
		s.status = progressStatus(e.Data)
	case models.RetrievedDocumentsEvent:
		s.status = fmt.Sprintf(retrievedDocsFormat, e.DocumentCount)
	case models.ChunkEvent:
		s.answer += e.Content
	case models.AnswerDeltaEvent:
		s.answer += e.Data.Text
	case models.AnswerCompleteEvent:
		s.answer = e.Data.Text
	case models.CitationEvent:
		s.addCitation(citationFromEvent(e))
	case models.ReferencesEvent:
		for _, ref := range e.Data {
			s.addCitation(citationFromReference(ref))
		}
	case models.DoneEvent:
		s.outcome = OutcomeCompleted
		s.status = StatusDone
		if e.QueryID != "" {
			s.queryID = e.QueryID
		}
	case models.ErrorEvent:
		s.outcome = OutcomeFailed
		s.status = StatusError
		s.errorMessage = e.Text()
		if s.errorMessage == "" {
			s.errorMessage = MessageQueryFailed
		}
	case models.UnknownEvent:
		log := logger.For(logger.QUERY)
		log.Debug().
			Str("type", e.Name).
			Msg("Ignoring unknown event")
		return false
	default:
		return false
	}
	return true
}

// Finish handles a stream that ended without a terminal event. A clean close
// is a success that keeps the last status.
func (s *Session) Finish() bool {
	if s.outcome != OutcomeStreaming {
		return false
	}
	s.outcome = OutcomeCompleted
	if s.status == StatusProcessing || s.status == "" {
		s.status = StatusDone
	}
	return true
}

// Fail moves a live session into failed with msg
func (s *Session) Fail(msg string) bool {
	if s.outcome.Terminal() {
		return false
	}
	s.outcome = OutcomeFailed
	s.status = StatusError
	s.errorMessage = msg
	return true
}

func (s *Session) Outcome() Outcome {
	return s.outcome
}

func (s *Session) LastActivity() time.Time {
	return s.lastActivity
}

// Snapshot copies the session state
func (s *Session) Snapshot() Snapshot {
	citations := make([]models.Citation, len(s.citations))
	copy(citations, s.citations)

	return Snapshot{
		Outcome:      s.outcome,
		Status:       s.status,
		Answer:       s.answer,
		Citations:    citations,
		ErrorMessage: s.errorMessage,
		QueryID:      s.queryID,
		LastActivity: s.lastActivity,
	}
}

func (s *Session) addCitation(c models.Citation) {
	if _, dup := s.seen[c.ID]; dup {
		log := logger.For(logger.QUERY)
		log.Debug().
			Str("citation_id", c.ID).
			Msg("Dropping duplicate citation")
		return
	}
	s.seen[c.ID] = struct{}{}
	s.citations = append(s.citations, c)
}

func progressStatus(p models.ProgressData) string {
	if p.Failed() {
		return fmt.Sprintf(progressFailed, p.Done(), p.Total, p.DocName)
	}
	return fmt.Sprintf(progressFormat, p.Done(), p.Total, p.DocName)
}

func citationFromEvent(e models.CitationEvent) models.Citation {
	content := e.Content
	if content == "" {
		content = e.ImageDescription
	}
	return models.Citation{
		ID:           e.ChunkID,
		Kind:         kindOrText(e.ChunkType),
		DocumentID:   e.DocumentID,
		DocumentName: e.DocumentName,
		Ordinal:      e.ChunkIndex,
		Content:      content,
		ResourceRef:  e.ImageURL,
	}
}

func citationFromReference(r models.Reference) models.Citation {
	return models.Citation{
		ID:           r.RefID,
		Kind:         kindOrText(r.ChunkType),
		DocumentID:   r.DocID,
		DocumentName: r.DocName,
		Ordinal:      referenceOrdinal(r.RefID),
		Content:      r.Content,
		ResourceRef:  r.ImageURL,
	}
}

func kindOrText(k models.CitationKind) models.CitationKind {
	if k == models.CitationImage {
		return k
	}
	return models.CitationText
}

// referenceOrdinal maps "DOC-x-IMAGE-3" to 2. Ids without a numeric suffix,
// or with a suffix below one, map to 0.
func referenceOrdinal(refID string) int {
	suffix := refID
	if idx := strings.LastIndex(refID, "-"); idx >= 0 {
		suffix = refID[idx+1:]
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}

package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/deepgram/kbquery/internal/config"
	"github.com/deepgram/kbquery/internal/domain/query/models"
	"github.com/deepgram/kbquery/internal/infrastructure/kb"
	"github.com/deepgram/kbquery/internal/logger"
	"github.com/deepgram/kbquery/internal/services/citation"
	"github.com/deepgram/kbquery/internal/services/credentials"
	"github.com/deepgram/kbquery/internal/sse"
	"github.com/go-playground/validator/v10"
)

// ErrClosed is returned by Submit after Close
var ErrClosed = errors.New("query controller closed")

var validate = validator.New()

// StreamOpener opens the answer stream for one question
type StreamOpener interface {
	OpenQueryStream(ctx context.Context, kbID, question string) (io.ReadCloser, error)
}

// Request is one question against one knowledge base
type Request struct {
	KnowledgeBaseID string `json:"kb_id" validate:"required"`
	Question        string `json:"question" validate:"required,max=1000"`
}

// Snapshot is what a view renders for the current session
type Snapshot struct {
	Generation   uint64            `json:"generation"`
	Outcome      Outcome           `json:"outcome"`
	Status       string            `json:"status"`
	Answer       string            `json:"answer"`
	DisplayText  string            `json:"display_text"`
	Citations    []models.Citation `json:"citations"`
	ErrorMessage string            `json:"error_message,omitempty"`
	QueryID      string            `json:"query_id,omitempty"`
	LastActivity time.Time         `json:"last_activity"`
	Stalled      bool              `json:"stalled"`
	Cancelled    bool              `json:"cancelled,omitempty"`
}

// Update is delivered to OnUpdate after every visible change
type Update struct {
	Event    models.EventType `json:"event,omitempty"`
	Snapshot Snapshot         `json:"snapshot"`
}

type Options struct {
	// OnUpdate runs with the controller lock held, in arrival order. It must
	// not call back into the controller.
	OnUpdate     func(Update)
	MaxLineBytes int
	StallAfter   time.Duration
	Now          func() time.Time
}

// Controller owns the session of one view. Each Submit starts a new
// generation; events from older generations are dropped.
type Controller struct {
	mu         sync.Mutex
	opener     StreamOpener
	onUpdate   func(Update)
	maxLine    int
	stallAfter time.Duration
	now        func() time.Time

	generation uint64
	session    *Session
	cancel     context.CancelFunc
	cancelled  bool
	stalled    bool
	closed     bool
}

// Run tracks the goroutine consuming one generation's stream
type Run struct {
	Generation uint64
	done       chan struct{}
}

// Done is closed once the stream has been fully consumed or abandoned
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends or ctx is done
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func NewController(opener StreamOpener, opts Options) *Controller {
	c := &Controller{
		opener:     opener,
		onUpdate:   opts.OnUpdate,
		maxLine:    opts.MaxLineBytes,
		stallAfter: opts.StallAfter,
		now:        opts.Now,
	}
	if c.maxLine == 0 {
		c.maxLine = config.GetStreamMaxLineBytes()
	}
	if c.stallAfter == 0 {
		c.stallAfter = config.GetStreamStallAfter()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.session = newSession(c.now)
	return c
}

// Submit validates req, abandons the current stream and starts a new session
func (c *Controller) Submit(ctx context.Context, req Request) (*Run, error) {
	req.KnowledgeBaseID = strings.TrimSpace(req.KnowledgeBaseID)
	req.Question = strings.TrimSpace(req.Question)
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid query request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.cancelled = false
	c.stalled = false
	c.session = newSession(c.now)
	c.session.Start()
	c.emitLocked("")

	log := logger.For(logger.QUERY)
	log.Info().
		Uint64("generation", gen).
		Str("kb_id", req.KnowledgeBaseID).
		Int("question_length", len(req.Question)).
		Msg("Submitting question")

	run := &Run{Generation: gen, done: make(chan struct{})}
	go c.consume(runCtx, gen, req, run)

	return run, nil
}

// Cancel stops consuming the current stream. The session keeps whatever it
// had received.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.generation++
	if c.session.Outcome() == OutcomeStreaming {
		c.cancelled = true
		c.stalled = false
		c.emitLocked("")
	}
}

// Close cancels the current stream and refuses further submits
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// CheckStalled recomputes the stalled indicator and notifies OnUpdate when it
// flips. Views call it periodically.
func (c *Controller) CheckStalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	stalled := c.isStalledLocked()
	if stalled != c.stalled {
		c.stalled = stalled
		c.emitLocked(models.EventHeartbeat)
	}
	return stalled
}

func (c *Controller) consume(ctx context.Context, gen uint64, req Request, run *Run) {
	defer close(run.done)
	log := logger.For(logger.QUERY)

	body, err := c.opener.OpenQueryStream(ctx, req.KnowledgeBaseID, req.Question)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().
			Err(err).
			Uint64("generation", gen).
			Msg("Failed to open answer stream")
		msg := rejectionMessage(err)
		c.mutate(gen, "", func(s *Session) bool { return s.Fail(msg) })
		return
	}
	defer body.Close()

	parser := sse.NewParser(sse.NewLineDecoder(body, c.maxLine))
	defer func() {
		stats := parser.Stats()
		log.Debug().
			Uint64("generation", gen).
			Int("frames", stats.Frames).
			Int("skipped", stats.Skipped).
			Int("unknown", stats.Unknown).
			Msg("Answer stream closed")
	}()

	for {
		ev, err := parser.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, io.EOF):
				c.mutate(gen, "", func(s *Session) bool { return s.Finish() })
			default:
				log.Warn().
					Err(err).
					Uint64("generation", gen).
					Msg("Answer stream interrupted")
				c.mutate(gen, "", func(s *Session) bool { return s.Fail(MessageInterrupted) })
			}
			return
		}

		if !c.mutate(gen, ev.Type(), func(s *Session) bool { return s.Apply(ev) }) {
			return
		}
	}
}

// mutate applies fn to the session of generation gen. It reports whether the
// stream should keep being read: false once the generation is stale or the
// session reached a terminal state.
func (c *Controller) mutate(gen uint64, event models.EventType, fn func(*Session) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		log := logger.For(logger.QUERY)
		log.Debug().
			Uint64("generation", gen).
			Uint64("current", c.generation).
			Msg("Dropping event from superseded stream")
		return false
	}

	wasStalled := c.stalled
	changed := fn(c.session)
	c.stalled = false
	if changed || wasStalled {
		c.emitLocked(event)
	}
	return !c.session.Outcome().Terminal()
}

func (c *Controller) emitLocked(event models.EventType) {
	if c.onUpdate == nil {
		return
	}
	c.onUpdate(Update{Event: event, Snapshot: c.snapshotLocked()})
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := c.session.Snapshot()
	snap.Generation = c.generation
	snap.DisplayText = citation.Resolve(snap.Answer, snap.Citations)
	snap.Stalled = c.isStalledLocked()
	snap.Cancelled = c.cancelled
	return snap
}

func (c *Controller) isStalledLocked() bool {
	if c.session.Outcome() != OutcomeStreaming || c.cancelled || c.stallAfter <= 0 {
		return false
	}
	return c.now().Sub(c.session.LastActivity()) >= c.stallAfter
}

// rejectionMessage turns a failure to open the stream into the text shown to the user
func rejectionMessage(err error) string {
	var apiErr *kb.APIError
	switch {
	case errors.Is(err, credentials.ErrNoCredential):
		return credentials.ErrNoCredential.Error()
	case errors.Is(err, credentials.ErrCredentialExpired):
		return credentials.ErrCredentialExpired.Error()
	case errors.As(err, &apiErr) && apiErr.Detail != "":
		return apiErr.Detail
	default:
		return MessageQueryFailed
	}
}

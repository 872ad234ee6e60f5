package handlers

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/deepgram/kbquery/internal/connections"
	"github.com/deepgram/kbquery/internal/domain/query/models"
	"github.com/deepgram/kbquery/internal/logger"
	"github.com/deepgram/kbquery/internal/services"
	"github.com/deepgram/kbquery/internal/services/citation"
	"github.com/deepgram/kbquery/internal/services/query"
	"github.com/deepgram/kbquery/internal/services/resource"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message types exchanged with a view
const (
	MessageAsk       = "ask"
	MessageCancel    = "cancel"
	MessageConnected = "connected"
	MessageSnapshot  = "snapshot"
	MessageImage     = "image"
	MessageError     = "error"
)

// ClientMessage is sent by the view
type ClientMessage struct {
	Type            string `json:"type"`
	KnowledgeBaseID string `json:"kb_id,omitempty"`
	Question        string `json:"question,omitempty"`
}

// ServerMessage is pushed to the view
type ServerMessage struct {
	Type       string           `json:"type"`
	ViewID     string           `json:"view_id,omitempty"`
	Event      models.EventType `json:"event,omitempty"`
	Snapshot   *query.Snapshot  `json:"snapshot,omitempty"`
	Generation uint64           `json:"generation,omitempty"`
	Image      *resource.Image  `json:"image,omitempty"`
	Error      string           `json:"error,omitempty"`
}

type imageResult struct {
	generation uint64
	image      resource.Image
}

// View is one websocket viewer. The connection is written only from the
// view's writer goroutine; ping frames go through WriteControl.
type View struct {
	id         string
	conn       *websocket.Conn
	timeouts   connections.TimeoutConfig
	controller *query.Controller
	loader     *resource.Loader
	svcs       *services.Services

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending *query.Update
	notify  chan struct{}
	outbox  chan ServerMessage
	images  chan imageResult

	// owned by the writer goroutine
	generation uint64
	scope      *resource.Scope
	requested  map[string]string

	closeOnce sync.Once
	done      chan struct{}
}

func newView(parent context.Context, conn *websocket.Conn, svcs *services.Services, timeouts connections.TimeoutConfig) *View {
	ctx, cancel := context.WithCancel(parent)
	v := &View{
		id:        uuid.New().String(),
		conn:      conn,
		timeouts:  timeouts,
		loader:    svcs.GetLoader(),
		svcs:      svcs,
		ctx:       ctx,
		cancel:    cancel,
		notify:    make(chan struct{}, 1),
		outbox:    make(chan ServerMessage, 16),
		images:    make(chan imageResult, 16),
		requested: make(map[string]string),
		done:      make(chan struct{}),
	}
	v.controller = svcs.NewController(query.Options{OnUpdate: v.onUpdate})
	return v
}

func (v *View) ID() string {
	return v.id
}

// Close tears down the stream, the image handles and the connection
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.controller.Close()
		v.svcs.ForgetView(v.id)
		v.cancel()
		close(v.done)
		v.conn.Close()
	})
}

// onUpdate runs under the controller lock. It only records the latest
// update; the writer goroutine renders it.
func (v *View) onUpdate(u query.Update) {
	v.mu.Lock()
	v.pending = &u
	v.mu.Unlock()

	select {
	case v.notify <- struct{}{}:
	default:
	}
}

func (v *View) takePending() *query.Update {
	v.mu.Lock()
	defer v.mu.Unlock()
	u := v.pending
	v.pending = nil
	return u
}

// handle processes one message from the view
func (v *View) handle(msg ClientMessage) {
	log := logger.For(logger.HANDLER)

	switch msg.Type {
	case MessageAsk:
		if !v.svcs.AllowQuestion(v.id) {
			v.send(ServerMessage{Type: MessageError, Error: "Too many questions, slow down"})
			return
		}
		_, err := v.controller.Submit(v.ctx, query.Request{
			KnowledgeBaseID: msg.KnowledgeBaseID,
			Question:        msg.Question,
		})
		if err != nil {
			log.Debug().Err(err).Str("view_id", v.id).Msg("Rejected question")
			v.send(ServerMessage{Type: MessageError, Error: submitError(err)})
		}
	case MessageCancel:
		v.controller.Cancel()
	default:
		log.Debug().Str("type", msg.Type).Str("view_id", v.id).Msg("Ignoring unknown view message")
		v.send(ServerMessage{Type: MessageError, Error: "Unknown message type: " + msg.Type})
	}
}

func (v *View) send(msg ServerMessage) {
	select {
	case v.outbox <- msg:
	case <-v.done:
	}
}

// writeLoop owns every data write to the connection
func (v *View) writeLoop() {
	stallTicker := time.NewTicker(v.timeouts.StallCheck)
	defer stallTicker.Stop()
	defer func() {
		if v.scope != nil {
			v.scope.Close()
		}
	}()

	for {
		select {
		case <-v.done:
			return
		case <-v.notify:
			if u := v.takePending(); u != nil {
				if err := v.render(*u); err != nil {
					v.Close()
					return
				}
			}
		case res := <-v.images:
			if res.generation != v.generation {
				continue
			}
			img := res.image
			if err := v.write(ServerMessage{Type: MessageImage, Generation: res.generation, Image: &img}); err != nil {
				v.Close()
				return
			}
		case msg := <-v.outbox:
			if err := v.write(msg); err != nil {
				v.Close()
				return
			}
		case <-stallTicker.C:
			v.controller.CheckStalled()
		}
	}
}

// render pushes a snapshot and starts loading the images it embeds
func (v *View) render(u query.Update) error {
	snap := u.Snapshot

	if snap.Generation != v.generation {
		if v.scope != nil {
			v.scope.Close()
			v.scope = nil
		}
		v.generation = snap.Generation
		v.requested = make(map[string]string)
	}

	if err := v.write(ServerMessage{Type: MessageSnapshot, Event: u.Event, Snapshot: &snap}); err != nil {
		return err
	}

	if snap.Cancelled {
		if v.scope != nil {
			v.scope.Close()
			v.scope = nil
		}
		return nil
	}

	for i, ref := range citation.ImageRefs(snap.DisplayText) {
		slot := strconv.Itoa(i)
		if v.requested[slot] == ref.Target {
			continue
		}
		v.requested[slot] = ref.Target
		if v.scope == nil {
			v.scope = v.loader.NewScope(v.ctx)
		}
		go v.acquire(v.scope, snap.Generation, slot, ref.Target)
	}
	return nil
}

func (v *View) acquire(scope *resource.Scope, generation uint64, slot, locator string) {
	img := scope.Acquire(v.ctx, slot, locator)
	select {
	case v.images <- imageResult{generation: generation, image: img}:
	case <-v.done:
	}
}

func (v *View) write(msg ServerMessage) error {
	if err := v.conn.SetWriteDeadline(time.Now().Add(v.timeouts.WriteWait)); err != nil {
		return err
	}
	return v.conn.WriteJSON(msg)
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/deepgram/kbquery/internal/connections"
	"github.com/deepgram/kbquery/internal/logger"
	"github.com/deepgram/kbquery/internal/services"
	"github.com/deepgram/kbquery/internal/services/query"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the view server binds locally
	},
}

// HandleViewWebSocket serves one view: questions come in, session snapshots
// and image updates go out.
func HandleViewWebSocket(svcs *services.Services, manager *connections.Manager, w http.ResponseWriter, r *http.Request) {
	log := logger.For(logger.HANDLER)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Could not upgrade connection")
		return
	}

	timeouts := manager.GetTimeouts()
	view := newView(r.Context(), conn, svcs, timeouts)
	manager.AddView(view)
	defer func() {
		manager.RemoveView(view.ID())
		view.Close()
		log.Info().Str("view_id", view.ID()).Msg("View disconnected")
	}()
	log.Info().Str("view_id", view.ID()).Msg("View connected")

	// Set up ping/pong handlers
	conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))
	})

	// Start ping ticker in separate goroutine
	go func() {
		ticker := time.NewTicker(timeouts.PingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(timeouts.WriteWait)
				if err := conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
					return
				}
			case <-view.done:
				return
			}
		}
	}()

	go view.writeLoop()
	view.send(ServerMessage{Type: MessageConnected, ViewID: view.ID()})

	// Message handling loop
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("view_id", view.ID()).Msg("Unexpected view closure")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(timeouts.PongWait))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			view.send(ServerMessage{Type: MessageError, Error: "Invalid message format"})
			continue
		}
		view.handle(msg)
	}
}

// submitError turns a rejected submit into a message for the view
func submitError(err error) string {
	var invalid validator.ValidationErrors
	switch {
	case errors.As(err, &invalid):
		for _, fe := range invalid {
			if fe.Tag() == "max" {
				return "Question is too long (at most 1000 characters)"
			}
		}
		return "Choose a knowledge base and enter a question"
	case errors.Is(err, query.ErrClosed):
		return "View is closed"
	default:
		return err.Error()
	}
}

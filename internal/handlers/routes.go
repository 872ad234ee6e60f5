package handlers

import (
	"net/http"

	"github.com/deepgram/kbquery/internal/connections"
	"github.com/deepgram/kbquery/internal/middleware"
	"github.com/deepgram/kbquery/internal/services"
	"github.com/gorilla/mux"
)

// NewRouter wires the view server endpoints
func NewRouter(svcs *services.Services, manager *connections.Manager) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/ws", middleware.RateLimit("view_connect")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleViewWebSocket(svcs, manager, w, r)
	})))

	r.HandleFunc("/blobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		HandleBlob(svcs, w, r)
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/knowledge-bases", func(w http.ResponseWriter, r *http.Request) {
		HandleListKnowledgeBases(svcs, w, r)
	}).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		HandleHealth(manager, w, r)
	}).Methods(http.MethodGet)

	return r
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/deepgram/kbquery/internal/connections"
	"github.com/deepgram/kbquery/internal/infrastructure/kb"
	"github.com/deepgram/kbquery/internal/logger"
	"github.com/deepgram/kbquery/internal/services"
	"github.com/deepgram/kbquery/internal/services/credentials"
	"github.com/deepgram/kbquery/internal/services/resource"
	"github.com/deepgram/kbquery/pkg/httpext"
	"github.com/gorilla/mux"
)

// HandleBlob serves a loaded resource by handle id
func HandleBlob(svcs *services.Services, w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	blob, err := svcs.GetLoader().Blob(r.Context(), id)
	if errors.Is(err, resource.ErrBlobNotFound) {
		httpext.JsonError(w, "Blob not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log := logger.For(logger.HANDLER)
		log.Error().Err(err).Str("handle", id).Msg("Failed to read blob")
		httpext.JsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	w.Write(blob.Data)
}

// HandleListKnowledgeBases proxies the knowledge-base listing for the picker
func HandleListKnowledgeBases(svcs *services.Services, w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	list, err := svcs.GetKBService().ListKnowledgeBases(r.Context(), page, pageSize)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	httpext.JsonResponse(w, http.StatusOK, list)
}

// HandleHealth reports liveness and the number of open views
func HandleHealth(manager *connections.Manager, w http.ResponseWriter, r *http.Request) {
	httpext.JsonResponse(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"views":  manager.GetViewCount(),
	})
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *kb.APIError
	switch {
	case errors.Is(err, credentials.ErrNoCredential), errors.Is(err, credentials.ErrCredentialExpired):
		httpext.JsonError(w, unwrapSentinel(err), http.StatusUnauthorized)
	case errors.Is(err, kb.ErrUnauthorized):
		httpext.JsonError(w, "Knowledge-base API rejected the credential", http.StatusUnauthorized)
	case errors.As(err, &apiErr):
		httpext.JsonErrorWithDetails(w, http.StatusBadGateway, httpext.ErrorResponse{
			Error:            "upstream_error",
			ErrorDescription: apiErr.Detail,
		})
	default:
		log := logger.For(logger.HANDLER)
		log.Error().Err(err).Msg("Knowledge-base request failed")
		httpext.JsonError(w, "Knowledge-base API unavailable", http.StatusBadGateway)
	}
}

func unwrapSentinel(err error) string {
	if errors.Is(err, credentials.ErrCredentialExpired) {
		return credentials.ErrCredentialExpired.Error()
	}
	return credentials.ErrNoCredential.Error()
}

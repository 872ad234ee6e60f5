package httpext

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrorResponse represents a standardised JSON error response
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// JsonError writes a JSON error response with the specified status code
func JsonError(w http.ResponseWriter, message string, code int) {
	JsonErrorWithDetails(w, code, ErrorResponse{Error: message})
}

// JsonErrorWithDetails writes a detailed JSON error response with optional description and URI
func JsonErrorWithDetails(w http.ResponseWriter, code int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().
			Err(err).
			Int("status", code).
			Msg("Failed to encode error response")
	}
}

// JsonResponse writes v as a JSON body with the given status code
func JsonResponse(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().
			Err(err).
			Int("status", code).
			Msg("Failed to encode response")
	}
}

// maxErrorBody bounds how much of an error body is read
const maxErrorBody = 64 * 1024

// ReadErrorDetail extracts the human readable reason from an API error body.
// It understands {"detail": "..."}, the validation form
// {"detail": [{"msg": "..."}]} and {"error": "..."}; anything else yields "".
func ReadErrorDetail(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(body) == 0 {
		return ""
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}

	if len(envelope.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(envelope.Detail, &detail); err == nil {
			return strings.TrimSpace(detail)
		}

		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(envelope.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}

	return strings.TrimSpace(envelope.Error)
}

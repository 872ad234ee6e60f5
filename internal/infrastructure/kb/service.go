package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/deepgram/kbquery/internal/config"
	"github.com/deepgram/kbquery/pkg/httpext"
	"github.com/rs/zerolog/log"
)

var (
	// ErrUnauthorized matches any 401 from the API; the credential must be renewed
	ErrUnauthorized = errors.New("knowledge-base API rejected the credential")

	ErrCrossOrigin      = errors.New("resource is not on the API origin")
	ErrResourceTooLarge = errors.New("resource exceeds size limit")
)

// APIError is a non-2xx answer from the knowledge-base API
type APIError struct {
	StatusCode int
	Detail     string
	Method     string
	Path       string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// TokenSource supplies the bearer credential for each call
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Service struct {
	client  *http.Client
	stream  *http.Client
	baseURL *url.URL
	tokens  TokenSource
}

// NewService builds a client from KB_API_URL and KB_HTTP_TIMEOUT
func NewService(tokens TokenSource) (*Service, error) {
	return New(config.GetAPIURL(), tokens, config.GetHTTPTimeout())
}

// New builds a client for baseURL. timeout bounds REST calls and resource
// fetches; answer streams only end with their context.
func New(baseURL string, tokens TokenSource, timeout time.Duration) (*Service, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API URL %q: scheme must be http or https", baseURL)
	}

	return &Service{
		client:  &http.Client{Timeout: timeout},
		stream:  &http.Client{},
		baseURL: u,
		tokens:  tokens,
	}, nil
}

// BaseURL returns the API root every path is resolved against
func (s *Service) BaseURL() string {
	return s.baseURL.String()
}

// Do sends a JSON request to path (relative to the API root) and decodes a
// JSON response into out. A 204 leaves out untouched.
func (s *Service) Do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := s.newRequest(ctx, method, s.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// OpenQueryStream starts an answer stream for question against one
// knowledge base. The caller owns the returned body.
func (s *Service) OpenQueryStream(ctx context.Context, kbID, question string) (io.ReadCloser, error) {
	query := url.Values{}
	query.Set("kb_id", kbID)
	query.Set("query", question)

	req, err := s.newRequest(ctx, http.MethodPost, s.endpoint("/query/stream", query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open query stream: %w", err)
	}

	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	log.Debug().
		Str("kb_id", kbID).
		Str("content_type", resp.Header.Get("Content-Type")).
		Msg("Query stream opened")

	return resp.Body, nil
}

// Resource is the body of a protected resource
type Resource struct {
	Data        []byte
	ContentType string
}

// FetchResource downloads a same-origin resource with the bearer credential.
// locator may be origin-relative ("/api/v1/documents/..") or an absolute URL
// on the API host. maxBytes <= 0 disables the size limit.
func (s *Service) FetchResource(ctx context.Context, locator string, maxBytes int64) (*Resource, error) {
	target, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}

	req, err := s.newRequest(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch resource: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		if resp.ContentLength > maxBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrResourceTooLarge, resp.ContentLength)
		}
		body = io.LimitReader(resp.Body, maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResourceTooLarge, maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return &Resource{Data: data, ContentType: contentType}, nil
}

// PaginationMeta describes one page of a listing
type PaginationMeta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type KnowledgeBase struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type KnowledgeBaseList struct {
	Items []KnowledgeBase `json:"items"`
	Meta  PaginationMeta  `json:"meta"`
}

// ListKnowledgeBases returns one page of the knowledge bases visible to the
// credential. Zero page or pageSize use the server defaults.
func (s *Service) ListKnowledgeBases(ctx context.Context, page, pageSize int) (*KnowledgeBaseList, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}

	var list KnowledgeBaseList
	if err := s.Do(ctx, http.MethodGet, "/knowledge-bases", query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *Service) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := s.Do(ctx, http.MethodGet, "/knowledge-bases/"+url.PathEscape(id), nil, nil, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

func (s *Service) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("no usable credential: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (s *Service) endpoint(path string, query url.Values) string {
	target := s.baseURL.String() + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return target
}

// resolve maps a locator onto the API origin and refuses other hosts, so the
// bearer credential never leaves it.
func (s *Service) resolve(locator string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(locator))
	if err != nil {
		return nil, fmt.Errorf("invalid resource locator %q: %w", locator, err)
	}

	target := s.baseURL.ResolveReference(ref)
	if target.Scheme != s.baseURL.Scheme || target.Host != s.baseURL.Host {
		return nil, fmt.Errorf("%w: %s", ErrCrossOrigin, target.Host)
	}
	return target, nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Detail:     httpext.ReadErrorDetail(resp.Body),
		Method:     resp.Request.Method,
		Path:       resp.Request.URL.Path,
	}

	if resp.StatusCode == http.StatusUnauthorized {
		log.Warn().
			Str("path", apiErr.Path).
			Msg("Knowledge-base API rejected the credential")
	} else {
		log.Error().
			Int("status", resp.StatusCode).
			Str("method", apiErr.Method).
			Str("path", apiErr.Path).
			Str("detail", apiErr.Detail).
			Msg("Knowledge-base API returned an error")
	}
	return apiErr
}

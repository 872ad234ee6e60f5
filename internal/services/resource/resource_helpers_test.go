package resource

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/deepgram/kbquery/internal/infrastructure/kb"
	"github.com/stretchr/testify/assert"
)

// fakeFetcher serves canned resources and can hold every fetch until released
type fakeFetcher struct {
	mu        sync.Mutex
	calls     map[string]int
	resources map[string]*kb.Resource
	gate      chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		calls: make(map[string]int),
		resources: map[string]*kb.Resource{
			"/api/v1/documents/d1/images/a.png": {Data: []byte("png-a"), ContentType: "image/png"},
			"/api/v1/documents/d1/images/b.png": {Data: []byte("png-b"), ContentType: "image/png"},
		},
	}
}

func (f *fakeFetcher) FetchResource(ctx context.Context, locator string, maxBytes int64) (*kb.Resource, error) {
	f.mu.Lock()
	f.calls[locator]++
	gate := f.gate
	res, ok := f.resources[locator]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, &kb.APIError{StatusCode: http.StatusNotFound, Method: http.MethodGet, Path: locator}
	}
	return res, nil
}

func (f *fakeFetcher) callCount(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[locator]
}

func newTestLoader(fetcher Fetcher) (*Loader, *MemoryStore) {
	store := NewMemoryStore(time.Minute)
	return NewLoader(fetcher, store, LoaderOptions{TTL: time.Minute, MaxBytes: 1 << 20}), store
}

func waitForWaiters(t *testing.T, l *Loader, locator string, n int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		f := l.flights[locator]
		return f != nil && f.waiters == n
	}, time.Second, 2*time.Millisecond)
}

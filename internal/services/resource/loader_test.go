package resource

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/deepgram/kbquery/internal/infrastructure/kb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const locatorA = "/api/v1/documents/d1/images/a.png"

func TestLoadExternal(t *testing.T) {
	fetcher := newFakeFetcher()
	loader, store := newTestLoader(fetcher)

	h, err := loader.Load(context.Background(), "https://cdn.example.com/logo.png")
	require.NoError(t, err)
	assert.True(t, h.External)
	assert.Equal(t, "https://cdn.example.com/logo.png", h.URL)
	assert.Empty(t, h.ID)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, fetcher.callCount("https://cdn.example.com/logo.png"))

	h.Release()
}

func TestLoadStoresBlob(t *testing.T) {
	loader, store := newTestLoader(newFakeFetcher())
	ctx := context.Background()

	h, err := loader.Load(ctx, "  "+locatorA+" ")
	require.NoError(t, err)
	assert.False(t, h.External)
	assert.Equal(t, locatorA, h.Locator)
	assert.Equal(t, "image/png", h.ContentType)
	assert.True(t, strings.HasPrefix(h.URL, BlobPathPrefix))
	assert.Equal(t, BlobPathPrefix+h.ID, h.URL)

	blob, err := loader.Blob(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-a"), blob.Data)
	assert.Equal(t, locatorA, blob.Source)

	h.Release()
	h.Release()
	_, err = loader.Blob(ctx, h.ID)
	assert.ErrorIs(t, err, ErrBlobNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestLoadErrors(t *testing.T) {
	loader, _ := newTestLoader(newFakeFetcher())

	_, err := loader.Load(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyLocator)

	_, err = loader.Load(context.Background(), "/api/v1/documents/d1/images/missing.png")
	var apiErr *kb.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	loader, _ := newTestLoader(fetcher)

	const callers = 5
	var wg sync.WaitGroup
	handles := make([]*Handle, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = loader.Load(context.Background(), locatorA)
		}(i)
	}

	waitForWaiters(t, loader, locatorA, callers)
	close(fetcher.gate)
	wg.Wait()

	assert.Equal(t, 1, fetcher.callCount(locatorA))
	seen := make(map[string]bool)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[handles[i].ID], "handles must be distinct")
		seen[handles[i].ID] = true
	}
}

func TestAbandonedCallerDoesNotCancelOthers(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	loader, _ := newTestLoader(fetcher)

	impatient, cancel := context.WithCancel(context.Background())
	impatientErr := make(chan error, 1)
	go func() {
		_, err := loader.Load(impatient, locatorA)
		impatientErr <- err
	}()
	waitForWaiters(t, loader, locatorA, 1)

	patient := make(chan *Handle, 1)
	go func() {
		h, err := loader.Load(context.Background(), locatorA)
		assert.NoError(t, err)
		patient <- h
	}()
	waitForWaiters(t, loader, locatorA, 2)

	cancel()
	assert.True(t, errors.Is(<-impatientErr, context.Canceled))
	waitForWaiters(t, loader, locatorA, 1)

	close(fetcher.gate)
	h := <-patient
	require.NotNil(t, h)
	assert.Equal(t, 1, fetcher.callCount(locatorA))
}

func TestLastCallerLeavingCancelsFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	defer close(fetcher.gate)
	loader, _ := newTestLoader(fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := loader.Load(ctx, locatorA)
		done <- err
	}()
	waitForWaiters(t, loader, locatorA, 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	loader.mu.Lock()
	defer loader.mu.Unlock()
	assert.Empty(t, loader.flights)
}

func TestIsExternal(t *testing.T) {
	assert.True(t, IsExternal("http://example.com/a.png"))
	assert.True(t, IsExternal("https://example.com/a.png"))
	assert.False(t, IsExternal("/api/v1/documents/d/images/a.png"))
	assert.False(t, IsExternal("ftp://example.com/a.png"))
}

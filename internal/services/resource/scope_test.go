package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const locatorB = "/api/v1/documents/d1/images/b.png"

func TestScopeAcquire(t *testing.T) {
	fetcher := newFakeFetcher()
	loader, store := newTestLoader(fetcher)
	scope := loader.NewScope(context.Background())
	defer scope.Close()

	img := scope.Acquire(context.Background(), "0", locatorA)
	assert.Equal(t, ImageReady, img.State)
	assert.Equal(t, "0", img.Slot)
	assert.Equal(t, locatorA, img.Locator)
	assert.Contains(t, img.URL, BlobPathPrefix)
	assert.Empty(t, img.Error)

	again := scope.Acquire(context.Background(), "0", locatorA)
	assert.Equal(t, img.URL, again.URL)
	assert.Equal(t, 1, fetcher.callCount(locatorA))
	assert.Equal(t, 1, store.Len())
}

func TestScopeSupersedeReleasesPreviousHandle(t *testing.T) {
	loader, store := newTestLoader(newFakeFetcher())
	scope := loader.NewScope(context.Background())
	defer scope.Close()
	ctx := context.Background()

	first := scope.Acquire(ctx, "0", locatorA)
	require.Equal(t, ImageReady, first.State)

	second := scope.Acquire(ctx, "0", locatorB)
	require.Equal(t, ImageReady, second.State)
	assert.NotEqual(t, first.URL, second.URL)

	_, err := loader.Blob(ctx, first.URL[len(BlobPathPrefix):])
	assert.ErrorIs(t, err, ErrBlobNotFound)
	assert.Equal(t, 1, store.Len())

	scope.Release("0")
	assert.Equal(t, 0, store.Len())
}

func TestScopeFailureIsAState(t *testing.T) {
	loader, _ := newTestLoader(newFakeFetcher())
	scope := loader.NewScope(context.Background())
	defer scope.Close()

	img := scope.Acquire(context.Background(), "3", "/api/v1/documents/d1/images/gone.png")
	assert.Equal(t, ImageFailed, img.State)
	assert.Contains(t, img.Error, "status 404")
	assert.Empty(t, img.URL)
}

func TestScopeExternal(t *testing.T) {
	loader, store := newTestLoader(newFakeFetcher())
	scope := loader.NewScope(context.Background())
	defer scope.Close()

	img := scope.Acquire(context.Background(), "1", "https://cdn.example.com/x.png")
	assert.Equal(t, ImageExternal, img.State)
	assert.Equal(t, "https://cdn.example.com/x.png", img.URL)
	assert.Equal(t, 0, store.Len())
}

func TestScopeCloseReleasesEverything(t *testing.T) {
	loader, store := newTestLoader(newFakeFetcher())
	scope := loader.NewScope(context.Background())
	ctx := context.Background()

	scope.Acquire(ctx, "0", locatorA)
	scope.Acquire(ctx, "1", locatorB)
	require.Equal(t, 2, store.Len())

	scope.Close()
	scope.Close()
	assert.Equal(t, 0, store.Len())

	img := scope.Acquire(ctx, "2", locatorA)
	assert.Equal(t, ImageFailed, img.State)
	assert.Equal(t, ErrScopeClosed.Error(), img.Error)
}

func TestScopeCloseCancelsInFlightLoads(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	defer close(fetcher.gate)
	loader, store := newTestLoader(fetcher)
	scope := loader.NewScope(context.Background())

	result := make(chan Image, 1)
	go func() {
		result <- scope.Acquire(context.Background(), "0", locatorA)
	}()
	waitForWaiters(t, loader, locatorA, 1)

	scope.Close()

	select {
	case img := <-result:
		assert.Equal(t, ImageFailed, img.State)
		assert.Equal(t, ErrScopeClosed.Error(), img.Error)
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after close")
	}
	assert.Equal(t, 0, store.Len())
}

func TestScopeAcquireHonoursCallerContext(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	defer close(fetcher.gate)
	loader, _ := newTestLoader(fetcher)
	scope := loader.NewScope(context.Background())
	defer scope.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	img := scope.Acquire(ctx, "0", locatorA)
	assert.Equal(t, ImageFailed, img.State)
	assert.Contains(t, img.Error, "context canceled")
}

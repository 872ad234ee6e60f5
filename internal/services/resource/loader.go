package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/deepgram/kbquery/internal/config"
	"github.com/deepgram/kbquery/internal/infrastructure/kb"
	"github.com/deepgram/kbquery/internal/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// BlobPathPrefix is where the view server exposes stored blobs
const BlobPathPrefix = "/blobs/"

// maxSharedRetries bounds how often a caller re-joins after a shared fetch
// was abandoned by every other caller
const maxSharedRetries = 3

var ErrEmptyLocator = errors.New("empty resource locator")

// Fetcher downloads protected resources with the caller's credential
type Fetcher interface {
	FetchResource(ctx context.Context, locator string, maxBytes int64) (*kb.Resource, error)
}

// Handle is a locally servable reference to one loaded resource. External
// handles point straight at a public URL and own nothing.
type Handle struct {
	ID          string
	Locator     string
	URL         string
	ContentType string
	External    bool

	once    sync.Once
	release func()
}

// Release frees the stored blob. It is safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

type LoaderOptions struct {
	TTL      time.Duration
	MaxBytes int64
}

type Loader struct {
	fetcher  Fetcher
	store    BlobStore
	ttl      time.Duration
	maxBytes int64

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

// flight tracks the callers waiting on one shared fetch so it can be
// cancelled once nobody wants the result.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func NewLoader(fetcher Fetcher, store BlobStore, opts LoaderOptions) *Loader {
	if opts.TTL == 0 {
		opts.TTL = config.GetBlobTTL()
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = config.GetResourceMaxBytes()
	}
	return &Loader{
		fetcher:  fetcher,
		store:    store,
		ttl:      opts.TTL,
		maxBytes: opts.MaxBytes,
		flights:  make(map[string]*flight),
	}
}

// IsExternal reports whether locator is an absolute public URL that needs no credential
func IsExternal(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}

// Load resolves locator into a handle. Same-origin resources are fetched with
// the credential and stored; concurrent loads of one locator share a fetch.
func (l *Loader) Load(ctx context.Context, locator string) (*Handle, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, ErrEmptyLocator
	}

	if IsExternal(locator) {
		return &Handle{Locator: locator, URL: locator, External: true}, nil
	}

	res, err := l.fetchShared(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", locator, err)
	}

	id := uuid.New().String()
	blob := &Blob{Data: res.Data, ContentType: res.ContentType, Source: locator}
	if err := l.store.Put(ctx, id, blob, l.ttl); err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", locator, err)
	}

	log := logger.For(logger.RESOURCE)
	log.Debug().
		Str("handle", id).
		Str("locator", locator).
		Int("bytes", len(res.Data)).
		Msg("Resource loaded")

	return &Handle{
		ID:          id,
		Locator:     locator,
		URL:         BlobPathPrefix + id,
		ContentType: res.ContentType,
		release:     func() { l.release(id) },
	}, nil
}

// Blob returns a stored blob by handle id
func (l *Loader) Blob(ctx context.Context, id string) (*Blob, error) {
	return l.store.Get(ctx, id)
}

func (l *Loader) fetchShared(ctx context.Context, locator string) (*kb.Resource, error) {
	for attempt := 0; ; attempt++ {
		res, err := l.join(ctx, locator)
		if err == nil {
			return res, nil
		}
		// the shared fetch was cancelled on behalf of other callers
		if errors.Is(err, context.Canceled) && ctx.Err() == nil && attempt < maxSharedRetries {
			continue
		}
		return nil, err
	}
}

func (l *Loader) join(ctx context.Context, locator string) (*kb.Resource, error) {
	f := l.enter(locator)
	defer l.leave(locator, f)

	ch := l.group.DoChan(locator, func() (interface{}, error) {
		return l.fetcher.FetchResource(f.ctx, locator, l.maxBytes)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*kb.Resource), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) enter(locator string) *flight {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.flights[locator]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		f = &flight{ctx: ctx, cancel: cancel}
		l.flights[locator] = f
	}
	f.waiters++
	return f
}

func (l *Loader) leave(locator string, f *flight) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if l.flights[locator] == f {
		delete(l.flights, locator)
	}
}

func (l *Loader) release(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.Delete(ctx, id); err != nil {
		log := logger.For(logger.RESOURCE)
		log.Warn().
			Err(err).
			Str("handle", id).
			Msg("Failed to release blob")
	}
}

package resource

import (
	"context"
	"errors"
	"sync"

	"github.com/deepgram/kbquery/internal/logger"
)

var (
	ErrScopeClosed = errors.New("resource scope closed")
	ErrSuperseded  = errors.New("resource slot was reassigned")
)

// ImageState is what a view shows in place of an embedded image
type ImageState string

const (
	ImageReady    ImageState = "ready"
	ImageExternal ImageState = "external"
	ImageFailed   ImageState = "failed"
)

// Image is the outcome of acquiring one embedded image
type Image struct {
	Slot    string     `json:"slot"`
	Locator string     `json:"locator"`
	State   ImageState `json:"state"`
	URL     string     `json:"url,omitempty"`
	Error   string     `json:"error,omitempty"`
}

type slotEntry struct {
	locator string
	token   uint64
	handle  *Handle
}

// Scope owns the handles created for one session. Every handle it hands out
// is released when its slot is reassigned or the scope is closed.
type Scope struct {
	loader *Loader
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	slots  map[string]*slotEntry
	seq    uint64
	closed bool
}

func (l *Loader) NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{
		loader: l,
		ctx:    ctx,
		cancel: cancel,
		slots:  make(map[string]*slotEntry),
	}
}

// Acquire loads locator into slot and blocks until it is ready or has failed.
// A failure is reported in the returned Image, never as a panic.
func (s *Scope) Acquire(ctx context.Context, slot, locator string) Image {
	img := Image{Slot: slot, Locator: locator}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return failed(img, ErrScopeClosed)
	}
	if cur := s.slots[slot]; cur != nil && cur.locator == locator && cur.handle != nil {
		h := cur.handle
		s.mu.Unlock()
		return ready(img, h)
	}
	superseded := s.slots[slot]
	s.seq++
	token := s.seq
	s.slots[slot] = &slotEntry{locator: locator, token: token}
	s.mu.Unlock()

	if superseded != nil && superseded.handle != nil {
		superseded.handle.Release()
	}

	loadCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	h, err := s.loader.Load(loadCtx, locator)

	s.mu.Lock()
	cur := s.slots[slot]
	if s.closed || cur == nil || cur.token != token {
		closed := s.closed
		s.mu.Unlock()
		if h != nil {
			h.Release()
		}
		if closed {
			return failed(img, ErrScopeClosed)
		}
		return failed(img, ErrSuperseded)
	}
	if err != nil {
		delete(s.slots, slot)
		s.mu.Unlock()

		log := logger.For(logger.RESOURCE)
		log.Warn().
			Err(err).
			Str("slot", slot).
			Str("locator", locator).
			Msg("Image failed to load")
		return failed(img, err)
	}
	cur.handle = h
	s.mu.Unlock()

	return ready(img, h)
}

// Release frees the handle held by slot, if any
func (s *Scope) Release(slot string) {
	s.mu.Lock()
	cur := s.slots[slot]
	delete(s.slots, slot)
	s.mu.Unlock()

	if cur != nil && cur.handle != nil {
		cur.handle.Release()
	}
}

// Close cancels in-flight loads and releases every handle. Loads finishing
// afterwards release their handle immediately.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	handles := make([]*Handle, 0, len(s.slots))
	for _, entry := range s.slots {
		if entry.handle != nil {
			handles = append(handles, entry.handle)
		}
	}
	s.slots = make(map[string]*slotEntry)
	s.mu.Unlock()

	for _, h := range handles {
		h.Release()
	}
}

func ready(img Image, h *Handle) Image {
	img.URL = h.URL
	img.State = ImageReady
	if h.External {
		img.State = ImageExternal
	}
	return img
}

func failed(img Image, err error) Image {
	img.State = ImageFailed
	img.Error = err.Error()
	return img
}

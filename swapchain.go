package swsurface

import (
	"fmt"
	"math"
	"sync"
)

// SlotState is the lifecycle state of one swapchain image slot.
type SlotState int32

const (
	// SlotUninitialized means the slot has no backing storage yet; the
	// surface has not been configured.
	SlotUninitialized SlotState = iota
	// SlotFree means the slot's storage is valid and available.
	SlotFree
	// SlotLocked means the application holds a writable view of the slot.
	SlotLocked
	// SlotPresenting means the slot was submitted and the presenter has not
	// released it yet.
	SlotPresenting
)

// String returns the state's name.
func (s SlotState) String() string {
	switch s {
	case SlotUninitialized:
		return "Uninitialized"
	case SlotFree:
		return "Free"
	case SlotLocked:
		return "Locked"
	case SlotPresenting:
		return "Presenting"
	default:
		return "SlotState(unknown)"
	}
}

// swapchain is the image-pool lifecycle manager. It owns the ordered set of
// slot states, the current ImageInfo and the ready notifier, and drives the
// backend. One surface owns exactly one swapchain.
//
// All state transitions happen under mu and are therefore linearizable per
// slot. Completion events from a connection's event goroutine enter through
// release, taking the same mutex. The ready callback and the backend's Submit
// are always invoked with mu unlocked.
type swapchain struct {
	backend Backend
	align   Align

	surfaceID uint64
	ready     func(uint64)

	mu         sync.Mutex
	cond       *sync.Cond
	states     []SlotState
	info       ImageInfo
	configured bool
	lost       bool
	armed      bool
}

func newSwapchain(backend Backend, cfg Config, surfaceID uint64) (*swapchain, error) {
	if cfg.ScanlineAlign == 0 {
		cfg.ScanlineAlign = 1
	}
	align, err := NewAlign(cfg.ScanlineAlign)
	if err != nil {
		return nil, err
	}
	n := backend.NumImages()
	if n <= 0 {
		return nil, fmt.Errorf("swsurface: backend reports %d images", n)
	}
	s := &swapchain{
		backend:   backend,
		align:     align,
		surfaceID: surfaceID,
		ready:     cfg.Ready,
		states:    make([]SlotState, n),
	}
	s.cond = sync.NewCond(&s.mu)
	if backend.Asynchronous() {
		backend.OnRelease(s.release)
	}
	return s, nil
}

// reconfigure computes the new ImageInfo and resizes every slot's storage.
// It is a barrier: it refuses to run while any slot is locked and invalidates
// all previously returned ImageInfo snapshots and locked views.
func (s *swapchain) reconfigure(width, height uint32, format PixelFormat) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: zero extent", ErrInvalidState)
	}
	if width > math.MaxInt32 || height > math.MaxInt32 {
		return ErrOverflow
	}
	if !formatSupported(s.backend, format) {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}

	stride, ok := s.align.AlignUp(int(width) * bytesPerPixel)
	if !ok || stride > math.MaxInt32 {
		return ErrOverflow
	}
	if int(height) > maxInt/stride {
		return ErrOverflow
	}
	info := ImageInfo{Width: width, Height: height, Stride: stride, Format: format}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.states {
		if st == SlotLocked {
			return fmt.Errorf("%w: image %d is locked", ErrInvalidState, i)
		}
	}
	if err := s.backend.Reconfigure(info); err != nil {
		return fmt.Errorf("swsurface: reconfigure: %w", err)
	}
	for i, st := range s.states {
		// Presenting slots keep their state: the presenter still owes a
		// release event for them.
		if st == SlotUninitialized {
			s.states[i] = SlotFree
		}
	}
	s.info = info
	s.configured = true
	s.cond.Broadcast()
	return nil
}

// imageInfo returns the current geometry snapshot.
func (s *swapchain) imageInfo() ImageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// pollNextImage scans for a free slot and returns its index immediately.
// If none is free it arms the ready notifier and returns ok=false; the
// configured Ready callback will fire exactly once when a slot is released,
// no matter how many polls failed in between. Acquisition does not take the
// slot out of the free set: repeated polls return the same index until that
// index is presented.
func (s *swapchain) pollNextImage() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lost || !s.configured {
		return 0, false
	}
	for i, st := range s.states {
		if st == SlotFree {
			s.armed = false
			return i, true
		}
	}
	s.armed = true
	return 0, false
}

// waitNextImage blocks the calling goroutine until a slot is free and returns
// its index. Returns ok=false if the surface can no longer present.
func (s *swapchain) waitNextImage() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.lost || !s.configured {
			return 0, false
		}
		for i, st := range s.states {
			if st == SlotFree {
				return i, true
			}
		}
		s.cond.Wait()
	}
}

// lockImage transitions slot i from Free to Locked and returns a writable
// view over exactly Stride*Height bytes. At most one lock per slot may be
// outstanding; locking a locked or presenting slot fails with ErrImageBusy.
func (s *swapchain) lockImage(i int) (*LockedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.states) {
		return nil, fmt.Errorf("%w: image %d out of range", ErrInvalidState, i)
	}
	switch s.states[i] {
	case SlotUninitialized:
		return nil, ErrUninitialized
	case SlotLocked, SlotPresenting:
		return nil, fmt.Errorf("%w: image %d is %v", ErrImageBusy, i, s.states[i])
	}
	s.states[i] = SlotLocked
	return &LockedImage{pool: s, index: i, data: s.backend.Bytes(i)[:s.info.Size()]}, nil
}

// presentImage transitions slot i from Free to Presenting and submits it;
// any other slot state fails with ErrInvalidState.
// On synchronous backends the slot is freed again before presentImage
// returns; on asynchronous backends it stays Presenting until the release
// event arrives. A failed submission rolls the slot back to Free and the
// surface remains usable.
func (s *swapchain) presentImage(i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.states) {
		s.mu.Unlock()
		return fmt.Errorf("%w: image %d out of range", ErrInvalidState, i)
	}
	if s.lost {
		s.mu.Unlock()
		return ErrSurfaceLost
	}
	if st := s.states[i]; st != SlotFree {
		s.mu.Unlock()
		return fmt.Errorf("%w: image %d is %v", ErrInvalidState, i, st)
	}
	s.states[i] = SlotPresenting
	info := s.info
	s.mu.Unlock()

	if err := s.backend.Submit(i, info); err != nil {
		s.mu.Lock()
		s.states[i] = SlotFree
		s.cond.Broadcast()
		s.mu.Unlock()
		return fmt.Errorf("swsurface: present: %w", err)
	}
	if !s.backend.Asynchronous() {
		// The submission call blocked until the pixels were consumed.
		s.release(i)
	}
	return nil
}

// release is the completion entry point: the presenter is done with slot i.
// Called from the connection's event goroutine on asynchronous backends and
// inline on synchronous ones.
func (s *swapchain) release(i int) {
	s.mu.Lock()
	if i < 0 || i >= len(s.states) || s.states[i] != SlotPresenting {
		s.mu.Unlock()
		return
	}
	s.states[i] = SlotFree
	s.cond.Broadcast()
	fire := s.disarm()
	s.mu.Unlock()
	fire()
}

// unlock returns slot i to the free set. Called by LockedImage.
func (s *swapchain) unlock(i int) {
	s.mu.Lock()
	if s.states[i] != SlotLocked {
		s.mu.Unlock()
		return
	}
	s.states[i] = SlotFree
	s.cond.Broadcast()
	fire := s.disarm()
	s.mu.Unlock()
	fire()
}

// disarm clears the notifier latch and returns the callback to invoke, or a
// no-op. Must be called with mu held; the result must be called after mu is
// released so the callback can re-enter the pool.
func (s *swapchain) disarm() func() {
	if !s.armed || s.ready == nil {
		return func() {}
	}
	s.armed = false
	ready, id := s.ready, s.surfaceID
	return func() { ready(id) }
}

// markLost makes the surface permanently unable to present and wakes all
// waiters. Used on connection loss and teardown.
func (s *swapchain) markLost() {
	s.mu.Lock()
	s.lost = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// numImages returns the fixed slot count.
func (s *swapchain) numImages() int {
	return len(s.states)
}

// slotState reports the current state of slot i.
func (s *swapchain) slotState(i int) SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[i]
}

// LockedImage is an exclusive, writable view of one swapchain image. It is
// valid until Unlock is called; the surface cannot be reconfigured while any
// view is outstanding.
type LockedImage struct {
	pool  *swapchain
	index int
	data  []byte
}

// Bytes returns the pixel storage, exactly Stride*Height bytes.
func (l *LockedImage) Bytes() []byte {
	return l.data
}

// Index returns the slot index this view belongs to.
func (l *LockedImage) Index() int {
	return l.index
}

// Unlock returns the image to the free set. The view must not be used
// afterwards. Unlock is idempotent.
func (l *LockedImage) Unlock() {
	if l.pool == nil {
		return
	}
	pool := l.pool
	l.pool = nil
	l.data = nil
	pool.unlock(l.index)
}

func formatSupported(b Backend, format PixelFormat) bool {
	for _, f := range b.SupportedFormats() {
		if f == format {
			return true
		}
	}
	return false
}

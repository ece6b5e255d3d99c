package swsurface

import "sync/atomic"

var surfaceIDs atomic.Uint64

// Surface is a software-rendered surface attached to a window. The backend is
// chosen once at construction; use NewOffscreenSurface, NewWaylandSurface or
// NewWindowSurface depending on the platform.
//
// A surface is owned by one goroutine. The only cross-goroutine traffic is
// the flow of completion events from the display connection into slot state,
// which the pool handles internally.
//
// The surface must be closed before the window object or display connection
// it was attached to is destroyed.
type Surface struct {
	id      uint64
	pool    *swapchain
	backend Backend
	closed  bool
}

func newSurface(backend Backend, cfg Config) (*Surface, error) {
	id := surfaceIDs.Add(1)
	pool, err := newSwapchain(backend, cfg, id)
	if err != nil {
		backend.Close()
		return nil, err
	}
	// Backends tied to a display connection report its death so waiters can
	// unblock.
	if lossy, ok := backend.(interface{ OnConnectionLost(func()) }); ok {
		lossy.OnConnectionLost(pool.markLost)
	}
	return &Surface{id: id, pool: pool, backend: backend}, nil
}

// ID identifies this surface in Ready callbacks.
func (s *Surface) ID() uint64 {
	return s.id
}

// UpdateSurface updates the swapchain geometry. It must be called at least
// once before acquiring images, and again after every window resize.
//
// Fails with ErrInvalidState while an image is locked, ErrUnsupportedFormat
// if the backend rejects the format, and ErrOverflow if the stride or image
// size cannot be represented.
func (s *Surface) UpdateSurface(width, height uint32, format PixelFormat) error {
	return s.pool.reconfigure(width, height, format)
}

// SupportedFormats enumerates the pixel formats accepted by the backend.
func (s *Surface) SupportedFormats() []PixelFormat {
	return s.backend.SupportedFormats()
}

// ImageInfo returns the geometry of the current swapchain images. The
// snapshot is invalidated by the next UpdateSurface.
func (s *Surface) ImageInfo() ImageInfo {
	return s.pool.imageInfo()
}

// NumImages returns the number of swapchain images. The value is fixed at
// construction and only useful for tracking per-image dirty regions when
// DoesPreserveImage reports true.
func (s *Surface) NumImages() int {
	return s.pool.numImages()
}

// DoesPreserveImage reports whether swapchain images keep their contents when
// their indices come around again. All shipped backends preserve contents.
func (s *Surface) DoesPreserveImage() bool {
	return true
}

// PollNextImage returns the index of a free swapchain image, or ok=false if
// none is available right now. A failed poll arms the Ready callback; it will
// fire exactly once when an image is released, regardless of how many polls
// failed in between.
func (s *Surface) PollNextImage() (index int, ok bool) {
	return s.pool.pollNextImage()
}

// WaitNextImage blocks until a swapchain image is free and returns its index.
// Returns ok=false if the surface became permanently unable to present.
func (s *Surface) WaitNextImage() (index int, ok bool) {
	return s.pool.waitNextImage()
}

// LockImage acquires a writable view of image i. The index must have been
// returned by PollNextImage or WaitNextImage. The view must be unlocked
// before presenting.
func (s *Surface) LockImage(i int) (*LockedImage, error) {
	return s.pool.lockImage(i)
}

// PresentImage enqueues presentation of image i. The image must be free:
// presenting a locked, in-flight or unconfigured image fails with
// ErrInvalidState. On backends without asynchronous completion the call returns after
// the pixels were handed over and the image is immediately reusable.
func (s *Surface) PresentImage(i int) error {
	return s.pool.presentImage(i)
}

// Close detaches the surface and releases all slot storage. Pending
// presenter-side resources are released best-effort. Close must be called
// before the underlying window or connection is destroyed.
func (s *Surface) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.markLost()
	return s.backend.Close()
}

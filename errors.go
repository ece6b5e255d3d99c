package swsurface

import "errors"

// Errors returned by the swapchain core. Backend-specific present failures are
// wrapped and can be unwrapped with errors.Is/As.
var (
	// ErrInvalidAlignment means an alignment value was zero or not a power
	// of two.
	ErrInvalidAlignment = errors.New("swsurface: alignment must be a power of two")

	// ErrOverflow means a stride or image size computation overflowed.
	ErrOverflow = errors.New("swsurface: image size overflows")

	// ErrImageBusy means the image is locked or in use by the presenter.
	// The caller should acquire an image first and retry.
	ErrImageBusy = errors.New("swsurface: image busy")

	// ErrInvalidState means an operation was attempted on a slot whose state
	// does not permit it, e.g. presenting an image that was never acquired or
	// reconfiguring while an image is locked.
	ErrInvalidState = errors.New("swsurface: invalid image state")

	// ErrUninitialized means the surface was used before the first call to
	// UpdateSurface.
	ErrUninitialized = errors.New("swsurface: surface not initialized")

	// ErrUnsupportedFormat means the backend does not support the requested
	// pixel format. Pick another one from SupportedFormats.
	ErrUnsupportedFormat = errors.New("swsurface: pixel format not supported")

	// ErrSurfaceLost means the surface became permanently unable to present,
	// e.g. its window or connection went away.
	ErrSurfaceLost = errors.New("swsurface: surface can no longer present")

	// ErrConnectionLost means the physical display connection died. Every
	// surface on it is permanently unusable.
	ErrConnectionLost = errors.New("swsurface: display connection lost")
)

package swsurface

// Backend is the platform-specific half of a surface: it owns the slot
// storage and the submission call that hands pixels to the compositor or
// driver. The swapchain core drives it and never touches platform objects
// directly.
//
// Implementations are not required to be safe for concurrent use; the core
// serializes all calls except Bytes, which is only handed out while the slot
// is locked by exactly one caller.
type Backend interface {
	// SupportedFormats returns the pixel formats this backend accepts.
	// Queried on every reconfiguration.
	SupportedFormats() []PixelFormat

	// NumImages returns the number of swapchain images the backend provides.
	// Fixed for the backend's lifetime.
	NumImages() int

	// Reconfigure resizes every slot's storage for the new geometry.
	// Previous Bytes slices are invalidated.
	Reconfigure(info ImageInfo) error

	// Bytes returns the writable storage of slot i under the current
	// configuration. Only valid after a successful Reconfigure.
	Bytes(i int) []byte

	// Submit hands slot i to the presenter. On asynchronous backends the
	// slot stays in use until the release callback fires for it; on
	// synchronous backends the pixels are on screen when Submit returns.
	Submit(i int, info ImageInfo) error

	// Asynchronous reports whether completion is signalled later through
	// the callback registered with OnRelease.
	Asynchronous() bool

	// OnRelease registers the completion callback, invoked once per
	// submitted slot when the presenter is done with it. Asynchronous
	// backends call it from their connection's event goroutine; synchronous
	// backends never call it. Registered once, before the first Submit.
	OnRelease(fn func(slot int))

	// Close releases all backend resources. Pending presenter-side objects
	// are released best-effort. The backend must not be used afterwards.
	Close() error
}

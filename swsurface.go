// Package swsurface provides software-rendered swapchains for platform windows.
//
// The package exposes a small pool of CPU-writable pixel buffers per surface and
// a presentation operation that hands a finished buffer to the platform
// compositor or driver. It is meant as a minimal drawing path that works even
// when GPU APIs are unavailable or broken, and as a fallback when they fail at
// runtime.
//
// A surface is attached to an existing window object; window creation and event
// loop integration stay with the application. Three backends are provided: a
// Wayland shm backend (asynchronous buffer release), a Windows GDI backend
// (synchronous present) and an offscreen backend usable everywhere.
package swsurface

// PixelFormat specifies the layout of one 32-bit pixel.
//
// A backend may support only a subset. ARGB8888 is mandatory on every shipped
// backend.
type PixelFormat int32

const (
	// ARGB8888 is a 32-bit packed format with alpha in the high byte.
	ARGB8888 PixelFormat = iota
	// XRGB8888 is a 32-bit packed format whose high byte is ignored.
	XRGB8888
)

// String returns the format's conventional name.
func (f PixelFormat) String() string {
	switch f {
	case ARGB8888:
		return "ARGB8888"
	case XRGB8888:
		return "XRGB8888"
	default:
		return "PixelFormat(unknown)"
	}
}

// bytesPerPixel is fixed: only 32-bit packed formats are supported.
const bytesPerPixel = 4

// ImageInfo describes the geometry of the current swapchain images.
//
// A swapchain image is a row-major, top-down bitmap. Stride is the byte offset
// between rows and is always the lowest multiple of the configured scanline
// alignment that is >= 4*width.
type ImageInfo struct {
	// Width and Height of the image in pixels.
	Width, Height uint32
	// Stride is the offset between rows, in bytes.
	Stride int
	// Format is the pixel format.
	Format PixelFormat
}

// Size returns the byte size of one image, Stride*Height.
func (ii ImageInfo) Size() int {
	return ii.Stride * int(ii.Height)
}

// Config holds surface creation parameters.
type Config struct {
	// ImageCount is the preferred number of swapchain images.
	// Backends without asynchronous completion signalling may use fewer.
	ImageCount int

	// ScanlineAlign is the row alignment requirement in bytes.
	// Must be a power of two. 1 means rows are packed tight.
	ScanlineAlign int

	// VSync requests presentation synchronized to the display refresh.
	// Backends that cannot honor it present immediately.
	VSync bool

	// Opaque specifies whether the surface content is opaque.
	// If false, the content is blended over whatever is below the window and
	// alpha values are interpreted as premultiplied alpha on every backend.
	// The window itself must have been created with transparency enabled and
	// the surface must use a format with an alpha channel.
	Opaque bool

	// Ready, if non-nil, is called when a previously exhausted swapchain has
	// an image available again. It fires at most once per failed poll and is
	// invoked from the connection's event goroutine (or the presenting
	// goroutine on synchronous backends), never with internal locks held.
	// The argument identifies the surface, see Surface.ID.
	Ready func(surface uint64)
}

// DefaultConfig returns the default surface configuration: two images,
// packed rows, vsync on, opaque.
func DefaultConfig() Config {
	return Config{
		ImageCount:    2,
		ScanlineAlign: 1,
		VSync:         true,
		Opaque:        true,
	}
}

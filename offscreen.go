package swsurface

import (
	"image"
	"sync"
)

// OffscreenBackend presents into process memory instead of a window. It is
// available on every platform and serves as the fallback when no compositor
// is reachable, and as the test vehicle for the swapchain core.
//
// Present is synchronous: Submit converts the slot's pixels into an RGBA
// snapshot and the image is immediately reusable.
type OffscreenBackend struct {
	count int
	bufs  []*Buffer

	mu    sync.Mutex
	front *image.RGBA
}

// NewOffscreenSurface creates a surface backed by process memory.
func NewOffscreenSurface(cfg Config) (*Surface, error) {
	count := cfg.ImageCount
	if count <= 0 {
		count = DefaultConfig().ImageCount
	}
	b := &OffscreenBackend{count: count, bufs: make([]*Buffer, count)}
	return newSurface(b, cfg)
}

// SupportedFormats returns both 32-bit packed formats.
func (b *OffscreenBackend) SupportedFormats() []PixelFormat {
	return []PixelFormat{ARGB8888, XRGB8888}
}

// NumImages returns the configured image count.
func (b *OffscreenBackend) NumImages() int {
	return b.count
}

// Reconfigure resizes each slot's aligned buffer for the new geometry.
func (b *OffscreenBackend) Reconfigure(info ImageInfo) error {
	for i := range b.bufs {
		if b.bufs[i] == nil {
			buf, err := NewBuffer(info.Size(), storageAlign)
			if err != nil {
				return err
			}
			b.bufs[i] = buf
			continue
		}
		if err := b.bufs[i].Resize(info.Size()); err != nil {
			return err
		}
	}
	return nil
}

// storageAlign is the backing-store alignment for memory-owned backends.
// 64 keeps rows on cache-line boundaries for the common packed case.
const storageAlign = 64

// Bytes returns slot i's storage.
func (b *OffscreenBackend) Bytes(i int) []byte {
	return b.bufs[i].Bytes()
}

// Submit converts slot i into the front snapshot.
func (b *OffscreenBackend) Submit(i int, info ImageInfo) error {
	src := b.bufs[i].Bytes()
	img := image.NewRGBA(image.Rect(0, 0, int(info.Width), int(info.Height)))
	for y := 0; y < int(info.Height); y++ {
		row := src[y*info.Stride:]
		out := img.Pix[y*img.Stride:]
		for x := 0; x < int(info.Width); x++ {
			// Little-endian packed [AX]RGB: bytes are B, G, R, A.
			p := row[x*4 : x*4+4]
			out[x*4+0] = p[2]
			out[x*4+1] = p[1]
			out[x*4+2] = p[0]
			if info.Format == ARGB8888 {
				out[x*4+3] = p[3]
			} else {
				out[x*4+3] = 0xff
			}
		}
	}
	b.mu.Lock()
	b.front = img
	b.mu.Unlock()
	return nil
}

// Asynchronous reports false: Submit completes the presentation.
func (b *OffscreenBackend) Asynchronous() bool {
	return false
}

// OnRelease is never called for synchronous backends.
func (b *OffscreenBackend) OnRelease(func(int)) {}

// Close drops all slot storage.
func (b *OffscreenBackend) Close() error {
	b.bufs = nil
	b.mu.Lock()
	b.front = nil
	b.mu.Unlock()
	return nil
}

// Front returns the most recently presented image, or nil if nothing was
// presented yet. The returned image is a snapshot and is not written again.
func (b *OffscreenBackend) Front() *image.RGBA {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.front
}

// OffscreenFront returns the front snapshot of a surface created with
// NewOffscreenSurface, or nil for other surfaces.
func OffscreenFront(s *Surface) *image.RGBA {
	if b, ok := s.backend.(*OffscreenBackend); ok {
		return b.Front()
	}
	return nil
}

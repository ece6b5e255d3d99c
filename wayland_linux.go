//go:build linux

package swsurface

import (
	"fmt"
	"sync/atomic"

	"github.com/bnema/swsurface/wlclient"
)

// wlSlot is the backend-side storage of one swapchain image: a dedicated
// wl_shm_pool plus the wl_buffer currently viewing it. Pools are per-slot so
// one image resizing never invalidates another image's mapping.
type wlSlot struct {
	pool *wlclient.ShmPool
	buf  *wlclient.BufferHandle
	info ImageInfo // geometry buf was created for

	// Outstanding completion events before the slot frees: the wl_buffer
	// release, plus a frame callback when vsync is on.
	pending atomic.Int32
}

// WaylandBackend presents swapchain images to a wl_surface through wl_shm.
// Presentation is asynchronous: a presented image stays busy until the
// compositor sends wl_buffer.release (and, with vsync, the frame callback).
type WaylandBackend struct {
	conn  *Conn
	wsurf *wlclient.Surface

	slots  []wlSlot
	vsync  bool
	opaque bool

	onRelease func(int)
	onLost    func()
}

// NewWaylandSurface creates a surface presenting to wsurf over the shared
// connection conn. The backend takes its own reference on conn; the caller's
// reference can be released independently. wsurf must stay valid until the
// surface is closed.
func NewWaylandSurface(conn *Conn, wsurf *wlclient.Surface, cfg Config) (*Surface, error) {
	if cfg.ImageCount <= 0 {
		cfg.ImageCount = DefaultConfig().ImageCount
	}
	if conn.Lost() {
		return nil, ErrConnectionLost
	}
	conn.retain()
	b := &WaylandBackend{
		conn:   conn,
		wsurf:  wsurf,
		slots:  make([]wlSlot, cfg.ImageCount),
		vsync:  cfg.VSync,
		opaque: cfg.Opaque,
	}
	conn.onConnectionLost(b.connectionLost)
	return newSurface(b, cfg)
}

// SupportedFormats lists the wl_shm formats every compositor must accept.
func (b *WaylandBackend) SupportedFormats() []PixelFormat {
	return []PixelFormat{ARGB8888, XRGB8888}
}

// NumImages returns the swapchain depth.
func (b *WaylandBackend) NumImages() int {
	return len(b.slots)
}

// Asynchronous reports that presented images complete via compositor events.
func (b *WaylandBackend) Asynchronous() bool {
	return true
}

// OnRelease installs the completion sink. Called once during construction.
func (b *WaylandBackend) OnRelease(fn func(int)) {
	b.onRelease = fn
}

// OnConnectionLost installs the connection-loss sink.
func (b *WaylandBackend) OnConnectionLost(fn func()) {
	b.onLost = fn
}

func (b *WaylandBackend) connectionLost() {
	if b.onLost != nil {
		b.onLost()
	}
}

// Reconfigure sizes every slot's pool for the new geometry. Pools only grow;
// shrinking keeps the larger allocation. Stale wl_buffers are replaced lazily
// on the next Submit of their slot.
func (b *WaylandBackend) Reconfigure(info ImageInfo) error {
	size := info.Size()
	for i := range b.slots {
		s := &b.slots[i]
		if s.pool == nil {
			pool, err := b.conn.Shm().CreatePool(size)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			s.pool = pool
			continue
		}
		if err := s.pool.Resize(size); err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
	}
	return nil
}

// Bytes returns slot i's mapped pool memory. The pool may be larger than the
// current image; the caller slices it to the image size.
func (b *WaylandBackend) Bytes(i int) []byte {
	return b.slots[i].pool.Data()
}

// Submit attaches slot i's buffer to the surface and commits. The slot is
// reported released once the compositor is done reading it.
func (b *WaylandBackend) Submit(i int, info ImageInfo) error {
	if b.conn.Lost() {
		return ErrConnectionLost
	}
	s := &b.slots[i]
	if s.buf == nil || s.info != info {
		if s.buf != nil {
			s.buf.Destroy()
			s.buf = nil
		}
		idx := i
		buf, err := s.pool.CreateBuffer(0,
			int32(info.Width), int32(info.Height), int32(info.Stride),
			wlShmFormat(info.Format, b.opaque),
			func() { b.completed(idx) })
		if err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
		s.buf = buf
		s.info = info
	}

	events := int32(1)
	if b.vsync {
		events = 2
	}
	s.pending.Store(events)

	if err := b.wsurf.Attach(s.buf, 0, 0); err != nil {
		return err
	}
	if err := b.wsurf.DamageBuffer(0, 0, int32(info.Width), int32(info.Height)); err != nil {
		return err
	}
	if b.vsync {
		idx := i
		if err := b.wsurf.Frame(func() { b.completed(idx) }); err != nil {
			return err
		}
	}
	return b.wsurf.Commit()
}

// completed counts down slot i's outstanding events; the last one frees the
// slot. Runs on the connection's event goroutine.
func (b *WaylandBackend) completed(i int) {
	if b.slots[i].pending.Add(-1) == 0 && b.onRelease != nil {
		b.onRelease(i)
	}
}

// Close detaches the surface content and destroys the slot resources, then
// drops the backend's connection reference. The wl_surface itself belongs to
// the window and is left alone.
func (b *WaylandBackend) Close() error {
	if !b.conn.Lost() {
		b.wsurf.Attach(nil, 0, 0)
		b.wsurf.Commit()
	}
	for i := range b.slots {
		s := &b.slots[i]
		if s.buf != nil {
			s.buf.Destroy()
			s.buf = nil
		}
		if s.pool != nil {
			s.pool.Destroy()
			s.pool = nil
		}
	}
	b.conn.Release()
	return nil
}

// wlShmFormat maps a PixelFormat to its wl_shm code. Opaque surfaces always
// use XRGB so the compositor skips blending.
func wlShmFormat(f PixelFormat, opaque bool) uint32 {
	if opaque {
		return wlclient.FormatXRGB8888
	}
	switch f {
	case ARGB8888:
		return wlclient.FormatARGB8888
	default:
		return wlclient.FormatXRGB8888
	}
}

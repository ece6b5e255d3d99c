//go:build linux

package wlclient

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Pixel formats defined by wl_shm. Only the two mandatory 32-bit formats are
// used by swsurface.
const (
	FormatARGB8888 = 0
	FormatXRGB8888 = 1
)

// Compositor is a bound wl_compositor global.
type Compositor struct {
	id      uint32
	display *Display
}

// wl_compositor request opcodes.
const opCompositorCreateSurface = 0

// BindCompositor binds the wl_compositor global. The registry must have been
// populated by a prior Roundtrip.
func (d *Display) BindCompositor() (*Compositor, error) {
	g, ok := d.registry.FindGlobal("wl_compositor")
	if !ok {
		return nil, fmt.Errorf("wlclient: compositor does not advertise wl_compositor")
	}
	id, err := d.registry.bind(g, 4)
	if err != nil {
		return nil, err
	}
	return &Compositor{id: id, display: d}, nil
}

// ID returns the compositor's object ID.
func (c *Compositor) ID() uint32 {
	return c.id
}

// CreateSurface creates a wl_surface.
func (c *Compositor) CreateSurface() (*Surface, error) {
	s := &Surface{id: c.display.allocateID(), display: c.display}
	if err := c.display.SendRequest(c.id, opCompositorCreateSurface, s.id); err != nil {
		return nil, err
	}
	return s, nil
}

// Surface is a wl_surface: the compositor-side canvas a window's content is
// attached to.
type Surface struct {
	id      uint32
	display *Display
}

// wl_surface request opcodes.
const (
	opSurfaceDestroy      = 0
	opSurfaceAttach       = 1
	opSurfaceDamage       = 2
	opSurfaceFrame        = 3
	opSurfaceCommit       = 6
	opSurfaceDamageBuffer = 9
)

// ID returns the surface's object ID.
func (s *Surface) ID() uint32 {
	return s.id
}

// Attach attaches buf as the surface's pending content. A nil buf detaches.
func (s *Surface) Attach(buf *BufferHandle, x, y int32) error {
	var id any
	if buf != nil {
		id = buf.id
	}
	return s.display.SendRequest(s.id, opSurfaceAttach, id, x, y)
}

// Damage marks a surface-coordinate region as needing redraw.
func (s *Surface) Damage(x, y, width, height int32) error {
	return s.display.SendRequest(s.id, opSurfaceDamage, x, y, width, height)
}

// DamageBuffer marks a buffer-coordinate region as needing redraw.
func (s *Surface) DamageBuffer(x, y, width, height int32) error {
	return s.display.SendRequest(s.id, opSurfaceDamageBuffer, x, y, width, height)
}

// Frame requests a frame callback and installs done for it. The compositor
// fires it when a good time to draw the next frame arrives; done runs on the
// dispatch goroutine.
func (s *Surface) Frame(done func()) error {
	callbackID := s.display.allocateID()
	s.display.dispatcher.RegisterHandler(callbackID, evCallbackDone, func(*Event) {
		s.display.dispatcher.RemoveObject(callbackID)
		done()
	})
	if err := s.display.SendRequest(s.id, opSurfaceFrame, callbackID); err != nil {
		s.display.dispatcher.RemoveObject(callbackID)
		return err
	}
	return nil
}

// Commit atomically applies pending surface state.
func (s *Surface) Commit() error {
	return s.display.SendRequest(s.id, opSurfaceCommit)
}

// Destroy destroys the surface object.
func (s *Surface) Destroy() error {
	return s.display.SendRequest(s.id, opSurfaceDestroy)
}

// Shm is a bound wl_shm global. The compositor announces the pixel formats it
// accepts through format events collected during the discovery round-trips.
type Shm struct {
	id      uint32
	display *Display

	formats []uint32
}

// wl_shm opcodes.
const (
	opShmCreatePool = 0
	evShmFormat     = 0
)

// BindShm binds the wl_shm global and starts collecting format events. A
// Roundtrip must follow before Formats is meaningful.
func (d *Display) BindShm() (*Shm, error) {
	g, ok := d.registry.FindGlobal("wl_shm")
	if !ok {
		return nil, fmt.Errorf("wlclient: compositor does not advertise wl_shm")
	}
	id, err := d.registry.bind(g, 1)
	if err != nil {
		return nil, err
	}
	s := &Shm{id: id, display: d}
	d.dispatcher.RegisterHandler(id, evShmFormat, func(e *Event) {
		s.formats = append(s.formats, e.Uint32())
	})
	return s, nil
}

// ID returns the shm global's object ID.
func (s *Shm) ID() uint32 {
	return s.id
}

// Formats returns the wl_shm format codes the compositor advertised.
// ARGB8888 and XRGB8888 are mandatory per protocol.
func (s *Shm) Formats() []uint32 {
	return s.formats
}

// CreatePool creates a shared memory pool of the given size: an anonymous
// file, mapped locally and passed to the compositor over the socket.
func (s *Shm) CreatePool(size int) (*ShmPool, error) {
	fd, err := CreateAnonymousFile(int64(size))
	if err != nil {
		return nil, fmt.Errorf("wlclient: create shm file: %w", err)
	}
	data, err := MapMemory(fd, size)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("wlclient: map shm file: %w", err)
	}

	p := &ShmPool{
		id:      s.display.allocateID(),
		display: s.display,
		fd:      fd,
		size:    size,
		data:    data,
	}
	err = s.display.SendRequestWithFDs(s.id, opShmCreatePool, []int{fd}, p.id, int32(size))
	if err != nil {
		UnmapMemory(data)
		unix.Close(fd)
		return nil, err
	}
	return p, nil
}

// ShmPool is a wl_shm_pool together with its local mapping. One swapchain
// image lives in one pool, so resizing a pool never disturbs other images.
type ShmPool struct {
	id      uint32
	display *Display
	fd      int
	size    int
	data    []byte
}

// wl_shm_pool request opcodes.
const (
	opShmPoolCreateBuffer = 0
	opShmPoolDestroy      = 1
	opShmPoolResize       = 2
)

// ID returns the pool's object ID.
func (p *ShmPool) ID() uint32 {
	return p.id
}

// Size returns the pool's current size in bytes.
func (p *ShmPool) Size() int {
	return p.size
}

// Data returns the locally mapped pool memory.
func (p *ShmPool) Data() []byte {
	return p.data
}

// Resize grows the pool to newSize bytes. The protocol forbids shrinking, so
// smaller requests keep the current size. The previous Data mapping is
// invalidated on growth.
func (p *ShmPool) Resize(newSize int) error {
	if newSize <= p.size {
		return nil
	}
	if err := unix.Ftruncate(p.fd, int64(newSize)); err != nil {
		return fmt.Errorf("wlclient: grow shm file: %w", err)
	}
	data, err := MapMemory(p.fd, newSize)
	if err != nil {
		return fmt.Errorf("wlclient: remap shm file: %w", err)
	}
	UnmapMemory(p.data)
	p.data = data
	if err := p.display.SendRequest(p.id, opShmPoolResize, int32(newSize)); err != nil {
		return err
	}
	p.size = newSize
	return nil
}

// CreateBuffer creates a wl_buffer viewing part of the pool. released is
// called from the dispatch goroutine when the compositor is done reading the
// buffer.
func (p *ShmPool) CreateBuffer(offset, width, height, stride int32, format uint32, released func()) (*BufferHandle, error) {
	b := &BufferHandle{id: p.display.allocateID(), display: p.display}
	p.display.dispatcher.RegisterHandler(b.id, evBufferRelease, func(*Event) {
		if released != nil {
			released()
		}
	})
	err := p.display.SendRequest(p.id, opShmPoolCreateBuffer, b.id, offset, width, height, stride, format)
	if err != nil {
		p.display.dispatcher.RemoveObject(b.id)
		return nil, err
	}
	return b, nil
}

// Destroy destroys the pool object and releases the local mapping. Buffers
// created from the pool keep the compositor-side memory alive until they are
// destroyed too.
func (p *ShmPool) Destroy() error {
	err := p.display.SendRequest(p.id, opShmPoolDestroy)
	if p.data != nil {
		UnmapMemory(p.data)
		p.data = nil
	}
	if p.fd >= 0 {
		unix.Close(p.fd)
		p.fd = -1
	}
	return err
}

// BufferHandle is a wl_buffer created from a pool.
type BufferHandle struct {
	id      uint32
	display *Display
}

// wl_buffer opcodes.
const (
	opBufferDestroy = 0
	evBufferRelease = 0
)

// ID returns the buffer's object ID.
func (b *BufferHandle) ID() uint32 {
	return b.id
}

// Destroy destroys the buffer object. Destroyed buffers never send release.
func (b *BufferHandle) Destroy() error {
	return b.display.SendRequest(b.id, opBufferDestroy)
}

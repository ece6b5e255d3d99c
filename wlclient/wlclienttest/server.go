//go:build linux

// Package wlclienttest provides an in-process fake Wayland compositor for
// tests. It speaks just enough of the core protocol to exercise a client:
// registry discovery, sync round-trips, wl_shm binding with format events,
// surface creation, buffer attach/commit with release events and frame
// callbacks.
package wlclienttest

import (
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Global name values the fake registry announces.
const (
	nameCompositor = 1
	nameShm        = 2
)

// Compositor is a fake compositor listening on a unix socket. One client
// connection is served at a time.
type Compositor struct {
	ln   net.Listener
	path string

	mu       sync.Mutex
	conns    []net.Conn
	released []uint32 // buffer IDs a release was sent for

	commits atomic.Int64

	// HoldReleases stops commit from answering with wl_buffer.release until
	// ReleaseAll is called. Set before the client commits.
	HoldReleases atomic.Bool

	held struct {
		sync.Mutex
		conn net.Conn
		bufs []uint32
	}
}

// Start listens on a socket inside dir and serves connections until Close.
func Start(dir string) (*Compositor, error) {
	path := filepath.Join(dir, "wl-fake-0")
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	c := &Compositor{ln: ln, path: path}
	go c.acceptLoop()
	return c, nil
}

// Path returns the socket path, usable as a display name.
func (c *Compositor) Path() string {
	return c.path
}

// Close stops the listener and drops all connections.
func (c *Compositor) Close() error {
	err := c.ln.Close()
	c.mu.Lock()
	for _, conn := range c.conns {
		conn.Close()
	}
	c.conns = nil
	c.mu.Unlock()
	return err
}

// Commits returns how many wl_surface.commit requests were received.
func (c *Compositor) Commits() int64 {
	return c.commits.Load()
}

// Released returns the buffer IDs release events were sent for.
func (c *Compositor) Released() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint32, len(c.released))
	copy(out, c.released)
	return out
}

// ReleaseAll stops holding releases and flushes the ones held back so far.
// A commit still in flight when ReleaseAll is called gets its release as soon
// as the serve loop processes it.
func (c *Compositor) ReleaseAll() {
	c.held.Lock()
	c.HoldReleases.Store(false)
	conn, bufs := c.held.conn, c.held.bufs
	c.held.bufs = nil
	c.held.Unlock()
	for _, id := range bufs {
		c.sendRelease(conn, id)
	}
}

func (c *Compositor) acceptLoop() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		c.mu.Lock()
		c.conns = append(c.conns, conn)
		c.mu.Unlock()
		go c.serve(conn)
	}
}

// serve runs the per-connection protocol loop. State is per connection: the
// object IDs the client allocated for registry, compositor, shm, pools and
// surfaces.
func (c *Compositor) serve(conn net.Conn) {
	defer conn.Close()

	var (
		registryID   uint32
		compositorID uint32
		shmID        uint32
		surfaces     = map[uint32]bool{}
		pools        = map[uint32]bool{}
		buffers      = map[uint32]bool{}
		attached     = map[uint32]uint32{} // surface -> pending buffer
		frames       = map[uint32][]uint32{} // surface -> pending frame callbacks
		hdr          [8]byte
		serial       uint32
	)

	for {
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		objectID := binary.LittleEndian.Uint32(hdr[0:4])
		sizeOpcode := binary.LittleEndian.Uint32(hdr[4:8])
		size := int(sizeOpcode >> 16)
		opcode := uint16(sizeOpcode & 0xffff)
		if size < 8 {
			return
		}
		body := make([]byte, size-8)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		arg := func(i int) uint32 {
			return binary.LittleEndian.Uint32(body[i*4:])
		}

		switch {
		case objectID == 1 && opcode == 0: // wl_display.sync
			serial++
			writeEvent(conn, arg(0), 0, serial)

		case objectID == 1 && opcode == 1: // wl_display.get_registry
			registryID = arg(0)
			writeEvent(conn, registryID, 0, uint32(nameCompositor), "wl_compositor", uint32(4))
			writeEvent(conn, registryID, 0, uint32(nameShm), "wl_shm", uint32(1))

		case objectID == registryID && opcode == 0: // wl_registry.bind
			name := arg(0)
			strLen := int(binary.LittleEndian.Uint32(body[4:8]))
			off := 8 + (strLen+3)&^3
			newID := binary.LittleEndian.Uint32(body[off+4:])
			switch name {
			case nameCompositor:
				compositorID = newID
			case nameShm:
				shmID = newID
				writeEvent(conn, shmID, 0, uint32(0)) // ARGB8888
				writeEvent(conn, shmID, 0, uint32(1)) // XRGB8888
			}

		case objectID == compositorID && opcode == 0: // create_surface
			surfaces[arg(0)] = true

		case objectID == shmID && opcode == 0: // create_pool (fd arrives oob and is discarded)
			pools[arg(0)] = true

		case pools[objectID] && opcode == 0: // wl_shm_pool.create_buffer
			buffers[arg(0)] = true

		case surfaces[objectID] && opcode == 1: // attach
			attached[objectID] = arg(0)

		case surfaces[objectID] && opcode == 3: // frame
			frames[objectID] = append(frames[objectID], arg(0))

		case surfaces[objectID] && opcode == 6: // commit
			c.commits.Add(1)
			for _, cb := range frames[objectID] {
				serial++
				writeEvent(conn, cb, 0, serial)
			}
			frames[objectID] = nil
			if buf := attached[objectID]; buf != 0 && buffers[buf] {
				delete(attached, objectID)
				c.held.Lock()
				if c.HoldReleases.Load() {
					c.held.conn = conn
					c.held.bufs = append(c.held.bufs, buf)
					c.held.Unlock()
				} else {
					c.held.Unlock()
					c.sendRelease(conn, buf)
				}
			}
		}
	}
}

func (c *Compositor) sendRelease(conn net.Conn, buf uint32) {
	c.mu.Lock()
	c.released = append(c.released, buf)
	c.mu.Unlock()
	writeEvent(conn, buf, 0)
}

// writeEvent marshals and sends one event. Supported argument kinds: uint32
// and string.
func writeEvent(conn net.Conn, objectID uint32, opcode uint16, args ...any) {
	body := make([]byte, 0, 32)
	for _, a := range args {
		switch v := a.(type) {
		case uint32:
			body = binary.LittleEndian.AppendUint32(body, v)
		case string:
			n := len(v) + 1
			body = binary.LittleEndian.AppendUint32(body, uint32(n))
			body = append(body, v...)
			body = append(body, 0)
			for i := 0; i < (4-n%4)%4; i++ {
				body = append(body, 0)
			}
		}
	}
	msg := make([]byte, 8, 8+len(body))
	binary.LittleEndian.PutUint32(msg[0:4], objectID)
	binary.LittleEndian.PutUint32(msg[4:8], uint32(8+len(body))<<16|uint32(opcode))
	msg = append(msg, body...)
	conn.Write(msg)
}

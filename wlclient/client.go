//go:build linux

// Package wlclient is a minimal pure-Go Wayland client used by the swsurface
// Wayland backend. It covers the core protocol objects a software swapchain
// needs: wl_display, wl_registry, wl_callback, wl_compositor, wl_surface,
// wl_shm, wl_shm_pool and wl_buffer.
//
// The package speaks the wire protocol directly over the compositor's unix
// socket; no libwayland is involved. File descriptors for shared memory travel
// out-of-band via SCM_RIGHTS.
package wlclient

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// ErrProtocol is wrapped into errors raised by a wl_display error event.
var ErrProtocol = errors.New("wlclient: protocol error")

// Pre-allocated buffers for request marshalling.
var bufferPool = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

// Display represents a connection to a Wayland compositor.
//
// Requests may be sent from any goroutine; sends are serialized internally.
// Events must be read by exactly one goroutine through Dispatch or
// DispatchDeadline.
type Display struct {
	conn   *net.UnixConn
	nextID atomic.Uint32
	sendMu sync.Mutex
	recvMu sync.Mutex

	dispatcher *EventDispatcher
	registry   *Registry
	fds        fdQueue

	// Last fatal protocol error reported by the compositor. Written on the
	// dispatch goroutine, readable from any goroutine.
	lastError atomic.Pointer[error]

	// Reusable read buffers.
	headerBuf    [8]byte
	eventBodyBuf [4096]byte
}

// SocketPath resolves a Wayland display name to an absolute socket path,
// applying the WAYLAND_DISPLAY and XDG_RUNTIME_DIR conventions.
func SocketPath(name string) (string, error) {
	if name == "" {
		name = os.Getenv("WAYLAND_DISPLAY")
		if name == "" {
			name = "wayland-0"
		}
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	runDir := os.Getenv("XDG_RUNTIME_DIR")
	if runDir == "" {
		return "", errors.New("wlclient: XDG_RUNTIME_DIR not set")
	}
	return filepath.Join(runDir, name), nil
}

// Connect connects to the Wayland display identified by name (or the
// environment default when name is empty) and requests the global registry.
// The caller should install registry handlers and perform a Roundtrip before
// using globals.
func Connect(name string) (*Display, error) {
	path, err := SocketPath(name)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("wlclient: connect: %w", err)
	}

	d := &Display{
		conn:       conn.(*net.UnixConn),
		dispatcher: NewEventDispatcher(),
	}
	d.nextID.Store(2) // 1 is reserved for wl_display

	d.registry = &Registry{
		id:      d.allocateID(),
		display: d,
		globals: make(map[uint32]Global),
	}
	d.dispatcher.RegisterHandler(d.registry.id, opRegistryGlobal, d.registry.handleGlobal)
	d.dispatcher.RegisterHandler(d.registry.id, opRegistryGlobalRemove, d.registry.handleGlobalRemove)

	// wl_display.get_registry
	if err := d.SendRequest(displayID, opDisplayGetRegistry, d.registry.id); err != nil {
		conn.Close()
		return nil, fmt.Errorf("wlclient: get_registry: %w", err)
	}
	return d, nil
}

// Close closes the connection. Pending reads fail afterwards.
func (d *Display) Close() error {
	return d.conn.Close()
}

// Registry returns the global registry.
func (d *Display) Registry() *Registry {
	return d.registry
}

// Err returns the last fatal protocol error, or nil. Safe to call from any
// goroutine.
func (d *Display) Err() error {
	if p := d.lastError.Load(); p != nil {
		return *p
	}
	return nil
}

const displayID = 1

// wl_display request opcodes.
const (
	opDisplaySync        = 0
	opDisplayGetRegistry = 1
)

// wl_display event opcodes.
const (
	evDisplayError    = 0
	evDisplayDeleteID = 1
)

// allocateID allocates a client-side object ID.
func (d *Display) allocateID() uint32 {
	return d.nextID.Add(1) - 1
}

// SendRequest marshals and sends a request without file descriptors.
func (d *Display) SendRequest(objectID uint32, opcode uint16, args ...any) error {
	return d.SendRequestWithFDs(objectID, opcode, nil, args...)
}

// SendRequestWithFDs marshals and sends a request; fds travel out-of-band via
// SCM_RIGHTS.
func (d *Display) SendRequestWithFDs(objectID uint32, opcode uint16, fds []int, args ...any) error {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	var header [8]byte
	buf.Write(header[:])
	for _, arg := range args {
		if err := marshalArg(buf, arg); err != nil {
			return fmt.Errorf("wlclient: marshal: %w", err)
		}
	}

	size := buf.Len()
	if size > 0xffff {
		return fmt.Errorf("wlclient: message too large: %d bytes", size)
	}
	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[0:4], objectID)
	// Upper 16 bits carry the size, lower 16 the opcode.
	binary.LittleEndian.PutUint32(data[4:8], uint32(size)<<16|uint32(opcode))

	return d.sendmsg(data, fds)
}

// marshalArg writes one wire argument. Supported: uint32, int32, string,
// []byte and nil (null object). File descriptors have no body representation.
func marshalArg(buf *bytes.Buffer, arg any) error {
	switch v := arg.(type) {
	case uint32:
		return binary.Write(buf, binary.LittleEndian, v)
	case int32:
		return binary.Write(buf, binary.LittleEndian, v)
	case string:
		// length (with terminator), bytes, NUL, pad to 32 bits.
		n := len(v) + 1
		if err := binary.Write(buf, binary.LittleEndian, uint32(n)); err != nil {
			return err
		}
		buf.WriteString(v)
		buf.WriteByte(0)
		for i := 0; i < (4-n%4)%4; i++ {
			buf.WriteByte(0)
		}
		return nil
	case []byte:
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(v))); err != nil {
			return err
		}
		buf.Write(v)
		for i := 0; i < (4-len(v)%4)%4; i++ {
			buf.WriteByte(0)
		}
		return nil
	case nil:
		return binary.Write(buf, binary.LittleEndian, uint32(0))
	default:
		return fmt.Errorf("unsupported argument type %T", arg)
	}
}

// Dispatch reads one message from the compositor and routes it. It blocks
// until a message arrives or the connection fails.
func (d *Display) Dispatch() error {
	return d.dispatch(time.Time{})
}

// DispatchDeadline is Dispatch with a read deadline. A deadline expiry
// returns an error satisfying os.IsTimeout; the connection stays usable.
func (d *Display) DispatchDeadline(deadline time.Time) error {
	return d.dispatch(deadline)
}

func (d *Display) dispatch(deadline time.Time) error {
	d.recvMu.Lock()
	defer d.recvMu.Unlock()

	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return err
	}

	n, err := d.recvmsg(d.headerBuf[:])
	if err != nil {
		return err
	}
	if n < 8 {
		// The stream may split a message anywhere, even inside the header.
		if _, err := io.ReadFull(d.conn, d.headerBuf[n:]); err != nil {
			return fmt.Errorf("wlclient: short header: %w", err)
		}
	}

	objectID := binary.LittleEndian.Uint32(d.headerBuf[0:4])
	sizeOpcode := binary.LittleEndian.Uint32(d.headerBuf[4:8])
	size := sizeOpcode >> 16
	opcode := uint16(sizeOpcode & 0xffff)
	if size < 8 {
		return fmt.Errorf("wlclient: invalid message size %d", size)
	}

	var body []byte
	if size > 8 {
		bodySize := int(size - 8)
		if bodySize <= len(d.eventBodyBuf) {
			body = d.eventBodyBuf[:bodySize]
		} else {
			body = make([]byte, bodySize)
		}
		// The body follows immediately; read deadline is inherited.
		n, err := d.recvmsg(body)
		if err != nil {
			return err
		}
		if n < bodySize {
			if _, err := io.ReadFull(d.conn, body[n:]); err != nil {
				return fmt.Errorf("wlclient: short body: %w", err)
			}
		}
	}

	if objectID == displayID {
		return d.handleDisplayEvent(opcode, body)
	}
	d.dispatcher.dispatch(objectID, opcode, body, &d.fds)
	return nil
}

// handleDisplayEvent handles wl_display error and delete_id events.
func (d *Display) handleDisplayEvent(opcode uint16, data []byte) error {
	switch opcode {
	case evDisplayError:
		if len(data) < 8 {
			return errors.New("wlclient: malformed error event")
		}
		objectID := binary.LittleEndian.Uint32(data[0:4])
		code := binary.LittleEndian.Uint32(data[4:8])
		var message string
		if len(data) >= 12 {
			msgLen := binary.LittleEndian.Uint32(data[8:12])
			if msgLen > 0 && len(data) >= 12+int(msgLen) {
				message = string(data[12 : 12+msgLen-1])
			}
		}
		err := fmt.Errorf("%w: object %d, code %d: %s", ErrProtocol, objectID, code, message)
		d.lastError.Store(&err)
		return err
	case evDisplayDeleteID:
		if len(data) < 4 {
			return errors.New("wlclient: malformed delete_id event")
		}
		d.dispatcher.RemoveObject(binary.LittleEndian.Uint32(data[0:4]))
	}
	return nil
}

// Roundtrip sends wl_display.sync and dispatches events until the compositor
// answers, guaranteeing all previous requests were processed. It must run on
// the goroutine that owns event dispatch.
func (d *Display) Roundtrip() error {
	callbackID := d.allocateID()
	done := false
	d.dispatcher.RegisterHandler(callbackID, evCallbackDone, func(*Event) {
		done = true
		d.dispatcher.RemoveObject(callbackID)
	})

	if err := d.SendRequest(displayID, opDisplaySync, callbackID); err != nil {
		return err
	}
	for !done {
		if err := d.Dispatch(); err != nil {
			return err
		}
	}
	return nil
}

// evCallbackDone is wl_callback's single event.
const evCallbackDone = 0

// Global describes one entry announced by the registry.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Registry tracks the compositor's announced globals.
type Registry struct {
	id      uint32
	display *Display
	mu      sync.RWMutex
	globals map[uint32]Global
}

// wl_registry opcodes.
const (
	opRegistryBind         = 0
	opRegistryGlobal       = 0
	opRegistryGlobalRemove = 1
)

// ID returns the registry's object ID.
func (r *Registry) ID() uint32 {
	return r.id
}

func (r *Registry) handleGlobal(e *Event) {
	name := e.Uint32()
	iface := e.String()
	version := e.Uint32()
	if iface == "" {
		return
	}
	r.mu.Lock()
	r.globals[name] = Global{Name: name, Interface: iface, Version: version}
	r.mu.Unlock()
}

func (r *Registry) handleGlobalRemove(e *Event) {
	name := e.Uint32()
	r.mu.Lock()
	delete(r.globals, name)
	r.mu.Unlock()
}

// FindGlobal returns the announced global implementing iface.
func (r *Registry) FindGlobal(iface string) (Global, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.globals {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}

// Globals returns a copy of all announced globals.
func (r *Registry) Globals() map[uint32]Global {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uint32]Global, len(r.globals))
	for k, v := range r.globals {
		out[k] = v
	}
	return out
}

// bind allocates an ID and binds it to the named global.
func (r *Registry) bind(g Global, version uint32) (uint32, error) {
	id := r.display.allocateID()
	if version > g.Version {
		version = g.Version
	}
	// wl_registry.bind carries a full new_id: interface, version, id.
	if err := r.display.SendRequest(r.id, opRegistryBind, g.Name, g.Interface, version, id); err != nil {
		return 0, err
	}
	return id, nil
}

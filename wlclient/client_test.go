//go:build linux

package wlclient

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/swsurface/wlclient/wlclienttest"
)

// rawServer accepts one connection and hands it to the script. Unlike
// wlclienttest it speaks no protocol, letting tests control the byte stream.
func rawServer(t *testing.T, script func(conn net.Conn)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wl-raw-0")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}()
	return path
}

func TestMarshalArg(t *testing.T) {
	tests := []struct {
		name string
		arg  any
		want []byte
	}{
		{"uint32", uint32(0xdeadbeef), []byte{0xef, 0xbe, 0xad, 0xde}},
		{"int32 negative", int32(-1), []byte{0xff, 0xff, 0xff, 0xff}},
		{"null object", nil, []byte{0, 0, 0, 0}},
		{
			// Length counts the NUL; body pads to 32 bits.
			"string",
			"wl_shm",
			[]byte{7, 0, 0, 0, 'w', 'l', '_', 's', 'h', 'm', 0, 0},
		},
		{
			"string aligned",
			"abc",
			[]byte{4, 0, 0, 0, 'a', 'b', 'c', 0},
		},
		{
			"array",
			[]byte{1, 2, 3},
			[]byte{3, 0, 0, 0, 1, 2, 3, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := marshalArg(&buf, tt.arg); err != nil {
				t.Fatalf("marshalArg(%v): %v", tt.arg, err)
			}
			if !bytes.Equal(buf.Bytes(), tt.want) {
				t.Errorf("marshalArg(%v) = % x, want % x", tt.arg, buf.Bytes(), tt.want)
			}
		})
	}

	var buf bytes.Buffer
	if err := marshalArg(&buf, 3.14); err == nil {
		t.Error("marshalArg(float64) should fail")
	}
}

func TestSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	t.Setenv("WAYLAND_DISPLAY", "")

	tests := []struct {
		name    string
		display string
		want    string
	}{
		{"default", "", "/run/user/1000/wayland-0"},
		{"named", "wayland-7", "/run/user/1000/wayland-7"},
		{"absolute", "/tmp/sock/wl-0", "/tmp/sock/wl-0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SocketPath(tt.display)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("SocketPath(%q) = %q, want %q", tt.display, got, tt.want)
			}
		})
	}

	t.Setenv("XDG_RUNTIME_DIR", "")
	if _, err := SocketPath("wayland-0"); err == nil {
		t.Error("SocketPath should fail without XDG_RUNTIME_DIR")
	}
}

func TestEventReaders(t *testing.T) {
	var body []byte
	body = binary.LittleEndian.AppendUint32(body, 42)
	body = binary.LittleEndian.AppendUint32(body, 8) // "wl_text" + NUL
	body = append(body, 'w', 'l', '_', 't', 'e', 'x', 't', 0)
	body = binary.LittleEndian.AppendUint32(body, 0xffffffff) // -1

	e := &Event{data: body}
	if got := e.Uint32(); got != 42 {
		t.Errorf("Uint32() = %d, want 42", got)
	}
	if got := e.String(); got != "wl_text" {
		t.Errorf("String() = %q, want %q", got, "wl_text")
	}
	if got := e.Int32(); got != -1 {
		t.Errorf("Int32() = %d, want -1", got)
	}
	// Reading past the end degrades to zero values, never panics.
	if got := e.Uint32(); got != 0 {
		t.Errorf("Uint32() past end = %d, want 0", got)
	}
}

func TestEventDispatcher(t *testing.T) {
	d := NewEventDispatcher()
	var got []uint32
	d.RegisterHandler(3, 1, func(e *Event) {
		got = append(got, e.Uint32())
	})

	body := binary.LittleEndian.AppendUint32(nil, 7)
	d.Dispatch(3, 1, body)
	d.Dispatch(3, 0, body) // no handler for this opcode
	d.Dispatch(4, 1, body) // no handler for this object

	d.RemoveObject(3)
	d.Dispatch(3, 1, body)

	if len(got) != 1 || got[0] != 7 {
		t.Errorf("handled = %v, want [7]", got)
	}
}

func TestEventDispatcherLargeObjectIDs(t *testing.T) {
	d := NewEventDispatcher()
	const id = 100000 // beyond the lock-free array, served by the overflow map
	hit := false
	d.RegisterHandler(id, 0, func(*Event) { hit = true })
	d.Dispatch(id, 0, nil)
	if !hit {
		t.Fatal("handler for large object ID not dispatched")
	}
	d.RemoveObject(id)
	hit = false
	d.Dispatch(id, 0, nil)
	if hit {
		t.Fatal("removed handler still dispatched")
	}
}

func TestDispatchReassemblesSplitMessages(t *testing.T) {
	path := rawServer(t, func(conn net.Conn) {
		// Discard the client's get_registry request.
		io.ReadFull(conn, make([]byte, 12))

		// One event for object 42, opcode 0, a single uint32 argument,
		// written in fragments that split the header mid-way.
		msg := make([]byte, 12)
		binary.LittleEndian.PutUint32(msg[0:4], 42)
		binary.LittleEndian.PutUint32(msg[4:8], 12<<16|0)
		binary.LittleEndian.PutUint32(msg[8:12], 7)
		conn.Write(msg[:5])
		time.Sleep(20 * time.Millisecond)
		conn.Write(msg[5:])

		// Hold the connection open until the client is done.
		io.Copy(io.Discard, conn)
	})

	d, err := Connect(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	var got uint32
	d.dispatcher.RegisterHandler(42, 0, func(e *Event) { got = e.Uint32() })
	if err := d.Dispatch(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got != 7 {
		t.Errorf("event argument = %d, want 7", got)
	}
}

func TestDisplayErrorEvent(t *testing.T) {
	path := rawServer(t, func(conn net.Conn) {
		io.ReadFull(conn, make([]byte, 12))

		// wl_display.error: object 3, code 2, message "bad".
		var body []byte
		body = binary.LittleEndian.AppendUint32(body, 3)
		body = binary.LittleEndian.AppendUint32(body, 2)
		body = binary.LittleEndian.AppendUint32(body, 4) // "bad" + NUL
		body = append(body, 'b', 'a', 'd', 0)
		msg := make([]byte, 8, 8+len(body))
		binary.LittleEndian.PutUint32(msg[0:4], 1)
		binary.LittleEndian.PutUint32(msg[4:8], uint32(8+len(body))<<16|0)
		msg = append(msg, body...)
		conn.Write(msg)
		io.Copy(io.Discard, conn)
	})

	d, err := Connect(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if err := d.Dispatch(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("dispatch error = %v, want ErrProtocol", err)
	}

	// Err is readable from a goroutine other than the dispatching one.
	got := make(chan error, 1)
	go func() { got <- d.Err() }()
	if err := <-got; !errors.Is(err, ErrProtocol) {
		t.Errorf("Err() = %v, want ErrProtocol", err)
	}
}

func TestConnectAndRoundtrip(t *testing.T) {
	comp, err := wlclienttest.Start(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer comp.Close()

	d, err := Connect(comp.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	if _, ok := d.Registry().FindGlobal("wl_compositor"); !ok {
		t.Fatal("wl_compositor not announced")
	}
	if _, ok := d.Registry().FindGlobal("wl_seat"); ok {
		t.Fatal("unexpected global wl_seat")
	}

	c, err := d.BindCompositor()
	if err != nil {
		t.Fatalf("bind compositor: %v", err)
	}
	shm, err := d.BindShm()
	if err != nil {
		t.Fatalf("bind shm: %v", err)
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip after bind: %v", err)
	}

	formats := shm.Formats()
	if len(formats) != 2 || formats[0] != FormatARGB8888 || formats[1] != FormatXRGB8888 {
		t.Fatalf("formats = %v, want [ARGB8888 XRGB8888]", formats)
	}

	if _, err := c.CreateSurface(); err != nil {
		t.Fatalf("create surface: %v", err)
	}
	if err := d.Roundtrip(); err != nil {
		t.Fatalf("roundtrip after create_surface: %v", err)
	}
}

func TestSurfaceCommitTriggersBufferRelease(t *testing.T) {
	comp, err := wlclienttest.Start(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer comp.Close()

	d, err := Connect(comp.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := d.Roundtrip(); err != nil {
		t.Fatal(err)
	}

	c, err := d.BindCompositor()
	if err != nil {
		t.Fatal(err)
	}
	shm, err := d.BindShm()
	if err != nil {
		t.Fatal(err)
	}
	surface, err := c.CreateSurface()
	if err != nil {
		t.Fatal(err)
	}

	const size = 64 * 64 * 4
	pool, err := shm.CreatePool(size)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	defer pool.Destroy()
	if len(pool.Data()) != size {
		t.Fatalf("pool mapping = %d bytes, want %d", len(pool.Data()), size)
	}

	released := make(chan struct{}, 1)
	buf, err := pool.CreateBuffer(0, 64, 64, 64*4, FormatARGB8888, func() {
		released <- struct{}{}
	})
	if err != nil {
		t.Fatalf("create buffer: %v", err)
	}

	frameDone := false
	if err := surface.Attach(buf, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := surface.DamageBuffer(0, 0, 64, 64); err != nil {
		t.Fatal(err)
	}
	if err := surface.Frame(func() { frameDone = true }); err != nil {
		t.Fatal(err)
	}
	if err := surface.Commit(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case <-released:
		default:
			if err := d.DispatchDeadline(deadline); err != nil {
				t.Fatalf("dispatch: %v", err)
			}
			continue
		}
		break
	}
	if !frameDone {
		t.Error("frame callback did not fire before buffer release")
	}
	if got := comp.Commits(); got != 1 {
		t.Errorf("commits = %d, want 1", got)
	}
}

func TestPoolResizeGrowOnly(t *testing.T) {
	comp, err := wlclienttest.Start(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer comp.Close()

	d, err := Connect(comp.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if err := d.Roundtrip(); err != nil {
		t.Fatal(err)
	}
	shm, err := d.BindShm()
	if err != nil {
		t.Fatal(err)
	}

	pool, err := shm.CreatePool(4096)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Destroy()

	pool.Data()[0] = 0xaa
	if err := pool.Resize(8192); err != nil {
		t.Fatalf("grow: %v", err)
	}
	if pool.Size() != 8192 || len(pool.Data()) != 8192 {
		t.Fatalf("size = %d, mapping = %d; want 8192", pool.Size(), len(pool.Data()))
	}
	if pool.Data()[0] != 0xaa {
		t.Error("contents lost across grow")
	}

	// The protocol forbids shrinking pools.
	if err := pool.Resize(1024); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if pool.Size() != 8192 {
		t.Errorf("size = %d after shrink attempt, want 8192", pool.Size())
	}
}

//go:build linux

package swsurface

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/bnema/swsurface/wlclient"
)

// Conn is a reference-counted handle to one physical Wayland display
// connection. All surfaces attached to windows on the same display share one
// Conn; the first ConnectDisplay for a display opens it and the last Release
// tears it down.
//
// A background goroutine owns the connection's event queue: it performs the
// discovery round-trips, then pumps compositor events (buffer releases, frame
// callbacks) until a close request arrives on the control channel. All
// registry/global mutation happens on that goroutine; surfaces reach back
// into their pools only through thread-safe slot transitions.
type Conn struct {
	key        string
	display    *wlclient.Display
	compositor *wlclient.Compositor
	shm        *wlclient.Shm

	refs int // guarded by connRegistry.mu

	ctrl chan struct{} // close request
	done chan struct{} // worker exited

	mu     sync.Mutex
	lost   bool
	onLost []func()
}

// connRegistry is the process-wide connection cache, keyed by resolved socket
// path. A single lock serializes membership changes; steady-state event
// dispatch never touches it.
var connRegistry = struct {
	mu    sync.Mutex
	conns map[string]*Conn
}{conns: make(map[string]*Conn)}

// dispatchTick bounds how long the worker blocks in one read before checking
// the control channel.
const dispatchTick = 50 * time.Millisecond

// ConnectDisplay returns the shared connection for the named Wayland display
// (empty means the environment default), opening it on first use. Every
// successful call must be paired with one Release.
func ConnectDisplay(name string) (*Conn, error) {
	key, err := wlclient.SocketPath(name)
	if err != nil {
		return nil, err
	}

	connRegistry.mu.Lock()
	defer connRegistry.mu.Unlock()
	if c, ok := connRegistry.conns[key]; ok {
		c.refs++
		return c, nil
	}

	c := &Conn{
		key:  key,
		refs: 1,
		ctrl: make(chan struct{}),
		done: make(chan struct{}),
	}
	// The worker owns the connection end to end: it opens it, performs
	// discovery and publishes the ready handle through a one-shot channel.
	ready := make(chan error, 1)
	go c.run(key, ready)
	if err := <-ready; err != nil {
		<-c.done
		return nil, err
	}
	connRegistry.conns[key] = c
	return c, nil
}

// retain adds a reference to an already-open connection.
func (c *Conn) retain() {
	connRegistry.mu.Lock()
	c.refs++
	connRegistry.mu.Unlock()
}

// Release drops one reference. When the last reference goes, the connection
// is removed from the registry and the call blocks until the worker goroutine
// acknowledged the close request and exited; no goroutine outlives the last
// Release. The reference count is checked again under the registry lock
// before the connection is destroyed, in case a racing ConnectDisplay started
// reusing it.
func (c *Conn) Release() {
	connRegistry.mu.Lock()
	c.refs--
	if c.refs > 0 {
		connRegistry.mu.Unlock()
		return
	}
	if c.refs < 0 {
		connRegistry.mu.Unlock()
		panic("swsurface: Conn released more often than acquired")
	}
	connRegistry.mu.Unlock()

	// Teardown. Reacquire the lock and double-check: a racing ConnectDisplay
	// may have revived the connection, and a later Release of that revived
	// reference may itself have started teardown. Whoever still finds the
	// entry registered removes it and becomes the sole owner of the shutdown;
	// everyone else backs off.
	connRegistry.mu.Lock()
	if c.refs > 0 || connRegistry.conns[c.key] != c {
		connRegistry.mu.Unlock()
		return
	}
	delete(connRegistry.conns, c.key)
	connRegistry.mu.Unlock()

	close(c.ctrl)
	<-c.done
	log.Printf("swsurface: connection %s closed", c.key)
}

// Compositor returns the connection's bound wl_compositor global.
func (c *Conn) Compositor() *wlclient.Compositor {
	return c.compositor
}

// Shm returns the connection's bound wl_shm global.
func (c *Conn) Shm() *wlclient.Shm {
	return c.shm
}

// Lost reports whether the physical connection died.
func (c *Conn) Lost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

// onConnectionLost registers fn to run when the connection dies. fn is called
// from the worker goroutine, or immediately if the connection is already
// lost.
func (c *Conn) onConnectionLost(fn func()) {
	c.mu.Lock()
	if c.lost {
		c.mu.Unlock()
		fn()
		return
	}
	c.onLost = append(c.onLost, fn)
	c.mu.Unlock()
}

// run is the connection worker: open, discover, publish, pump, tear down.
func (c *Conn) run(key string, ready chan<- error) {
	defer close(c.done)

	display, err := wlclient.Connect(key)
	if err != nil {
		ready <- err
		return
	}
	// Two round-trips: the first delivers the registry globals, the second
	// the events (such as wl_shm formats) triggered by binding them.
	if err := display.Roundtrip(); err != nil {
		display.Close()
		ready <- fmt.Errorf("swsurface: discovery: %w", err)
		return
	}
	compositor, err := display.BindCompositor()
	if err == nil {
		c.shm, err = display.BindShm()
	}
	if err == nil {
		err = display.Roundtrip()
	}
	if err != nil {
		display.Close()
		ready <- fmt.Errorf("swsurface: discovery: %w", err)
		return
	}
	c.display = display
	c.compositor = compositor
	log.Printf("swsurface: connection %s ready", key)
	ready <- nil

	for {
		select {
		case <-c.ctrl:
			display.Close()
			return
		default:
		}
		err := display.DispatchDeadline(time.Now().Add(dispatchTick))
		if err == nil {
			continue
		}
		if os.IsTimeout(err) {
			continue
		}
		// The connection died underneath us. Every surface on it becomes
		// permanently unable to present.
		log.Printf("swsurface: connection %s lost: %v", key, err)
		c.mu.Lock()
		c.lost = true
		callbacks := c.onLost
		c.onLost = nil
		c.mu.Unlock()
		for _, fn := range callbacks {
			fn()
		}
		display.Close()
		<-c.ctrl
		return
	}
}

//go:build linux

package wlclient

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// Event is one decoded compositor event. The reader methods consume wire
// arguments in order. Events are pooled; handlers must not retain them.
type Event struct {
	ObjectID uint32
	Opcode   uint16
	data     []byte
	offset   int
	fds      *fdQueue
}

var eventPool = sync.Pool{
	New: func() any {
		return &Event{data: make([]byte, 0, 4096)}
	},
}

// Uint32 reads one 32-bit unsigned argument.
func (e *Event) Uint32() uint32 {
	if e.offset+4 > len(e.data) {
		return 0
	}
	v := binary.LittleEndian.Uint32(e.data[e.offset:])
	e.offset += 4
	return v
}

// Int32 reads one 32-bit signed argument.
func (e *Event) Int32() int32 {
	return int32(e.Uint32())
}

// String reads one string argument, without its NUL terminator.
func (e *Event) String() string {
	n := e.Uint32()
	if n == 0 || e.offset+int(n) > len(e.data) {
		return ""
	}
	s := string(e.data[e.offset : e.offset+int(n)-1])
	e.offset += int(n+(4-n%4)%4)
	return s
}

// Array reads one byte-array argument.
func (e *Event) Array() []byte {
	n := e.Uint32()
	if n == 0 || e.offset+int(n) > len(e.data) {
		return nil
	}
	out := make([]byte, n)
	copy(out, e.data[e.offset:])
	e.offset += int(n+(4-n%4)%4)
	return out
}

// FD takes the next file descriptor received out-of-band with this message.
func (e *Event) FD() (int, bool) {
	if e.fds == nil {
		return -1, false
	}
	return e.fds.take()
}

// EventHandler handles one event. Handlers run on the dispatching goroutine.
type EventHandler func(*Event)

// EventDispatcher routes events to per-object, per-opcode handlers. Lookups
// for the first 1024 object IDs are lock-free array loads; larger IDs go
// through a sync.Map. Handler registration may happen from any goroutine.
type EventDispatcher struct {
	handlers    [1024]atomic.Pointer[handlerEntry]
	extHandlers sync.Map // map[uint32]*handlerEntry
}

// maxOpcodes bounds the per-object handler table. Core-protocol objects have
// few opcodes; 16 covers all of them.
const maxOpcodes = 16

// handlerEntry stores the handlers of one object, indexed by opcode.
type handlerEntry struct {
	handlers [maxOpcodes]atomic.Pointer[EventHandler]
}

// NewEventDispatcher creates an empty dispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{}
}

func (d *EventDispatcher) entry(objectID uint32, create bool) *handlerEntry {
	if objectID < uint32(len(d.handlers)) {
		e := d.handlers[objectID].Load()
		if e == nil && create {
			e = &handlerEntry{}
			if !d.handlers[objectID].CompareAndSwap(nil, e) {
				e = d.handlers[objectID].Load()
			}
		}
		return e
	}
	if create {
		v, _ := d.extHandlers.LoadOrStore(objectID, &handlerEntry{})
		return v.(*handlerEntry)
	}
	if v, ok := d.extHandlers.Load(objectID); ok {
		return v.(*handlerEntry)
	}
	return nil
}

// RegisterHandler installs the handler for (objectID, opcode), replacing any
// previous one.
func (d *EventDispatcher) RegisterHandler(objectID uint32, opcode uint16, handler EventHandler) {
	if int(opcode) >= maxOpcodes {
		return
	}
	d.entry(objectID, true).handlers[opcode].Store(&handler)
}

// RemoveObject drops every handler of objectID. Called when the compositor
// confirms object deletion via wl_display.delete_id.
func (d *EventDispatcher) RemoveObject(objectID uint32) {
	if objectID < uint32(len(d.handlers)) {
		d.handlers[objectID].Store(nil)
		return
	}
	d.extHandlers.Delete(objectID)
}

// Dispatch routes one event. Unknown objects and opcodes are ignored, as the
// protocol requires of clients that did not bind the relevant version.
func (d *EventDispatcher) Dispatch(objectID uint32, opcode uint16, data []byte) {
	d.dispatch(objectID, opcode, data, nil)
}

func (d *EventDispatcher) dispatch(objectID uint32, opcode uint16, data []byte, fds *fdQueue) {
	e := d.entry(objectID, false)
	if e == nil || int(opcode) >= maxOpcodes {
		return
	}
	h := e.handlers[opcode].Load()
	if h == nil {
		return
	}

	event := eventPool.Get().(*Event)
	event.ObjectID = objectID
	event.Opcode = opcode
	event.data = append(event.data[:0], data...)
	event.offset = 0
	event.fds = fds
	(*h)(event)
	event.fds = nil
	eventPool.Put(event)
}

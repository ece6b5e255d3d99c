package swsurface

import "unsafe"

// Buffer is an exclusively-owned, resizable block of memory whose first byte
// is guaranteed to sit on the requested alignment boundary. New bytes are
// always zero-filled, both on creation and when Resize grows the buffer.
//
// Allocation failure follows the Go runtime's contract: the process aborts.
// There is no recovery path once the allocator itself is exhausted.
type Buffer struct {
	data  []byte
	align Align
	raw   []byte // backing allocation, kept so Resize can detect reuse
}

// NewBuffer returns a zero-filled buffer of the given size whose data is
// aligned to align bytes. Returns ErrInvalidAlignment if align is zero or not
// a power of two, ErrOverflow if size is negative or pathological.
func NewBuffer(size, align int) (*Buffer, error) {
	a, err := NewAlign(align)
	if err != nil {
		return nil, err
	}
	if size < 0 || size > maxInt-a.mask {
		return nil, ErrOverflow
	}
	b := &Buffer{align: a}
	b.alloc(size)
	return b, nil
}

// alloc replaces the backing storage with a fresh, aligned, zeroed slice.
// Go's make zero-fills, so only the alignment offset needs computing.
func (b *Buffer) alloc(size int) {
	raw := make([]byte, size+b.align.mask)
	off := 0
	if size > 0 {
		addr := uintptr(unsafe.Pointer(&raw[0]))
		if rem := int(addr) & b.align.mask; rem != 0 {
			off = b.align.mask + 1 - rem
		}
	}
	b.raw = raw
	b.data = raw[off : off+size : off+size]
}

// Resize changes the buffer's size. The first min(old,new) bytes are
// preserved; any newly materialized bytes are zero.
func (b *Buffer) Resize(newSize int) error {
	if newSize < 0 || newSize > maxInt-b.align.mask {
		return ErrOverflow
	}
	if newSize == len(b.data) {
		return nil
	}
	old := b.data
	b.alloc(newSize)
	copy(b.data, old)
	return nil
}

// Bytes returns the aligned region. The slice is invalidated by Resize.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the current size in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

package swsurface

// Align rounds sizes up to a power-of-two boundary. The zero value is not
// valid; use NewAlign.
//
// The value stored is align-1 so that AlignUp is a single masked add.
type Align struct {
	mask int
}

// NewAlign returns an Align for the given power-of-two boundary.
// Returns ErrInvalidAlignment if x is zero or not a power of two.
func NewAlign(x int) (Align, error) {
	if x <= 0 || x&(x-1) != 0 {
		return Align{}, ErrInvalidAlignment
	}
	return Align{mask: x - 1}, nil
}

// AlignUp returns the smallest multiple of the alignment that is >= x.
// ok is false if the result would overflow int; the value is never wrapped
// silently.
func (a Align) AlignUp(x int) (aligned int, ok bool) {
	if x < 0 || x > maxInt-a.mask {
		return 0, false
	}
	return (x + a.mask) &^ a.mask, true
}

const maxInt = int(^uint(0) >> 1)

//go:build linux

package swsurface

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

// X11Backend presents swapchain images into an X11 window with core-protocol
// PutImage requests. Presentation is synchronous: the final chunk is sent
// checked, which round-trips to the server, so the image is immediately
// reusable when Submit returns.
type X11Backend struct {
	conn  *xgb.Conn
	wnd   xproto.Window
	gc    xproto.Gcontext
	depth byte

	count int
	bufs  []*Buffer

	// Large images are uploaded in row chunks bounded by the server's
	// maximum request length.
	maxReqBytes int
	staging     []byte
}

// NewX11Surface creates a surface presenting into wnd over the caller's X
// connection. The connection and window must outlive the surface; event
// reading on the connection stays with the application.
func NewX11Surface(conn *xgb.Conn, wnd xproto.Window, cfg Config) (*Surface, error) {
	count := cfg.ImageCount
	if count <= 0 {
		count = 1
	}
	geom, err := xproto.GetGeometry(conn, xproto.Drawable(wnd)).Reply()
	if err != nil {
		return nil, fmt.Errorf("swsurface: window geometry: %w", err)
	}
	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		return nil, fmt.Errorf("swsurface: allocate gcontext: %w", err)
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(wnd), 0, nil).Check(); err != nil {
		return nil, fmt.Errorf("swsurface: create gcontext: %w", err)
	}
	b := &X11Backend{
		conn:        conn,
		wnd:         wnd,
		gc:          gc,
		depth:       geom.Depth,
		count:       count,
		bufs:        make([]*Buffer, count),
		maxReqBytes: int(xproto.Setup(conn).MaximumRequestLength) * 4,
	}
	return newSurface(b, cfg)
}

// SupportedFormats returns both 32-bit packed formats. On windows of depth
// below 32 the alpha byte is ignored, as with GDI.
func (b *X11Backend) SupportedFormats() []PixelFormat {
	return []PixelFormat{ARGB8888, XRGB8888}
}

// NumImages returns the configured image count.
func (b *X11Backend) NumImages() int {
	return b.count
}

// Reconfigure resizes each slot's aligned buffer for the new geometry.
func (b *X11Backend) Reconfigure(info ImageInfo) error {
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

// Bytes returns slot i's storage.
func (b *X11Backend) Bytes(i int) []byte {
	return b.bufs[i].Bytes()
}

// putImageOverhead is the fixed part of one PutImage request.
const putImageOverhead = 28

// putImageRows returns how many rows of rowBytes each fit into one PutImage
// request of at most maxReqBytes, at least 1.
func putImageRows(maxReqBytes, rowBytes int) int {
	rows := (maxReqBytes - putImageOverhead) / rowBytes
	if rows < 1 {
		rows = 1
	}
	return rows
}

// packRows copies rows tightly packed rows of rowBytes from src (laid out
// with the given stride) into dst.
func packRows(dst, src []byte, stride, rowBytes, rows int) {
	for r := 0; r < rows; r++ {
		copy(dst[r*rowBytes:(r+1)*rowBytes], src[r*stride:r*stride+rowBytes])
	}
}

// Submit uploads slot i into the window. The core protocol carries no row
// stride, so padded rows are repacked through a staging buffer. Only the last
// chunk is checked; its round-trip confirms the whole upload.
func (b *X11Backend) Submit(i int, info ImageInfo) error {
	src := b.bufs[i].Bytes()
	rowBytes := int(info.Width) * bytesPerPixel
	height := int(info.Height)
	rowsPer := putImageRows(b.maxReqBytes, rowBytes)

	for y := 0; y < height; y += rowsPer {
		rows := rowsPer
		if y+rows > height {
			rows = height - y
		}
		var data []byte
		if info.Stride == rowBytes {
			data = src[y*info.Stride : y*info.Stride+rows*rowBytes]
		} else {
			if cap(b.staging) < rows*rowBytes {
				b.staging = make([]byte, rows*rowBytes)
			}
			data = b.staging[:rows*rowBytes]
			packRows(data, src[y*info.Stride:], info.Stride, rowBytes, rows)
		}
		if y+rows >= height {
			err := xproto.PutImageChecked(b.conn, xproto.ImageFormatZPixmap,
				xproto.Drawable(b.wnd), b.gc,
				uint16(info.Width), uint16(rows), 0, int16(y),
				0, b.depth, data).Check()
			if err != nil {
				return fmt.Errorf("swsurface: put image: %w", err)
			}
		} else {
			xproto.PutImage(b.conn, xproto.ImageFormatZPixmap,
				xproto.Drawable(b.wnd), b.gc,
				uint16(info.Width), uint16(rows), 0, int16(y),
				0, b.depth, data)
		}
	}
	return nil
}

// Asynchronous reports false: Submit completes the presentation.
func (b *X11Backend) Asynchronous() bool {
	return false
}

// OnRelease is never called for synchronous backends.
func (b *X11Backend) OnRelease(func(int)) {}

// Close frees the graphics context and drops all slot storage. The X
// connection belongs to the application and stays open.
func (b *X11Backend) Close() error {
	xproto.FreeGC(b.conn, b.gc)
	b.bufs = nil
	b.staging = nil
	return nil
}

//go:build windows

package swsurface

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	gdi32  = windows.NewLazySystemDLL("gdi32.dll")

	procGetDC         = user32.NewProc("GetDC")
	procReleaseDC     = user32.NewProc("ReleaseDC")
	procStretchDIBits = gdi32.NewProc("StretchDIBits")
)

const (
	biRGB         = 0
	dibRGBColors  = 0
	rasterSrcCopy = 0x00CC0020
)

type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// WindowBackend presents swapchain images into a window's client area with
// GDI. Presentation is synchronous: StretchDIBits copies the pixels before
// returning, so the image is immediately reusable and a single image
// suffices.
type WindowBackend struct {
	hwnd  windows.HWND
	count int
	bufs  []*Buffer
}

// NewWindowSurface creates a surface presenting into the client area of hwnd.
// The window must outlive the surface.
func NewWindowSurface(hwnd windows.HWND, cfg Config) (*Surface, error) {
	count := cfg.ImageCount
	if count <= 0 {
		count = 1
	}
	b := &WindowBackend{hwnd: hwnd, count: count, bufs: make([]*Buffer, count)}
	return newSurface(b, cfg)
}

// SupportedFormats returns the formats GDI's 32-bit DIB path accepts. Alpha
// is ignored on blit, so ARGB behaves as XRGB.
func (b *WindowBackend) SupportedFormats() []PixelFormat {
	return []PixelFormat{ARGB8888, XRGB8888}
}

// NumImages returns the configured image count.
func (b *WindowBackend) NumImages() int {
	return b.count
}

// Reconfigure resizes each slot's aligned buffer for the new geometry.
func (b *WindowBackend) Reconfigure(info ImageInfo) error {
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
func (b *WindowBackend) Bytes(i int) []byte {
	return b.bufs[i].Bytes()
}

// Submit blits slot i into the window. GDI rows are whole pixels, so the
// header width carries the stride and the blit source rect carries the image
// width.
func (b *WindowBackend) Submit(i int, info ImageInfo) error {
	hdc, _, _ := procGetDC.Call(uintptr(b.hwnd))
	if hdc == 0 {
		return fmt.Errorf("swsurface: GetDC failed for window %#x", b.hwnd)
	}
	defer procReleaseDC.Call(uintptr(b.hwnd), hdc)

	hdr := bitmapInfoHeader{
		Size:        uint32(unsafe.Sizeof(bitmapInfoHeader{})),
		Width:       int32(info.Stride / bytesPerPixel),
		Height:      -int32(info.Height), // negative: top-down rows
		Planes:      1,
		BitCount:    32,
		Compression: biRGB,
	}
	w := uintptr(info.Width)
	h := uintptr(info.Height)
	ret, _, _ := procStretchDIBits.Call(hdc,
		0, 0, w, h, // dest
		0, 0, w, h, // src
		uintptr(unsafe.Pointer(&b.bufs[i].Bytes()[0])),
		uintptr(unsafe.Pointer(&hdr)),
		dibRGBColors, rasterSrcCopy)
	if ret == 0 {
		return fmt.Errorf("swsurface: StretchDIBits failed for window %#x", b.hwnd)
	}
	return nil
}

// Asynchronous reports false: Submit completes the presentation.
func (b *WindowBackend) Asynchronous() bool {
	return false
}

// OnRelease is never called for synchronous backends.
func (b *WindowBackend) OnRelease(func(int)) {}

// Close drops all slot storage. The window's device context is not retained
// between presents, so there is nothing else to release.
func (b *WindowBackend) Close() error {
	b.bufs = nil
	return nil
}

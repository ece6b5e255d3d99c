package swsurface

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOffscreenPresent(t *testing.T) {
	s, err := NewOffscreenSurface(DefaultConfig())
	require.NoError(t, err)
	defer s.Close()

	require.Nil(t, OffscreenFront(s), "no frame presented yet")
	require.NoError(t, s.UpdateSurface(4, 2, ARGB8888))

	idx, ok := s.PollNextImage()
	require.True(t, ok)
	img, err := s.LockImage(idx)
	require.NoError(t, err)

	// Solid translucent red, little-endian packed: B, G, R, A.
	pix := img.Bytes()
	for p := 0; p < len(pix); p += 4 {
		pix[p+0] = 0x00
		pix[p+1] = 0x00
		pix[p+2] = 0x80
		pix[p+3] = 0x80
	}
	img.Unlock()
	require.NoError(t, s.PresentImage(idx))

	front := OffscreenFront(s)
	require.NotNil(t, front)
	require.Equal(t, 4, front.Bounds().Dx())
	require.Equal(t, 2, front.Bounds().Dy())
	require.Equal(t, color.RGBA{R: 0x80, A: 0x80}, front.RGBAAt(1, 1))

	// Synchronous present: the image is immediately reusable.
	again, ok := s.PollNextImage()
	require.True(t, ok)
	require.Equal(t, idx, again)
}

func TestOffscreenXRGBIgnoresAlpha(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ImageCount = 1
	s, err := NewOffscreenSurface(cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.UpdateSurface(2, 2, XRGB8888))
	img, err := s.LockImage(0)
	require.NoError(t, err)
	pix := img.Bytes()
	for p := 0; p < len(pix); p += 4 {
		pix[p+0] = 0xff // blue
		pix[p+3] = 0x00 // garbage in the ignored byte
	}
	img.Unlock()
	require.NoError(t, s.PresentImage(0))

	front := OffscreenFront(s)
	require.NotNil(t, front)
	require.Equal(t, color.RGBA{B: 0xff, A: 0xff}, front.RGBAAt(0, 0))
}

func TestOffscreenPreservesImageContents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ImageCount = 1
	s, err := NewOffscreenSurface(cfg)
	require.NoError(t, err)
	defer s.Close()
	require.True(t, s.DoesPreserveImage())

	require.NoError(t, s.UpdateSurface(8, 8, ARGB8888))
	img, err := s.LockImage(0)
	require.NoError(t, err)
	img.Bytes()[0] = 0xab
	img.Unlock()
	require.NoError(t, s.PresentImage(0))

	img, err = s.LockImage(0)
	require.NoError(t, err)
	require.Equal(t, byte(0xab), img.Bytes()[0], "slot contents survive a present cycle")
	img.Unlock()
}

func TestOffscreenResizePreservesTopLeft(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ImageCount = 1
	s, err := NewOffscreenSurface(cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.UpdateSurface(4, 4, ARGB8888))
	img, err := s.LockImage(0)
	require.NoError(t, err)
	img.Bytes()[0] = 0x5a
	img.Unlock()

	// Growing keeps existing bytes, the rest reads as zero.
	require.NoError(t, s.UpdateSurface(4, 8, ARGB8888))
	img, err = s.LockImage(0)
	require.NoError(t, err)
	require.Equal(t, byte(0x5a), img.Bytes()[0])
	require.Equal(t, byte(0), img.Bytes()[len(img.Bytes())-1])
	img.Unlock()
}

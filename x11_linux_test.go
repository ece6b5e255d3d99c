//go:build linux

package swsurface

import "testing"

func TestPutImageRows(t *testing.T) {
	tests := []struct {
		name        string
		maxReqBytes int
		rowBytes    int
		want        int
	}{
		// The standard maximum request length is 65535 four-byte units.
		{"small image", 65535 * 4, 64 * 4, (65535*4 - putImageOverhead) / 256},
		{"row fills request", 65535 * 4, 65535 * 4, 1},
		{"row exceeds request", 4096, 8192, 1},
		{"exact fit", putImageOverhead + 4*100, 100, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := putImageRows(tt.maxReqBytes, tt.rowBytes); got != tt.want {
				t.Errorf("putImageRows(%d, %d) = %d, want %d",
					tt.maxReqBytes, tt.rowBytes, got, tt.want)
			}
		})
	}
}

func TestPackRows(t *testing.T) {
	// Three 4-byte rows with a stride of 6: the two pad bytes per row must
	// not reach the packed output.
	src := []byte{
		1, 2, 3, 4, 0xee, 0xee,
		5, 6, 7, 8, 0xee, 0xee,
		9, 10, 11, 12, 0xee, 0xee,
	}
	dst := make([]byte, 12)
	packRows(dst, src, 6, 4, 3)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("dst = %v, want %v", dst, want)
		}
	}
}

package rescue

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

// Per-pixel status bits. A pixel covering bytes of several regions ORs
// their bits together so the worst status wins the color choice.
const (
	bitFinished = 1
	bitFailed   = 2 // non-trimmed or non-scraped
	bitBad      = 4
)

func statusBits(s Status) byte {
	switch s {
	case StatusFinished:
		return bitFinished
	case StatusNonTrimmed, StatusNonScraped:
		return bitFailed
	case StatusBad:
		return bitBad
	}
	return 0 // not tried
}

var bitColors = [8][3]byte{
	0: {0x80, 0x80, 0x80}, // untried: grey
	1: {0xFF, 0xFF, 0xFF}, // finished: white
	2: {0xFF, 0x80, 0x80}, // failed: pale red
	3: {0xFF, 0xA0, 0xA0}, // failed + finished mix
	4: {0xFF, 0x00, 0x00}, // bad: red, regardless of what else the pixel holds
	5: {0xFF, 0x00, 0x00},
	6: {0xFF, 0x00, 0x00},
	7: {0xFF, 0x00, 0x00},
}

// pixelArray folds the map down to one byte of status bits per
// bytesPerPixel bytes of image.
func pixelArray(m *Map, bytesPerPixel int64) []byte {
	arr := make([]byte, m.Size()/bytesPerPixel+1)
	for _, r := range m.regions {
		bits := statusBits(r.Status)
		first := r.Start / bytesPerPixel
		last := (r.End() - 1) / bytesPerPixel
		for i := first; i <= last; i++ {
			arr[i] |= bits
		}
	}
	return arr
}

// linearDims picks a width close to the square root of the pixel count
// but rounded to 1, 2 or 5 times a power of ten, so byte offsets remain
// easy to eyeball from pixel coordinates.
func linearDims(n int) (width, height int) {
	ideal := int(math.Sqrt(float64(n)))
	if ideal < 1 {
		ideal = 1
	}
	log10 := math.Log10(float64(ideal))
	low := int(math.Pow(10, math.Floor(log10)))
	high := int(math.Pow(10, math.Ceil(log10)))
	width = high
	for _, option := range []int{low, low * 2, low * 5, high} {
		if abs(option-ideal) < abs(width-ideal) {
			width = option
		}
	}
	height = (n + width - 1) / width
	return width, height
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// RenderPPM writes a binary PPM (P6) progress picture of the map, one
// pixel per bytesPerPixel bytes, laid out row-major. The bottom row is
// padded with black.
func RenderPPM(w io.Writer, m *Map, bytesPerPixel int64) error {
	if bytesPerPixel <= 0 {
		return fmt.Errorf("bytes per pixel must be positive, got %d", bytesPerPixel)
	}
	arr := pixelArray(m, bytesPerPixel)
	width, height := linearDims(len(arr))

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "P6 %d %d 255\n", width, height)
	for _, bits := range arr {
		c := bitColors[bits&7]
		bw.Write(c[:])
	}
	black := [3]byte{}
	for i := len(arr); i < width*height; i++ {
		bw.Write(black[:])
	}
	return bw.Flush()
}

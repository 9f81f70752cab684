// internal/agent/view.go
package agent

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"math/bits"
	"time"
)

const hashSize = 8 // perceptual hash grid, hashSize*hashSize bits total

// View is an immutable snapshot of the page at one instant: the raw
// screenshot plus derived hashes and capture metadata.
type View struct {
	Label            string    `json:"label"`
	ScreenshotPNG    []byte    `json:"-"`
	ScreenshotBase64 string    `json:"screenshot_base64"`
	Timestamp        time.Time `json:"timestamp"`
	URL              string    `json:"url"`
	ContentHash      string    `json:"sha1"`
	PerceptualHash   string    `json:"ahash"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
}

// NewView wraps a raw screenshot into a normalized view. ContentHash equality
// implies a pixel-identical screenshot; PerceptualHash equality does not, but
// a low Hamming distance between perceptual hashes implies visually similar
// pages.
func NewView(label string, screenshot []byte, pageURL string) (*View, error) {
	if len(screenshot) == 0 {
		return nil, fmt.Errorf("%w: empty screenshot", ErrCaptureFailed)
	}

	img, err := png.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, fmt.Errorf("%w: decode screenshot: %v", ErrCaptureFailed, err)
	}
	bounds := img.Bounds()

	return &View{
		Label:            label,
		ScreenshotPNG:    screenshot,
		ScreenshotBase64: base64.StdEncoding.EncodeToString(screenshot),
		Timestamp:        time.Now().UTC(),
		URL:              pageURL,
		ContentHash:      fmt.Sprintf("%x", sha1.Sum(screenshot)),
		PerceptualHash:   averageHash(img),
		Width:            bounds.Dx(),
		Height:           bounds.Dy(),
	}, nil
}

// averageHash computes an 8x8 grayscale average hash: downsample, take the
// mean intensity, and emit one bit per cell (1 when the cell is at or above
// the mean). Crude and fast; it tolerates anti-aliasing jitter while still
// catching real layout changes.
func averageHash(img image.Image) string {
	cells := sampleGrid(img, hashSize)

	var sum uint64
	for _, c := range cells {
		sum += uint64(c)
	}
	avg := float64(sum) / float64(len(cells))

	var hash uint64
	for _, c := range cells {
		hash <<= 1
		if float64(c) >= avg {
			hash |= 1
		}
	}
	return fmt.Sprintf("%016x", hash)
}

// sampleGrid downsamples the image to size x size grayscale cells by
// averaging each cell's pixels in row-major order.
func sampleGrid(img image.Image, size int) []uint32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	cells := make([]uint32, 0, size*size)

	for cy := 0; cy < size; cy++ {
		y0 := bounds.Min.Y + cy*h/size
		y1 := bounds.Min.Y + (cy+1)*h/size
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for cx := 0; cx < size; cx++ {
			x0 := bounds.Min.X + cx*w/size
			x1 := bounds.Min.X + (cx+1)*w/size
			if x1 <= x0 {
				x1 = x0 + 1
			}

			var total, count uint64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					// ITU-R BT.601 luma, 16-bit channels scaled to 8-bit.
					gray := (299*uint64(r) + 587*uint64(g) + 114*uint64(b)) / 1000 >> 8
					total += gray
					count++
				}
			}
			cells = append(cells, uint32(total/count))
		}
	}
	return cells
}

// hammingDistance counts differing bits between two hex-encoded 64-bit
// hashes. Returns -1 when either hash is absent or malformed.
func hammingDistance(a, b string) int {
	if a == "" || b == "" {
		return -1
	}
	var ua, ub uint64
	if _, err := fmt.Sscanf(a, "%x", &ua); err != nil {
		return -1
	}
	if _, err := fmt.Sscanf(b, "%x", &ub); err != nil {
		return -1
	}
	return bits.OnesCount64(ua ^ ub)
}

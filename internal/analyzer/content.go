// Package analyzer finds where the content of a picture is, so page margins
// can be cut before the picture is shown as an inset.
package analyzer

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// Detector marks strong luminance edges, grows them so nearby strokes join,
// and reports the connected areas.
type Detector struct {
	// MinArea drops regions whose bounding box is smaller, in pixels².
	MinArea int
	// EdgeThreshold is the Sobel gradient magnitude that counts as an edge.
	EdgeThreshold float64
	// Reach is how far, in pixels, edges are grown before joining.
	Reach int
}

func NewDetector() *Detector {
	return &Detector{
		MinArea:       64,
		EdgeThreshold: 30,
		Reach:         4,
	}
}

// Regions returns the bounding boxes of the content areas of img, in img's
// coordinates.
func (d *Detector) Regions(img image.Image) []image.Rectangle {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return nil
	}
	mask := grow(edges(luma(img), w, h, d.EdgeThreshold), w, h, d.Reach)

	var out []image.Rectangle
	for _, r := range components(mask, w, h) {
		if r.Dx()*r.Dy() >= d.MinArea {
			out = append(out, r.Add(b.Min))
		}
	}
	return out
}

// ContentBounds is the union of all regions grown by pad and clipped to
// the picture. ok is false for a blank picture.
func (d *Detector) ContentBounds(img image.Image, pad int) (r image.Rectangle, ok bool) {
	for _, reg := range d.Regions(img) {
		r = r.Union(reg)
	}
	if r.Empty() {
		return r, false
	}
	return r.Inset(-pad).Intersect(img.Bounds()), true
}

// Trim returns the content of img with pad pixels of margin kept. A blank
// picture comes back unchanged.
func Trim(img image.Image, pad int) image.Image {
	r, ok := NewDetector().ContentBounds(img, pad)
	if !ok || r == img.Bounds() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, img, r, draw.Src, nil)
	return dst
}

func luma(img image.Image) []uint8 {
	b := img.Bounds()
	out := make([]uint8, 0, b.Dx()*b.Dy())
	if g, ok := img.(*image.Gray); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			i := g.PixOffset(b.Min.X, y)
			out = append(out, g.Pix[i:i+b.Dx()]...)
		}
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
		}
	}
	return out
}

// edges is a Sobel pass; the one-pixel frame stays unmarked.
func edges(gray []uint8, w, h int, threshold float64) []bool {
	out := make([]bool, w*h)
	px := func(x, y int) float64 { return float64(gray[y*w+x]) }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1)
			gy := px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1) -
				px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1)
			out[y*w+x] = math.Hypot(gx, gy) > threshold
		}
	}
	return out
}

// grow dilates mask by a square of radius r, one axis at a time.
func grow(mask []bool, w, h, r int) []bool {
	if r <= 0 {
		return mask
	}
	tmp := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		last := -1 << 30
		for x := 0; x < w; x++ {
			if mask[y*w+x] {
				last = x
			}
			if x-last <= r {
				tmp[y*w+x] = true
			}
		}
		last = 1 << 30
		for x := w - 1; x >= 0; x-- {
			if mask[y*w+x] {
				last = x
			}
			if last-x <= r {
				tmp[y*w+x] = true
			}
		}
	}

	out := make([]bool, len(mask))
	for x := 0; x < w; x++ {
		last := -1 << 30
		for y := 0; y < h; y++ {
			if tmp[y*w+x] {
				last = y
			}
			if y-last <= r {
				out[y*w+x] = true
			}
		}
		last = 1 << 30
		for y := h - 1; y >= 0; y-- {
			if tmp[y*w+x] {
				last = y
			}
			if last-y <= r {
				out[y*w+x] = true
			}
		}
	}
	return out
}

// components returns the bounding box of every 4-connected set area.
func components(mask []bool, w, h int) []image.Rectangle {
	seen := make([]bool, len(mask))
	var out []image.Rectangle
	var stack []int
	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		r := image.Rect(start%w, start/w, start%w+1, start/w+1)
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			r = r.Union(image.Rect(x, y, x+1, y+1))
			for _, n := range [4]int{i - 1, i + 1, i - w, i + w} {
				if n < 0 || n >= len(mask) || seen[n] || !mask[n] {
					continue
				}
				// no wrapping across rows
				if (n == i-1 && x == 0) || (n == i+1 && x == w-1) {
					continue
				}
				seen[n] = true
				stack = append(stack, n)
			}
		}
		out = append(out, r)
	}
	return out
}

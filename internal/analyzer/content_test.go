package analyzer

import (
	"image"
	"image/color"
	"testing"
)

func page(w, h int, blocks ...image.Rectangle) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for _, b := range blocks {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				img.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return img
}

func TestRegions(t *testing.T) {
	d := NewDetector()
	img := page(200, 200, image.Rect(50, 50, 150, 150))

	regions := d.Regions(img)
	if len(regions) != 1 {
		t.Fatalf("regions = %v", regions)
	}
	r := regions[0]
	if !image.Rect(50, 50, 150, 150).In(r) || !r.In(image.Rect(40, 40, 160, 160)) {
		t.Errorf("region = %v", r)
	}
}

func TestRegionsDropSpecks(t *testing.T) {
	d := NewDetector()
	d.Reach = 0
	img := page(100, 100, image.Rect(10, 10, 12, 12), image.Rect(40, 40, 80, 80))
	for _, r := range d.Regions(img) {
		if r.Max.X < 30 {
			t.Errorf("speck kept: %v", r)
		}
	}
}

func TestContentBounds(t *testing.T) {
	d := NewDetector()
	img := page(300, 200, image.Rect(40, 30, 90, 60), image.Rect(180, 120, 240, 170))

	r, ok := d.ContentBounds(img, 5)
	if !ok {
		t.Fatal("no content found")
	}
	if !image.Rect(40, 30, 240, 170).In(r) || !r.In(image.Rect(25, 15, 255, 185)) {
		t.Errorf("bounds = %v", r)
	}

	if _, ok := d.ContentBounds(page(50, 50), 5); ok {
		t.Error("blank page has content")
	}

	r, _ = d.ContentBounds(page(60, 60, image.Rect(2, 2, 58, 58)), 50)
	if r != image.Rect(0, 0, 60, 60) {
		t.Errorf("padding not clipped: %v", r)
	}
}

func TestTrim(t *testing.T) {
	img := page(400, 300, image.Rect(100, 100, 200, 150))
	out := Trim(img, 0)
	if b := out.Bounds(); b.Min != (image.Point{}) || b.Dx() < 100 || b.Dx() > 120 || b.Dy() < 50 || b.Dy() > 70 {
		t.Errorf("trimmed bounds = %v", b)
	}

	blank := page(40, 40)
	if Trim(blank, 0) != image.Image(blank) {
		t.Error("blank page was copied")
	}

	offset := page(100, 100, image.Rect(20, 20, 80, 80)).SubImage(image.Rect(10, 10, 90, 90))
	if b := Trim(offset, 0).Bounds(); b.Dx() < 60 || b.Dx() > 75 {
		t.Errorf("sub-image trim = %v", b)
	}
}

package source

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/ivlev/orbitreel/internal/analyzer"
)

// Pages is a paged picture source: a PDF document or a set of images.
type Pages interface {
	PageCount() int
	Render(index int, dpi float64) (image.Image, error)
	Close() error
}

// OpenPages opens a PDF, a single image or a directory of images.
func OpenPages(path string) (Pages, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return NewPDFPages(path)
	}
	return NewImagePages(path)
}

// PDFPages renders PDF pages through MuPDF.
type PDFPages struct {
	doc *fitz.Document
}

func NewPDFPages(path string) (*PDFPages, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	return &PDFPages{doc: doc}, nil
}

func (p *PDFPages) PageCount() int { return p.doc.NumPage() }

func (p *PDFPages) Render(index int, dpi float64) (image.Image, error) {
	if index < 0 || index >= p.doc.NumPage() {
		return nil, fmt.Errorf("page %d of %d", index+1, p.doc.NumPage())
	}
	return p.doc.ImageDPI(index, dpi)
}

func (p *PDFPages) Close() error { return p.doc.Close() }

// ImagePages serves PNG and JPEG files, in name order for a directory.
type ImagePages struct {
	paths []string
}

func NewImagePages(path string) (*ImagePages, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return &ImagePages{paths: []string{path}}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(paths)
	return &ImagePages{paths: paths}, nil
}

func (s *ImagePages) PageCount() int { return len(s.paths) }

// Render decodes the image; dpi does not apply to raster files.
func (s *ImagePages) Render(index int, _ float64) (image.Image, error) {
	if index < 0 || index >= len(s.paths) {
		return nil, fmt.Errorf("page %d of %d", index+1, len(s.paths))
	}
	f, err := os.Open(s.paths[index])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.paths[index], err)
	}
	return img, nil
}

func (s *ImagePages) Close() error { return nil }

// insetMargin is kept around trimmed inset content, in pixels.
const insetMargin = 8

// LoadInset renders one page of path for use as an overlay inset. With trim
// the blank page margins are cut away.
func LoadInset(path string, page int, dpi float64, trim bool) (image.Image, error) {
	pages, err := OpenPages(path)
	if err != nil {
		return nil, err
	}
	defer pages.Close()
	if pages.PageCount() == 0 {
		return nil, fmt.Errorf("%s has no pages", path)
	}
	if dpi <= 0 {
		dpi = 96
	}
	img, err := pages.Render(page, dpi)
	if err != nil || !trim {
		return img, err
	}
	return analyzer.Trim(img, insetMargin), nil
}

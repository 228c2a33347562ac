package effects

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"sync"

	"github.com/skip2/go-qrcode"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	defaultTextSizePercent  = 5
	defaultBadgeSizePercent = 18
	defaultInsetPercent     = 22
	blockPaddingEm          = 0.35
)

var guideColor = color.NRGBA{R: 0, G: 255, B: 255, A: 160}

// Compositor draws an OverlayConfig onto a frame. Font faces, QR codes and
// scaled insets are cached between frames. Draw calls are serialized since
// font faces keep per-face glyph buffers.
type Compositor struct {
	fonts map[string]*opentype.Font

	drawMu sync.Mutex

	mu     sync.Mutex
	faces  map[faceKey]font.Face
	badges map[badgeKey]image.Image
	insets map[insetKey]image.Image
}

type faceKey struct {
	font string
	px   int
}

type badgeKey struct {
	content string
	px      int
}

type insetKey struct {
	src image.Image
	w   int
}

// NewCompositor parses the bundled Go fonts.
func NewCompositor() (*Compositor, error) {
	c := &Compositor{
		fonts:  make(map[string]*opentype.Font),
		faces:  make(map[faceKey]font.Face),
		badges: make(map[badgeKey]image.Image),
		insets: make(map[insetKey]image.Image),
	}
	for name, ttf := range map[string][]byte{
		FontRegular: goregular.TTF,
		FontBold:    gobold.TTF,
		FontMono:    gomono.TTF,
	} {
		f, err := opentype.Parse(ttf)
		if err != nil {
			return nil, fmt.Errorf("parse font %s: %w", name, err)
		}
		c.fonts[name] = f
	}
	return c, nil
}

// Draw renders cfg over dst. Blocks with invalid colors fall back to white
// text without a background so a bad patch never blanks a recording.
func (c *Compositor) Draw(dst draw.Image, cfg OverlayConfig) error {
	b := dst.Bounds()
	if b.Empty() {
		return nil
	}
	c.drawMu.Lock()
	defer c.drawMu.Unlock()

	safe := insetRect(b, cfg.safeArea())

	var errs []string
	if cfg.Inset != nil && cfg.Inset.Image != nil {
		c.drawInset(dst, safe, cfg.Inset)
	}
	if cfg.Badge != nil && cfg.Badge.Content != "" {
		if err := c.drawBadge(dst, safe, cfg.Badge); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if cfg.Top != nil && cfg.Top.Text != "" {
		if err := c.drawBlock(dst, safe, *cfg.Top, true); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if cfg.Bottom != nil && cfg.Bottom.Text != "" {
		if err := c.drawBlock(dst, safe, *cfg.Bottom, false); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if cfg.guides() {
		drawFrame(dst, safe, guideColor)
	}

	if len(errs) > 0 {
		return fmt.Errorf("overlay: %s", strings.Join(errs, "; "))
	}
	return nil
}

func insetRect(b image.Rectangle, sa SafeArea) image.Rectangle {
	w, h := float64(b.Dx()), float64(b.Dy())
	return image.Rect(
		b.Min.X+int(math.Round(w*sa.LeftPercent/100)),
		b.Min.Y+int(math.Round(h*sa.TopPercent/100)),
		b.Max.X-int(math.Round(w*sa.RightPercent/100)),
		b.Max.Y-int(math.Round(h*sa.BottomPercent/100)),
	)
}

func (c *Compositor) face(name string, px int) font.Face {
	if _, ok := c.fonts[name]; !ok {
		name = FontRegular
	}
	if px < 6 {
		px = 6
	}
	key := faceKey{font: name, px: px}

	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.faces[key]; ok {
		return f
	}
	f, err := opentype.NewFace(c.fonts[name], &opentype.FaceOptions{
		Size:    float64(px),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil
	}
	c.faces[key] = f
	return f
}

// drawBlock lays out a caption inside the safe area: top blocks hang from
// the top edge, bottom blocks sit on the bottom edge.
func (c *Compositor) drawBlock(dst draw.Image, safe image.Rectangle, blk TextBlock, top bool) error {
	frame := dst.Bounds()
	size := blk.SizePercent
	if size <= 0 {
		size = defaultTextSizePercent
	}
	face := c.face(blk.Font, int(math.Round(float64(frame.Dy())*size/100)))
	if face == nil {
		return fmt.Errorf("no face for %q", blk.Font)
	}

	var firstErr error
	fg := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	if blk.Color != "" {
		col, err := ParseColor(blk.Color)
		if err != nil {
			firstErr = err
		} else {
			fg = col
		}
	}
	var bg *color.NRGBA
	if blk.Background != "" {
		col, err := ParseColor(blk.Background)
		if err != nil && firstErr == nil {
			firstErr = err
		} else if err == nil {
			bg = &col
		}
	}

	lines := strings.Split(blk.Text, "\n")
	m := face.Metrics()
	lineH := m.Height.Ceil()
	pad := int(math.Round(float64(lineH) * blockPaddingEm))

	widths := make([]int, len(lines))
	maxW := 0
	for i, ln := range lines {
		widths[i] = font.MeasureString(face, ln).Ceil()
		maxW = max(maxW, widths[i])
	}
	blockH := lineH * len(lines)

	dx := int(math.Round(float64(frame.Dx()) * blk.OffsetXPercent / 100))
	dy := int(math.Round(float64(frame.Dy()) * blk.OffsetYPercent / 100))

	var y0 int
	if top {
		y0 = safe.Min.Y + pad + dy
	} else {
		y0 = safe.Max.Y - pad - blockH - dy
	}

	xFor := func(w int) int {
		switch blk.Align {
		case AlignLeft:
			return safe.Min.X + pad + dx
		case AlignRight:
			return safe.Max.X - pad - w - dx
		default:
			return safe.Min.X + (safe.Dx()-w)/2 + dx
		}
	}

	if bg != nil {
		x := xFor(maxW)
		box := image.Rect(x-pad, y0-pad, x+maxW+pad, y0+blockH+pad).Intersect(frame)
		draw.Draw(dst, box, image.NewUniform(*bg), image.Point{}, draw.Over)
	}

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(fg), Face: face}
	for i, ln := range lines {
		d.Dot = fixed.P(xFor(widths[i]), y0+i*lineH+m.Ascent.Ceil())
		d.DrawString(ln)
	}
	return firstErr
}

func (c *Compositor) drawBadge(dst draw.Image, safe image.Rectangle, badge *QRBadge) error {
	size := badge.SizePercent
	if size <= 0 {
		size = defaultBadgeSizePercent
	}
	px := int(math.Round(float64(dst.Bounds().Dy()) * size / 100))
	if px < 21 {
		px = 21
	}
	key := badgeKey{content: badge.Content, px: px}

	c.mu.Lock()
	img, ok := c.badges[key]
	c.mu.Unlock()
	if !ok {
		q, err := qrcode.New(badge.Content, qrcode.Medium)
		if err != nil {
			return fmt.Errorf("qr badge: %w", err)
		}
		img = q.Image(px)
		c.mu.Lock()
		c.badges[key] = img
		c.mu.Unlock()
	}

	r := cornerRect(safe, img.Bounds().Size(), badge.Corner, CornerBottomRight)
	draw.Draw(dst, r, img, img.Bounds().Min, draw.Over)
	return nil
}

func (c *Compositor) drawInset(dst draw.Image, safe image.Rectangle, in *Inset) {
	pct := in.WidthPercent
	if pct <= 0 {
		pct = defaultInsetPercent
	}
	w := int(math.Round(float64(dst.Bounds().Dx()) * pct / 100))
	sb := in.Image.Bounds()
	if w <= 0 || sb.Dx() <= 0 || sb.Dy() <= 0 {
		return
	}
	key := insetKey{src: in.Image, w: w}

	c.mu.Lock()
	scaled, ok := c.insets[key]
	c.mu.Unlock()
	if !ok {
		h := int(math.Round(float64(w) * float64(sb.Dy()) / float64(sb.Dx())))
		rgba := image.NewRGBA(image.Rect(0, 0, w, max(h, 1)))
		xdraw.CatmullRom.Scale(rgba, rgba.Bounds(), in.Image, sb, xdraw.Src, nil)
		scaled = rgba
		c.mu.Lock()
		c.insets[key] = scaled
		c.mu.Unlock()
	}

	r := cornerRect(safe, scaled.Bounds().Size(), in.Corner, CornerTopLeft)
	draw.Draw(dst, r, scaled, image.Point{}, draw.Over)
}

func cornerRect(safe image.Rectangle, size image.Point, corner, fallback string) image.Rectangle {
	if corner == "" {
		corner = fallback
	}
	var p image.Point
	switch corner {
	case CornerTopLeft:
		p = safe.Min
	case CornerTopRight:
		p = image.Pt(safe.Max.X-size.X, safe.Min.Y)
	case CornerBottomLeft:
		p = image.Pt(safe.Min.X, safe.Max.Y-size.Y)
	default:
		p = safe.Max.Sub(size)
	}
	return image.Rectangle{Min: p, Max: p.Add(size)}
}

// drawFrame outlines r with 2px lines.
func drawFrame(dst draw.Image, r image.Rectangle, col color.Color) {
	src := image.NewUniform(col)
	const t = 2
	for _, edge := range []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	} {
		draw.Draw(dst, edge, src, image.Point{}, draw.Over)
	}
}

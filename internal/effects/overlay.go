// Package effects draws burned-in overlays onto captured frames: caption
// blocks, safe-area guides, a QR badge and an inset image.
package effects

import (
	"fmt"
	"image"
	"image/color"
	"reflect"
	"strconv"
	"strings"

	"github.com/InVisionApp/conjungo"
)

const (
	AlignLeft   = "left"
	AlignCenter = "center"
	AlignRight  = "right"

	FontRegular = "regular"
	FontBold    = "bold"
	FontMono    = "mono"

	CornerTopLeft     = "top-left"
	CornerTopRight    = "top-right"
	CornerBottomLeft  = "bottom-left"
	CornerBottomRight = "bottom-right"
)

// TextBlock is one caption. Sizes and offsets are percentages of the frame.
type TextBlock struct {
	Text           string  `yaml:"text" json:"text"`
	Font           string  `yaml:"font" json:"font"`                 // regular, bold or mono
	SizePercent    float64 `yaml:"size_percent" json:"size_percent"` // of frame height
	Color          string  `yaml:"color" json:"color"`               // #RRGGBB or #RRGGBBAA
	Background     string  `yaml:"background" json:"background"`     // empty for none
	Align          string  `yaml:"align" json:"align"`
	OffsetXPercent float64 `yaml:"offset_x_percent" json:"offset_x_percent"`
	OffsetYPercent float64 `yaml:"offset_y_percent" json:"offset_y_percent"`
}

// SafeArea insets, in percent of the frame, keep overlays clear of edges
// that players and social feeds crop.
type SafeArea struct {
	TopPercent    float64 `yaml:"top_percent" json:"top_percent"`
	BottomPercent float64 `yaml:"bottom_percent" json:"bottom_percent"`
	LeftPercent   float64 `yaml:"left_percent" json:"left_percent"`
	RightPercent  float64 `yaml:"right_percent" json:"right_percent"`
}

var DefaultSafeArea = SafeArea{TopPercent: 5, BottomPercent: 5, LeftPercent: 5, RightPercent: 5}

// QRBadge renders Content as a QR code in a corner.
type QRBadge struct {
	Content     string  `yaml:"content" json:"content"`
	SizePercent float64 `yaml:"size_percent" json:"size_percent"` // of frame height
	Corner      string  `yaml:"corner" json:"corner"`
}

// Inset is a picture (site plan, logo) scaled into a corner.
type Inset struct {
	Image        image.Image `yaml:"-" json:"-"`
	Path         string      `yaml:"path" json:"path"`
	WidthPercent float64     `yaml:"width_percent" json:"width_percent"` // of frame width
	Corner       string      `yaml:"corner" json:"corner"`
}

// OverlayConfig is everything drawn over a frame. Safe-area guides are a
// preview aid and are drawn only when ShowSafeArea is explicitly true.
type OverlayConfig struct {
	Top          *TextBlock `yaml:"top,omitempty" json:"top,omitempty"`
	Bottom       *TextBlock `yaml:"bottom,omitempty" json:"bottom,omitempty"`
	SafeArea     SafeArea   `yaml:"safe_area" json:"safe_area"`
	ShowSafeArea *bool      `yaml:"show_safe_area,omitempty" json:"show_safe_area,omitempty"`
	Badge        *QRBadge   `yaml:"badge,omitempty" json:"badge,omitempty"`
	Inset        *Inset     `yaml:"inset,omitempty" json:"inset,omitempty"`
}

// Empty reports whether nothing would be drawn.
func (c OverlayConfig) Empty() bool {
	return (c.Top == nil || c.Top.Text == "") &&
		(c.Bottom == nil || c.Bottom.Text == "") &&
		!c.guides() && c.Badge == nil && c.Inset == nil
}

func (c OverlayConfig) guides() bool {
	return c.ShowSafeArea != nil && *c.ShowSafeArea
}

func (c OverlayConfig) safeArea() SafeArea {
	if c.SafeArea == (SafeArea{}) {
		return DefaultSafeArea
	}
	return c.SafeArea
}

// Merge applies the set fields of patch. Empty strings, zero numbers and nil
// pointers keep the current value; text blocks merge field by field while a
// badge or inset in the patch replaces the current one.
func (c OverlayConfig) Merge(patch OverlayConfig) (OverlayConfig, error) {
	merged := c.clone()
	if err := conjungo.Merge(&merged, patch, overlayMergeOptions()); err != nil {
		return c, fmt.Errorf("merge overlay: %w", err)
	}
	return merged, nil
}

func (c OverlayConfig) clone() OverlayConfig {
	out := c
	if c.Top != nil {
		top := *c.Top
		out.Top = &top
	}
	if c.Bottom != nil {
		bottom := *c.Bottom
		out.Bottom = &bottom
	}
	if c.ShowSafeArea != nil {
		v := *c.ShowSafeArea
		out.ShowSafeArea = &v
	}
	return out
}

func overlayMergeOptions() *conjungo.Options {
	opts := conjungo.NewOptions()
	opts.SetTypeMergeFunc(
		reflect.TypeOf(""),
		func(t, s reflect.Value, o *conjungo.Options) (reflect.Value, error) {
			targetStr, _ := t.Interface().(string)
			sourceStr, _ := s.Interface().(string)
			finalStr := targetStr
			if sourceStr != "" {
				finalStr = sourceStr
			}
			return reflect.ValueOf(finalStr), nil
		},
	)
	opts.SetTypeMergeFunc(
		reflect.TypeOf(0.0),
		func(t, s reflect.Value, o *conjungo.Options) (reflect.Value, error) {
			if s.Float() != 0 {
				return s, nil
			}
			return t, nil
		},
	)
	opts.SetTypeMergeFunc(reflect.TypeOf((*bool)(nil)), replaceUnlessNil)
	opts.SetTypeMergeFunc(reflect.TypeOf((*QRBadge)(nil)), replaceUnlessNil)
	opts.SetTypeMergeFunc(reflect.TypeOf((*Inset)(nil)), replaceUnlessNil)
	opts.SetTypeMergeFunc(
		reflect.TypeOf((*TextBlock)(nil)),
		func(t, s reflect.Value, o *conjungo.Options) (reflect.Value, error) {
			if s.IsNil() {
				return t, nil
			}
			if t.IsNil() {
				block := *s.Interface().(*TextBlock)
				return reflect.ValueOf(&block), nil
			}
			block := *t.Interface().(*TextBlock)
			if err := conjungo.Merge(&block, *s.Interface().(*TextBlock), o); err != nil {
				return t, err
			}
			return reflect.ValueOf(&block), nil
		},
	)
	return opts
}

func replaceUnlessNil(t, s reflect.Value, _ *conjungo.Options) (reflect.Value, error) {
	if s.IsNil() {
		return t, nil
	}
	return s, nil
}

// ParseColor reads #RGB, #RRGGBB or #RRGGBBAA.
func ParseColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// Package adapter defines the uniform model capability and the built-in
// overlay models.
package adapter

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"

	"github.com/bdougie/framekit/internal/models"
)

// OutlineThickness is the stroke width, in pixels, of every drawn box
const OutlineThickness = 5

var errEmptyFrame = errors.New("frame has no pixels")

// ModelAdapter wraps one model's inference behind a uniform signature.
// Implementations must not keep state between calls.
type ModelAdapter interface {
	ID() models.ModelID
	// DefaultColor is the overlay colour offered when the user picks none
	DefaultColor() models.RGB
	// Infer returns a new frame and never modifies the input
	Infer(ctx context.Context, frame *image.RGBA, c models.RGB) (*image.RGBA, error)
}

// boxModel draws a centred rectangle whose corners sit at fixed fractions
// of the frame size. Output dimensions always equal input dimensions.
type boxModel struct {
	id           models.ModelID
	lo, hi       float64
	defaultColor models.RGB
}

// NewModelA draws a box spanning the middle half of the frame
func NewModelA() ModelAdapter {
	return &boxModel{id: models.ModelA, lo: 0.25, hi: 0.75, defaultColor: models.RGB{G: 255}}
}

// NewModelB draws a box inset 10% from every edge
func NewModelB() ModelAdapter {
	return &boxModel{id: models.ModelB, lo: 0.10, hi: 0.90, defaultColor: models.RGB{R: 255}}
}

// NewModelC draws a small box around the centre
func NewModelC() ModelAdapter {
	return &boxModel{id: models.ModelC, lo: 0.40, hi: 0.60, defaultColor: models.RGB{B: 255}}
}

func (m *boxModel) ID() models.ModelID       { return m.id }
func (m *boxModel) DefaultColor() models.RGB { return m.defaultColor }

func (m *boxModel) Infer(ctx context.Context, frame *image.RGBA, c models.RGB) (*image.RGBA, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, &models.InferenceError{Err: errEmptyFrame}
	}

	b := frame.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	box := image.Rect(
		b.Min.X+int(w*m.lo), b.Min.Y+int(h*m.lo),
		b.Min.X+int(w*m.hi), b.Min.Y+int(h*m.hi),
	)

	out := Clone(frame)
	DrawOutline(out, box, c, OutlineThickness)
	return out, nil
}

// Clone copies a frame into a freshly allocated buffer with the same bounds
func Clone(frame *image.RGBA) *image.RGBA {
	out := image.NewRGBA(frame.Bounds())
	draw.Draw(out, out.Bounds(), frame, frame.Bounds().Min, draw.Src)
	return out
}

// DrawOutline strokes the rectangle r onto dst. The stroke is centred on
// the rectangle edges and clipped to the frame.
func DrawOutline(dst *image.RGBA, r image.Rectangle, c models.RGB, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	half := thickness / 2
	fill := image.NewUniform(color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})

	bands := []image.Rectangle{
		image.Rect(r.Min.X-half, r.Min.Y-half, r.Max.X+half+1, r.Min.Y+half+1), // top
		image.Rect(r.Min.X-half, r.Max.Y-half, r.Max.X+half+1, r.Max.Y+half+1), // bottom
		image.Rect(r.Min.X-half, r.Min.Y-half, r.Min.X+half+1, r.Max.Y+half+1), // left
		image.Rect(r.Max.X-half, r.Min.Y-half, r.Max.X+half+1, r.Max.Y+half+1), // right
	}
	for _, band := range bands {
		clipped := band.Intersect(dst.Bounds())
		if clipped.Empty() {
			continue
		}
		draw.Draw(dst, clipped, fill, image.Point{}, draw.Src)
	}
}

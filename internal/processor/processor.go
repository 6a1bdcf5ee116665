// Package processor applies a model adapter to a single decoded frame.
package processor

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/bdougie/framekit/internal/adapter"
	"github.com/bdougie/framekit/internal/models"
)

// Normalize returns img as an RGBA buffer whose bounds start at (0,0).
// An RGBA input already anchored at the origin is returned as is.
func Normalize(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// Process runs one frame through the adapter. The result always has the
// dimensions of the input frame.
func Process(ctx context.Context, a adapter.ModelAdapter, img image.Image, c models.RGB) (*image.RGBA, error) {
	if img == nil {
		return nil, &models.InferenceError{Err: fmt.Errorf("nil frame")}
	}
	frame := Normalize(img)

	out, err := a.Infer(ctx, frame, c)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, &models.InferenceError{Err: fmt.Errorf("model %s returned no frame", a.ID())}
	}
	if out.Bounds().Size() != frame.Bounds().Size() {
		return nil, &models.InferenceError{
			Err: fmt.Errorf("model %s resized frame from %v to %v", a.ID(), frame.Bounds().Size(), out.Bounds().Size()),
		}
	}
	return Normalize(out), nil
}

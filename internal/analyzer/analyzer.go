// Package analyzer provides model V, which asks a vision language model
// where the main subject of a frame is and outlines it.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"strings"

	"github.com/bdougie/framekit/internal/adapter"
	"github.com/bdougie/framekit/internal/models"
)

const boxPrompt = `Find the main subject of this image. Answer with a single JSON object ` +
	`{"x0": number, "y0": number, "x1": number, "y1": number} giving its bounding box ` +
	`as fractions of the image width and height between 0 and 1, with (x0, y0) the top left corner.`

// Prompter sends an image and a prompt to a vision model
type Prompter interface {
	Prompt(ctx context.Context, input, imagePath string) (string, error)
}

// Box is a bounding box in fractions of the frame size
type Box struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Rect converts the box to pixel coordinates for a width x height frame
func (b Box) Rect(width, height int) image.Rectangle {
	return image.Rect(
		int(b.X0*float64(width)),
		int(b.Y0*float64(height)),
		int(b.X1*float64(width)),
		int(b.Y1*float64(height)),
	)
}

// ParseBox extracts the JSON bounding box from a model answer. Surrounding
// prose and code fences are ignored.
func ParseBox(answer string) (Box, error) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		return Box{}, fmt.Errorf("no JSON object in model answer %q", answer)
	}

	var box Box
	if err := json.Unmarshal([]byte(answer[start:end+1]), &box); err != nil {
		return Box{}, fmt.Errorf("failed to parse bounding box: %w", err)
	}
	for _, v := range []float64{box.X0, box.Y0, box.X1, box.Y1} {
		if v < 0 || v > 1 {
			return Box{}, fmt.Errorf("bounding box %+v is outside the frame", box)
		}
	}
	if box.X0 >= box.X1 || box.Y0 >= box.Y1 {
		return Box{}, fmt.Errorf("bounding box %+v is empty", box)
	}
	return box, nil
}

// VisionModel is the model adapter backed by a vision language model
type VisionModel struct {
	prompter Prompter
	tempDir  string
	logger   *slog.Logger
}

// NewVisionModel creates model V. Frames are handed to the prompter as
// temporary PNG files in tempDir.
func NewVisionModel(prompter Prompter, tempDir string, logger *slog.Logger) *VisionModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionModel{prompter: prompter, tempDir: tempDir, logger: logger}
}

func (m *VisionModel) ID() models.ModelID { return models.ModelVision }

func (m *VisionModel) DefaultColor() models.RGB { return models.RGB{R: 255, G: 255} }

func (m *VisionModel) Infer(ctx context.Context, frame *image.RGBA, c models.RGB) (*image.RGBA, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, &models.InferenceError{Err: fmt.Errorf("empty frame")}
	}

	path, err := m.writeFrame(frame)
	if err != nil {
		return nil, &models.InferenceError{Err: err}
	}
	defer os.Remove(path)

	answer, err := m.prompter.Prompt(ctx, boxPrompt, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.InferenceError{Err: fmt.Errorf("vision model failed: %w", err)}
	}
	m.logger.Debug("Vision model answered", "answer", answer)

	box, err := ParseBox(answer)
	if err != nil {
		return nil, &models.InferenceError{Err: err}
	}

	b := frame.Bounds()
	r := box.Rect(b.Dx(), b.Dy()).Add(b.Min)
	out := adapter.Clone(frame)
	adapter.DrawOutline(out, r, c, adapter.OutlineThickness)
	return out, nil
}

func (m *VisionModel) writeFrame(frame *image.RGBA) (string, error) {
	f, err := os.CreateTemp(m.tempDir, "framekit-vision-*.png")
	if err != nil {
		return "", fmt.Errorf("failed to create frame file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, frame); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write frame file: %w", err)
	}
	return f.Name(), nil
}

package models

import (
	"fmt"
)

// RGB is a visualization colour
type RGB struct {
	R, G, B uint8
}

// NewRGB builds a colour from untrusted channel values
func NewRGB(r, g, b int) (RGB, error) {
	for _, ch := range []struct {
		name  string
		value int
	}{{"red", r}, {"green", g}, {"blue", b}} {
		if ch.value < 0 || ch.value > 255 {
			return RGB{}, &ValidationError{
				Field:  "color",
				Reason: fmt.Sprintf("%s channel %d outside [0,255]", ch.name, ch.value),
			}
		}
	}
	return RGB{R: uint8(r), G: uint8(g), B: uint8(b)}, nil
}

// String formats the colour as r,g,b
func (c RGB) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// RunRequestParams carries the raw inputs collected by the front end
type RunRequestParams struct {
	Kind        MediaKind
	Items       []MediaItem
	Model       ModelID
	Color       [3]int
	BitrateKbps int
}

// RunRequest is a validated, immutable description of one run
type RunRequest struct {
	kind        MediaKind
	items       []MediaItem
	model       ModelID
	color       RGB
	bitrateKbps int
}

// NewRunRequest validates params and returns an immutable request
func NewRunRequest(p RunRequestParams) (*RunRequest, error) {
	switch p.Kind {
	case KindImageBatch, KindVideo:
	default:
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown media kind %q", p.Kind)}
	}

	if len(p.Items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "no media uploaded"}
	}
	if p.Kind == KindVideo && len(p.Items) != 1 {
		return nil, &ValidationError{Field: "items", Reason: fmt.Sprintf("video runs take exactly one file, got %d", len(p.Items))}
	}
	for i, item := range p.Items {
		if len(item.Data) == 0 {
			return nil, &ValidationError{Field: "items", Reason: fmt.Sprintf("item %d (%s) is empty", i+1, item.Name)}
		}
	}

	if !knownModel(p.Model) {
		return nil, &ValidationError{Field: "model", Reason: fmt.Sprintf("unknown model %q", p.Model)}
	}

	color, err := NewRGB(p.Color[0], p.Color[1], p.Color[2])
	if err != nil {
		return nil, err
	}

	bitrate := 0
	if p.Kind == KindVideo {
		if p.BitrateKbps <= 0 {
			return nil, &ValidationError{Field: "bitrate", Reason: fmt.Sprintf("must be positive, got %d", p.BitrateKbps)}
		}
		bitrate = p.BitrateKbps
	}

	items := make([]MediaItem, len(p.Items))
	for i, item := range p.Items {
		items[i] = MediaItem{Name: item.Name, Data: append([]byte(nil), item.Data...)}
	}

	return &RunRequest{
		kind:        p.Kind,
		items:       items,
		model:       p.Model,
		color:       color,
		bitrateKbps: bitrate,
	}, nil
}

func knownModel(id ModelID) bool {
	for _, m := range KnownModels {
		if m == id {
			return true
		}
	}
	return false
}

func (r *RunRequest) Kind() MediaKind  { return r.kind }
func (r *RunRequest) Model() ModelID   { return r.model }
func (r *RunRequest) Color() RGB       { return r.color }
func (r *RunRequest) BitrateKbps() int { return r.bitrateKbps }
func (r *RunRequest) Len() int         { return len(r.items) }

// Item returns the i-th item. The returned bytes must not be modified.
func (r *RunRequest) Item(i int) MediaItem {
	return r.items[i]
}

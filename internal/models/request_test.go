package models

import (
	"errors"
	"testing"
)

func validParams() RunRequestParams {
	return RunRequestParams{
		Kind:  KindImageBatch,
		Items: []MediaItem{{Name: "a.png", Data: []byte{1, 2, 3}}},
		Model: ModelA,
		Color: [3]int{0, 255, 0},
	}
}

func TestNewRunRequestRejectsOutOfRangeColor(t *testing.T) {
	t.Parallel()

	colors := [][3]int{
		{-1, 0, 0},
		{0, 256, 0},
		{0, 0, 1000},
		{300, -5, 12},
	}

	for _, c := range colors {
		p := validParams()
		p.Color = c
		req, err := NewRunRequest(p)
		if req != nil {
			t.Errorf("color %v: expected nil request", c)
		}
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("color %v: expected ValidationError, got %v", c, err)
		}
		if verr.Field != "color" {
			t.Errorf("color %v: expected field color, got %s", c, verr.Field)
		}
	}
}

func TestNewRunRequestValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		mod   func(p *RunRequestParams)
		field string
	}{
		{
			name:  "no items",
			mod:   func(p *RunRequestParams) { p.Items = nil },
			field: "items",
		},
		{
			name:  "empty item",
			mod:   func(p *RunRequestParams) { p.Items = []MediaItem{{Name: "x.png"}} },
			field: "items",
		},
		{
			name:  "unknown model",
			mod:   func(p *RunRequestParams) { p.Model = "Z" },
			field: "model",
		},
		{
			name:  "unknown kind",
			mod:   func(p *RunRequestParams) { p.Kind = "audio" },
			field: "kind",
		},
		{
			name: "video without bitrate",
			mod: func(p *RunRequestParams) {
				p.Kind = KindVideo
				p.BitrateKbps = 0
			},
			field: "bitrate",
		},
		{
			name: "video negative bitrate",
			mod: func(p *RunRequestParams) {
				p.Kind = KindVideo
				p.BitrateKbps = -500
			},
			field: "bitrate",
		},
		{
			name: "video with two files",
			mod: func(p *RunRequestParams) {
				p.Kind = KindVideo
				p.BitrateKbps = 500
				p.Items = append(p.Items, MediaItem{Name: "b.mp4", Data: []byte{1}})
			},
			field: "items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mod(&p)
			_, err := NewRunRequest(p)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, verr.Field)
			}
		})
	}
}

func TestNewRunRequestIgnoresBitrateForImages(t *testing.T) {
	t.Parallel()

	p := validParams()
	p.BitrateKbps = -1
	req, err := NewRunRequest(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.BitrateKbps() != 0 {
		t.Errorf("expected bitrate 0 for image batch, got %d", req.BitrateKbps())
	}
}

func TestNewRunRequestCopiesItems(t *testing.T) {
	t.Parallel()

	p := validParams()
	req, err := NewRunRequest(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p.Items[0].Data[0] = 99
	if req.Item(0).Data[0] != 1 {
		t.Error("request shares item bytes with caller")
	}
	if req.Color() != (RGB{R: 0, G: 255, B: 0}) {
		t.Errorf("unexpected color %v", req.Color())
	}
}

func TestStageOrder(t *testing.T) {
	t.Parallel()

	stages := []Stage{StageDecoding, StageInferring, StageEncoding, StagePackaging}
	for i := 1; i < len(stages); i++ {
		if stages[i-1].Order() >= stages[i].Order() {
			t.Errorf("%s should come before %s", stages[i-1], stages[i])
		}
	}
	if Stage("bogus").Order() != -1 {
		t.Error("unknown stage should order as -1")
	}
}

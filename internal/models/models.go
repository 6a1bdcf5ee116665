package models

import (
	"time"
)

// MediaKind selects which runner handles a request
type MediaKind string

const (
	KindImageBatch MediaKind = "images"
	KindVideo      MediaKind = "video"
)

// ModelID names one of the registered model adapters
type ModelID string

const (
	ModelA ModelID = "A"
	ModelB ModelID = "B"
	ModelC ModelID = "C"
	// ModelVision is the optional vision-agent adapter, only registered when enabled in config
	ModelVision ModelID = "V"
)

// KnownModels lists every model id a request may carry
var KnownModels = []ModelID{ModelA, ModelB, ModelC, ModelVision}

// MediaItem is one uploaded file
type MediaItem struct {
	Name string
	Data []byte
}

// Stage identifies the pipeline step a progress event belongs to
type Stage string

const (
	StageDecoding  Stage = "decoding"
	StageInferring Stage = "inferring"
	StageEncoding  Stage = "encoding"
	StagePackaging Stage = "packaging"
)

// Order returns the position of the stage within a run.
// Events of a run are ordered by (Order, Completed).
func (s Stage) Order() int {
	switch s {
	case StageDecoding:
		return 0
	case StageInferring:
		return 1
	case StageEncoding:
		return 2
	case StagePackaging:
		return 3
	default:
		return -1
	}
}

// ProgressEvent reports how far a run has advanced within a stage
type ProgressEvent struct {
	RunID      string
	Generation uint64
	Stage      Stage
	Completed  int
	Total      int
}

// Status is the terminal state of a run
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// ArchiveEntry describes one processed image stored in the output archive
type ArchiveEntry struct {
	Index     int       `json:"index"` // 1-based position in the request
	Name      string    `json:"name"`
	Signature []float32 `json:"signature,omitempty"`
}

// ItemFailure records an image that was left out of the archive
type ItemFailure struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ImageResult is the output of an image batch run
type ImageResult struct {
	Archive  []byte
	Entries  []ArchiveEntry
	Failures []ItemFailure
}

// Names returns the archived file names in input order
func (r *ImageResult) Names() []string {
	names := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		names = append(names, e.Name)
	}
	return names
}

// VideoResult is the output of a video run
type VideoResult struct {
	Data        []byte
	BitrateKbps int
	Frames      int
	Width       int
	Height      int
	FPS         float64
	Truncated   bool
	Note        string
}

// RunResult is the terminal outcome of one run. It is never mutated after
// the runner returns it.
type RunResult struct {
	RunID      string
	Kind       MediaKind
	Model      ModelID
	Items      int
	Status     Status
	Error      string
	Image      *ImageResult
	Video      *VideoResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// VideoInfo holds the stream properties needed to decode and re-encode a video
type VideoInfo struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
}

// FrameSize returns the size in bytes of one RGBA frame
func (v VideoInfo) FrameSize() int {
	return v.Width * v.Height * 4
}

package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bdougie/framekit/internal/models"
	"github.com/bdougie/framekit/internal/processor"
)

// VideoRunner decodes a video, runs the model on every frame and
// re-encodes the result at the requested bitrate
type VideoRunner struct {
	codec       VideoCodec
	encodeChunk int
	tempDir     string
	logger      *slog.Logger
}

// NewVideoRunner creates a VideoRunner. encodeChunk is the number of frames
// between Encoding progress events; values below 1 mean every frame.
func NewVideoRunner(codec VideoCodec, encodeChunk int, tempDir string, logger *slog.Logger) *VideoRunner {
	if encodeChunk < 1 {
		encodeChunk = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoRunner{
		codec:       codec,
		encodeChunk: encodeChunk,
		tempDir:     tempDir,
		logger:      logger,
	}
}

// Run implements Runner
func (r *VideoRunner) Run(ctx context.Context, job Job, emit func(models.ProgressEvent)) *models.RunResult {
	res := newResult(job)
	ev := emitter{runID: job.ID, emit: emit}
	req := job.Request
	item := req.Item(0)

	r.logger.Info("Processing video",
		"run_id", job.ID,
		"model", req.Model(),
		"name", item.Name,
		"bitrate_kbps", req.BitrateKbps(),
	)

	// Stage 1: decode into a spool
	src, err := r.codec.Open(ctx, item.Data)
	if err != nil {
		if stopped(ctx, err) {
			return cancelled(res)
		}
		return failed(res, asDecodeError(err))
	}
	defer src.Close()

	info := src.Info()
	probed := info.FrameCount
	total := max(probed, 0)
	ev.send(models.StageDecoding, 0, total)

	input, err := newSpool(r.tempDir, info.Width, info.Height)
	if err != nil {
		return failed(res, &models.DecodeError{Err: err})
	}
	defer input.Close()

	truncated := false
	for {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if stopped(ctx, err) {
				return cancelled(res)
			}
			if errors.Is(err, models.ErrTruncated) && input.Len() > 0 {
				truncated = true
				break
			}
			return failed(res, asDecodeError(err))
		}
		if err := input.Write(frame); err != nil {
			return failed(res, &models.DecodeError{Err: err})
		}
		if input.Len() > total {
			total = input.Len()
		}
		ev.send(models.StageDecoding, input.Len(), total)
	}

	frames := input.Len()
	if frames == 0 {
		return failed(res, &models.DecodeError{Err: errors.New("video contains no frames")})
	}
	note := ""
	if truncated {
		note = truncationNote(frames, probed)
		r.logger.Warn("Video truncated", "run_id", job.ID, "decoded", frames, "probed", probed)
	} else if frames != probed && probed > 0 {
		// probe counts from duration x fps are estimates
		r.logger.Debug("Frame count differs from probe", "run_id", job.ID, "decoded", frames, "probed", probed)
	}
	total = frames

	// Stage 2: run the model on every frame
	if err := input.Rewind(); err != nil {
		return failed(res, &models.DecodeError{Err: err})
	}
	output, err := newSpool(r.tempDir, info.Width, info.Height)
	if err != nil {
		return failed(res, &models.EncodeError{Err: err})
	}
	defer output.Close()

	for i := 1; i <= total; i++ {
		if ctx.Err() != nil {
			return cancelled(res)
		}
		frame, err := input.Read()
		if err != nil {
			return failed(res, &models.DecodeError{Err: err})
		}
		processed, err := processor.Process(ctx, job.Adapter, frame, req.Color())
		if err != nil {
			if stopped(ctx, err) {
				return cancelled(res)
			}
			return failed(res, fmt.Errorf("frame %d/%d: %w", i, total, err))
		}
		if err := output.Write(processed); err != nil {
			return failed(res, &models.EncodeError{Err: err})
		}
		ev.send(models.StageInferring, i, total)
	}

	// Stage 3: encode
	if err := output.Rewind(); err != nil {
		return failed(res, &models.EncodeError{Err: err})
	}
	outInfo := info
	outInfo.FrameCount = total
	sink, err := r.codec.NewSink(ctx, outInfo, req.BitrateKbps())
	if err != nil {
		if stopped(ctx, err) {
			return cancelled(res)
		}
		return failed(res, asEncodeError(err))
	}

	for i := 1; i <= total; i++ {
		if ctx.Err() != nil {
			sink.Abort()
			return cancelled(res)
		}
		frame, err := output.Read()
		if err != nil {
			sink.Abort()
			return failed(res, &models.EncodeError{Err: err})
		}
		if err := sink.Write(frame); err != nil {
			sink.Abort()
			if stopped(ctx, err) {
				return cancelled(res)
			}
			return failed(res, asEncodeError(err))
		}
		if i%r.encodeChunk == 0 || i == total {
			ev.send(models.StageEncoding, i, total)
		}
	}

	data, err := sink.Finish()
	if err != nil {
		if stopped(ctx, err) {
			return cancelled(res)
		}
		return failed(res, asEncodeError(err))
	}

	res.Video = &models.VideoResult{
		Data:        data,
		BitrateKbps: req.BitrateKbps(),
		Frames:      total,
		Width:       info.Width,
		Height:      info.Height,
		FPS:         info.FPS,
		Truncated:   truncated,
		Note:        note,
	}

	r.logger.Info("Video processed",
		"run_id", job.ID,
		"frames", total,
		"truncated", truncated,
		"output_bytes", len(data),
	)
	return completed(res)
}

func truncationNote(frames, probed int) string {
	if frames < probed {
		return fmt.Sprintf("decoded %d of %d frames; the stream ended early", frames, probed)
	}
	return fmt.Sprintf("decoded %d frames; the stream ended with a corrupt frame", frames)
}

func asDecodeError(err error) error {
	var derr *models.DecodeError
	if errors.As(err, &derr) {
		return err
	}
	return &models.DecodeError{Err: err}
}

func asEncodeError(err error) error {
	var eerr *models.EncodeError
	if errors.As(err, &eerr) {
		return err
	}
	return &models.EncodeError{Err: err}
}

package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"

	"github.com/bdougie/framekit/internal/embeddings"
	"github.com/bdougie/framekit/internal/models"
	"github.com/bdougie/framekit/internal/processor"
)

// JPEGQuality is used when re-encoding JPEG uploads
const JPEGQuality = 95

// ImageRunner processes an image batch item by item and packages the
// successful outputs into a ZIP archive
type ImageRunner struct {
	signatures *embeddings.Service
	logger     *slog.Logger
}

// NewImageRunner creates an ImageRunner. signatures may be nil.
func NewImageRunner(signatures *embeddings.Service, logger *slog.Logger) *ImageRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageRunner{signatures: signatures, logger: logger}
}

type processedImage struct {
	index     int
	name      string
	data      []byte
	png       bool
	signature <-chan embeddings.Result
}

// Run implements Runner
func (r *ImageRunner) Run(ctx context.Context, job Job, emit func(models.ProgressEvent)) *models.RunResult {
	res := newResult(job)
	ev := emitter{runID: job.ID, emit: emit}
	req := job.Request
	total := req.Len()

	r.logger.Info("Processing images", "run_id", job.ID, "model", req.Model(), "count", total)

	names := newNamer()
	var outputs []processedImage
	var failures []models.ItemFailure
	var errs []error

	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			return cancelled(res)
		}

		item := req.Item(i)
		r.logger.Debug("Processing image", "run_id", job.ID, "item", i+1, "total", total, "name", item.Name)

		out, err := r.processItem(ctx, job, item)
		if err != nil {
			if stopped(ctx, err) {
				return cancelled(res)
			}
			r.logger.Warn("Image failed", "run_id", job.ID, "item", i+1, "name", item.Name, "error", err)
			failures = append(failures, models.ItemFailure{Index: i + 1, Name: item.Name, Reason: err.Error()})
			errs = append(errs, fmt.Errorf("item %d (%s): %w", i+1, item.Name, err))
		} else {
			out.index = i + 1
			ext := ".jpg"
			if out.png {
				ext = ".png"
			}
			out.name = names.name(i+1, item.Name, ext)
			outputs = append(outputs, out)
		}

		ev.send(models.StageInferring, i+1, total)
	}

	if len(outputs) == 0 {
		return failed(res, fmt.Errorf("all %d images failed: %w", total, errors.Join(errs...)))
	}
	if ctx.Err() != nil {
		return cancelled(res)
	}

	ev.send(models.StagePackaging, total, total)

	files := make([]archiveFile, 0, len(outputs))
	entries := make([]models.ArchiveEntry, 0, len(outputs))
	for _, out := range outputs {
		files = append(files, archiveFile{name: out.name, data: out.data, compressed: out.png})
		entry := models.ArchiveEntry{Index: out.index, Name: out.name}
		if out.signature != nil {
			if sig := <-out.signature; sig.Error == nil {
				entry.Signature = sig.Signature
			} else {
				r.logger.Debug("Signature unavailable", "run_id", job.ID, "name", out.name, "error", sig.Error)
			}
		}
		entries = append(entries, entry)
	}

	archive, err := writeArchive(files)
	if err != nil {
		return failed(res, &models.EncodeError{Err: err})
	}

	res.Image = &models.ImageResult{
		Archive:  archive,
		Entries:  entries,
		Failures: failures,
	}

	r.logger.Info("Images processed",
		"run_id", job.ID,
		"archived", len(entries),
		"failed", len(failures),
		"archive_bytes", len(archive),
	)
	return completed(res)
}

// processItem decodes, runs the model and re-encodes one upload
func (r *ImageRunner) processItem(ctx context.Context, job Job, item models.MediaItem) (processedImage, error) {
	img, format, err := image.Decode(bytes.NewReader(item.Data))
	if err != nil {
		return processedImage{}, &models.DecodeError{Err: err}
	}

	frame, err := processor.Process(ctx, job.Adapter, img, job.Request.Color())
	if err != nil {
		var ierr *models.InferenceError
		if errors.As(err, &ierr) && ierr.Item == "" {
			ierr.Item = item.Name
		}
		return processedImage{}, err
	}

	buf := &bytes.Buffer{}
	out := processedImage{png: format != "jpeg"}
	if out.png {
		err = png.Encode(buf, frame)
	} else {
		err = jpeg.Encode(buf, frame, &jpeg.Options{Quality: JPEGQuality})
	}
	if err != nil {
		return processedImage{}, &models.EncodeError{Err: err}
	}
	out.data = buf.Bytes()

	if r.signatures != nil {
		out.signature = r.signatures.GetSignature(frame)
	}
	return out, nil
}

// Package runner drives a model adapter over an image batch or a video,
// reporting progress and packaging the output.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/bdougie/framekit/internal/adapter"
	"github.com/bdougie/framekit/internal/models"
)

// Job is everything a runner needs for one run
type Job struct {
	ID      string
	Request *models.RunRequest
	Adapter adapter.ModelAdapter
}

// Runner executes one job. Run never returns nil; cancellation and
// failures are reported through the result status. emit may be nil and is
// never called after Run returns.
type Runner interface {
	Run(ctx context.Context, job Job, emit func(models.ProgressEvent)) *models.RunResult
}

type emitter struct {
	runID string
	emit  func(models.ProgressEvent)
}

func (e emitter) send(stage models.Stage, completed, total int) {
	if e.emit == nil {
		return
	}
	e.emit(models.ProgressEvent{
		RunID:     e.runID,
		Stage:     stage,
		Completed: completed,
		Total:     total,
	})
}

func newResult(job Job) *models.RunResult {
	return &models.RunResult{
		RunID:     job.ID,
		Kind:      job.Request.Kind(),
		Model:     job.Request.Model(),
		Items:     job.Request.Len(),
		StartedAt: time.Now().UTC(),
	}
}

func cancelled(res *models.RunResult) *models.RunResult {
	res.Status = models.StatusCancelled
	res.Image = nil
	res.Video = nil
	res.FinishedAt = time.Now().UTC()
	return res
}

func failed(res *models.RunResult, err error) *models.RunResult {
	res.Status = models.StatusFailed
	res.Error = err.Error()
	res.Image = nil
	res.Video = nil
	res.FinishedAt = time.Now().UTC()
	return res
}

func completed(res *models.RunResult) *models.RunResult {
	res.Status = models.StatusCompleted
	res.FinishedAt = time.Now().UTC()
	return res
}

// stopped reports whether a run must end as cancelled. An error caused by
// the run's own cancellation counts too.
func stopped(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, models.ErrCancelled))
}

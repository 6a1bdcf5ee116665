// Package session owns the single active run and the most recent completed
// result.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bdougie/framekit/internal/adapter"
	"github.com/bdougie/framekit/internal/models"
	"github.com/bdougie/framekit/internal/runner"
	"github.com/bdougie/framekit/internal/storage"
)

// ErrClosed is returned by Start after Close
var ErrClosed = errors.New("session closed")

const ledgerTimeout = 30 * time.Second

// State is the session's observable state
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "idle"
}

// Config wires a session to its collaborators
type Config struct {
	Registry *adapter.Registry
	Images   runner.Runner
	Video    runner.Runner
	Ledger   storage.Ledger // optional
	Logger   *slog.Logger   // optional
}

// Session mediates start, cancel and replace semantics for runs. Start,
// Cancel and Close must not be called from inside a progress listener.
type Session struct {
	registry *adapter.Registry
	images   runner.Runner
	video    runner.Runner
	ledger   storage.Ledger
	logger   *slog.Logger

	control sync.Mutex // serializes Start, Cancel and Close

	mu     sync.Mutex
	active *Run
	closed bool

	generation atomic.Uint64
	current    atomic.Pointer[models.RunResult]
}

// New creates a Session
func New(cfg Config) (*Session, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session requires a model registry")
	}
	if cfg.Ledger == nil {
		cfg.Ledger = storage.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		registry: cfg.Registry,
		images:   cfg.Images,
		video:    cfg.Video,
		ledger:   cfg.Ledger,
		logger:   cfg.Logger,
	}, nil
}

// Start cancels the active run, if any, and waits for it before starting
// req. onProgress may be nil; it is called from a single goroutine per run
// and never after the run has been superseded or cancelled.
func (s *Session) Start(ctx context.Context, req *models.RunRequest, onProgress func(models.ProgressEvent)) (*Run, error) {
	if req == nil {
		return nil, &models.ValidationError{Field: "request", Reason: "must not be nil"}
	}
	a, err := s.registry.Lookup(req.Model())
	if err != nil {
		return nil, err
	}
	rn := s.images
	if req.Kind() == models.KindVideo {
		rn = s.video
	}
	if rn == nil {
		return nil, fmt.Errorf("no runner configured for %s", req.Kind())
	}

	s.control.Lock()
	defer s.control.Unlock()

	if s.isClosed() {
		return nil, ErrClosed
	}
	if prev := s.cancelActive(); prev != nil {
		s.logger.Info("Cancelled active run", "run_id", prev.id, "replaced_by_model", req.Model())
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		id:         uuid.NewString(),
		generation: s.generation.Add(1),
		kind:       req.Kind(),
		cancel:     cancel,
		queue:      newEventQueue(),
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	s.active = run
	s.mu.Unlock()

	s.logger.Info("Starting run",
		"run_id", run.id,
		"generation", run.generation,
		"kind", req.Kind(),
		"model", req.Model(),
		"items", req.Len(),
	)

	dispatched := make(chan struct{})
	go s.dispatch(run, onProgress, dispatched)
	go s.execute(runCtx, run, rn, runner.Job{ID: run.id, Request: req, Adapter: a}, dispatched)

	return run, nil
}

// Cancel stops the active run and waits for it to finish. It returns false
// when no run is active.
func (s *Session) Cancel() bool {
	s.control.Lock()
	defer s.control.Unlock()

	run := s.cancelActive()
	if run == nil {
		return false
	}
	s.logger.Info("Cancelled run", "run_id", run.id)
	return true
}

// Current returns the most recent Completed result, or nil
func (s *Session) Current() *models.RunResult {
	return s.current.Load()
}

// State reports whether a run is active
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return StateRunning
	}
	return StateIdle
}

// Close cancels the active run and closes the ledger
func (s *Session) Close() error {
	s.control.Lock()
	defer s.control.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelActive()
	return s.ledger.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// cancelActive marks the active run stale, cancels it and waits until its
// runner and dispatcher have both exited
func (s *Session) cancelActive() *Run {
	s.mu.Lock()
	run := s.active
	if run != nil {
		run.stale.Store(true)
	}
	s.mu.Unlock()

	if run == nil {
		return nil
	}
	run.cancel()
	<-run.done
	return run
}

func (s *Session) dispatch(run *Run, onProgress func(models.ProgressEvent), dispatched chan<- struct{}) {
	defer close(dispatched)
	for {
		ev, ok := run.queue.pop()
		if !ok {
			return
		}
		if onProgress == nil || run.stale.Load() || ev.Generation != s.generation.Load() {
			continue
		}
		onProgress(ev)
	}
}

func (s *Session) execute(ctx context.Context, run *Run, rn runner.Runner, job runner.Job, dispatched <-chan struct{}) {
	defer close(run.done)
	defer run.cancel()

	res := rn.Run(ctx, job, func(ev models.ProgressEvent) {
		ev.Generation = run.generation
		run.queue.push(ev)
	})
	run.queue.close()
	<-dispatched

	s.mu.Lock()
	if run.stale.Load() && res.Status == models.StatusCompleted {
		// superseded after its last checkpoint
		res.Status = models.StatusCancelled
		res.Image = nil
		res.Video = nil
	}
	if res.Status == models.StatusCompleted {
		s.current.Store(res)
	}
	if s.active == run {
		s.active = nil
	}
	s.mu.Unlock()

	run.result = res

	s.logger.Info("Run finished",
		"run_id", run.id,
		"status", res.Status,
		"error", res.Error,
		"duration", res.FinishedAt.Sub(res.StartedAt),
	)

	ledgerCtx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := s.ledger.Record(ledgerCtx, storage.NewRecord(res)); err != nil {
		s.logger.Error("Failed to record run", "run_id", run.id, "error", err)
	}
}

// Run is the handle of one started run
type Run struct {
	id         string
	generation uint64
	kind       models.MediaKind
	cancel     context.CancelFunc
	queue      *eventQueue
	stale      atomic.Bool
	done       chan struct{}
	result     *models.RunResult
}

func (r *Run) ID() string             { return r.id }
func (r *Run) Generation() uint64     { return r.generation }
func (r *Run) Kind() models.MediaKind { return r.kind }
func (r *Run) Done() <-chan struct{}  { return r.done }

// Wait blocks until the run has finished and returns its result
func (r *Run) Wait() *models.RunResult {
	<-r.done
	return r.result
}

// Result returns the terminal result, or nil while the run is in progress
func (r *Run) Result() *models.RunResult {
	select {
	case <-r.done:
		return r.result
	default:
		return nil
	}
}

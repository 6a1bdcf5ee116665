package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bdougie/framekit/internal/models"
)

const batchSize = 10 // Number of records to batch write

// Ledger records the terminal result of every run
type Ledger interface {
	// Record adds a single run record
	Record(ctx context.Context, rec RunRecord) error

	// Flush ensures all pending records are saved
	Flush() error

	// Close flushes and releases the ledger
	Close() error
}

// RunRecord is the persisted summary of one run
type RunRecord struct {
	ID          string       `json:"id"`
	Kind        string       `json:"kind"`
	Model       string       `json:"model"`
	Status      string       `json:"status"`
	Error       string       `json:"error,omitempty"`
	Items       int          `json:"items"`
	Failures    int          `json:"failures"`
	BitrateKbps int          `json:"bitrate_kbps,omitempty"`
	Frames      int          `json:"frames,omitempty"`
	Truncated   bool         `json:"truncated,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Entries     []ItemRecord `json:"entries,omitempty"`
}

// ItemRecord is one archived image of a run
type ItemRecord struct {
	Index     int       `json:"index"`
	Name      string    `json:"name"`
	Signature []float32 `json:"signature,omitempty"`
}

// NewRecord summarizes a run result for the ledger
func NewRecord(res *models.RunResult) RunRecord {
	rec := RunRecord{
		ID:         res.RunID,
		Kind:       string(res.Kind),
		Model:      string(res.Model),
		Status:     string(res.Status),
		Error:      res.Error,
		Items:      res.Items,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Image != nil {
		rec.Failures = len(res.Image.Failures)
		for _, e := range res.Image.Entries {
			rec.Entries = append(rec.Entries, ItemRecord{Index: e.Index, Name: e.Name, Signature: e.Signature})
		}
	}
	if res.Video != nil {
		rec.BitrateKbps = res.Video.BitrateKbps
		rec.Frames = res.Video.Frames
		rec.Truncated = res.Video.Truncated
	}
	return rec
}

// Nop discards every record
type Nop struct{}

func (Nop) Record(context.Context, RunRecord) error { return nil }
func (Nop) Flush() error                            { return nil }
func (Nop) Close() error                            { return nil }

// JSONLedger batches records and appends them to run_ledger.json
type JSONLedger struct {
	records []RunRecord
	mu      sync.Mutex
	dir     string
}

// NewJSONLedger creates a ledger writing into dir
func NewJSONLedger(dir string) *JSONLedger {
	return &JSONLedger{dir: dir}
}

// Path returns the ledger file location
func (s *JSONLedger) Path() string {
	return filepath.Join(s.dir, "run_ledger.json")
}

// Record adds a record to the batch and flushes if the batch is full
func (s *JSONLedger) Record(ctx context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)

	// Write to disk when batch is full
	if len(s.records) >= batchSize {
		return s.flush()
	}
	return nil
}

// Flush writes all pending records to disk
func (s *JSONLedger) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *JSONLedger) Close() error {
	return s.Flush()
}

func (s *JSONLedger) flush() error {
	if len(s.records) == 0 {
		return nil
	}

	path := s.Path()
	existing, err := ReadJSONLedger(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	all := append(existing, s.records...)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for run ledger: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create run ledger: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(all); err != nil {
		return fmt.Errorf("failed to encode run ledger: %w", err)
	}

	s.records = nil // Clear the batch
	return nil
}

// ReadJSONLedger loads every record stored in a ledger file
func ReadJSONLedger(path string) ([]RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []RunRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run ledger: %w", err)
	}
	return records, nil
}

// Options selects and configures a ledger backend
type Options struct {
	Driver   string // none, json, sqlite or postgres
	Path     string // directory for the json and sqlite backends
	Postgres PostgresConfig
}

// Open creates the ledger named by opts.Driver
func Open(ctx context.Context, opts Options) (Ledger, error) {
	switch opts.Driver {
	case "", "none":
		return Nop{}, nil
	case "json":
		return NewJSONLedger(opts.Path), nil
	case "sqlite":
		return NewSQLiteLedger(ctx, filepath.Join(opts.Path, "run_ledger.db"))
	case "postgres":
		return NewPostgresLedger(ctx, opts.Postgres)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", opts.Driver)
	}
}

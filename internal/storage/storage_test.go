package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdougie/framekit/internal/models"
)

func sampleRecord(i int) RunRecord {
	start := time.Date(2025, 3, 1, 12, 0, i, 0, time.UTC)
	return RunRecord{
		ID:         fmt.Sprintf("run-%02d", i),
		Kind:       string(models.KindImageBatch),
		Model:      string(models.ModelA),
		Status:     string(models.StatusCompleted),
		Items:      2,
		Failures:   1,
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Entries: []ItemRecord{
			{Index: 1, Name: "a.png", Signature: []float32{0.5, 0.25, 0, 0.3}},
		},
	}
}

func TestNewRecord(t *testing.T) {
	t.Parallel()

	res := &models.RunResult{
		RunID:  "r1",
		Kind:   models.KindImageBatch,
		Model:  models.ModelB,
		Items:  3,
		Status: models.StatusCompleted,
		Image: &models.ImageResult{
			Entries:  []models.ArchiveEntry{{Index: 1, Name: "a.png"}, {Index: 3, Name: "c.png", Signature: []float32{1, 0, 0, 0.299}}},
			Failures: []models.ItemFailure{{Index: 2, Name: "b.png", Reason: "boom"}},
		},
	}
	rec := NewRecord(res)
	if rec.ID != "r1" || rec.Kind != "images" || rec.Model != "B" || rec.Status != "completed" {
		t.Errorf("unexpected header %+v", rec)
	}
	if rec.Items != 3 || rec.Failures != 1 || len(rec.Entries) != 2 {
		t.Errorf("unexpected counts %+v", rec)
	}
	if rec.Entries[1].Index != 3 || len(rec.Entries[1].Signature) != 4 {
		t.Errorf("unexpected entry %+v", rec.Entries[1])
	}

	video := NewRecord(&models.RunResult{
		RunID:  "r2",
		Kind:   models.KindVideo,
		Status: models.StatusCompleted,
		Video:  &models.VideoResult{BitrateKbps: 500, Frames: 10, Truncated: true},
	})
	if video.BitrateKbps != 500 || video.Frames != 10 || !video.Truncated {
		t.Errorf("unexpected video record %+v", video)
	}
}

func TestJSONLedgerBatches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ledger := NewJSONLedger(dir)
	ctx := context.Background()

	for i := 0; i < batchSize-1; i++ {
		if err := ledger.Record(ctx, sampleRecord(i)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if _, err := os.Stat(ledger.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected no ledger file before a full batch, got %v", err)
	}

	if err := ledger.Record(ctx, sampleRecord(batchSize-1)); err != nil {
		t.Fatalf("record: %v", err)
	}
	records, err := ReadJSONLedger(ledger.Path())
	if err != nil {
		t.Fatalf("failed to read ledger: %v", err)
	}
	if len(records) != batchSize {
		t.Fatalf("expected %d records after a full batch, got %d", batchSize, len(records))
	}

	for i := batchSize; i < batchSize+2; i++ {
		if err := ledger.Record(ctx, sampleRecord(i)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if err := ledger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	records, err = ReadJSONLedger(ledger.Path())
	if err != nil {
		t.Fatalf("failed to read ledger: %v", err)
	}
	if len(records) != batchSize+2 {
		t.Fatalf("expected %d records after close, got %d", batchSize+2, len(records))
	}
	if records[0].ID != "run-00" || records[batchSize+1].ID != fmt.Sprintf("run-%02d", batchSize+1) {
		t.Errorf("records out of order: first %s last %s", records[0].ID, records[batchSize+1].ID)
	}
	if got := records[0].Entries[0].Signature; len(got) != 4 || got[0] != 0.5 {
		t.Errorf("signature not preserved: %v", got)
	}
}

func TestSQLiteLedger(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ledger, err := NewSQLiteLedger(ctx, filepath.Join(t.TempDir(), "ledger", "run_ledger.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite ledger: %v", err)
	}
	defer ledger.Close()

	failed := sampleRecord(2)
	failed.Status = string(models.StatusFailed)
	failed.Error = "all 2 images failed"
	failed.Entries = nil

	for _, rec := range []RunRecord{sampleRecord(1), failed} {
		if err := ledger.Record(ctx, rec); err != nil {
			t.Fatalf("record %s: %v", rec.ID, err)
		}
	}

	runs, err := ledger.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-02" || runs[0].Status != "failed" || runs[0].Error != failed.Error {
		t.Errorf("unexpected newest run %+v", runs[0])
	}
	if len(runs[0].Entries) != 0 {
		t.Errorf("failed run should have no items, got %v", runs[0].Entries)
	}
	if len(runs[1].Entries) != 1 || runs[1].Entries[0].Name != "a.png" || len(runs[1].Entries[0].Signature) != 4 {
		t.Errorf("unexpected items %+v", runs[1].Entries)
	}
	if !runs[1].StartedAt.Equal(sampleRecord(1).StartedAt) {
		t.Errorf("start time not preserved: %v", runs[1].StartedAt)
	}

	if err := ledger.Record(ctx, sampleRecord(1)); err == nil {
		t.Error("expected duplicate run id to be rejected")
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for _, driver := range []string{"", "none"} {
		l, err := Open(ctx, Options{Driver: driver})
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if _, ok := l.(Nop); !ok {
			t.Errorf("driver %q: expected Nop, got %T", driver, l)
		}
	}

	l, err := Open(ctx, Options{Driver: "json", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if _, ok := l.(*JSONLedger); !ok {
		t.Errorf("expected *JSONLedger, got %T", l)
	}

	if _, err := Open(ctx, Options{Driver: "mongo"}); err == nil {
		t.Error("expected unknown driver error")
	}
}

package runner

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"

	"github.com/bdougie/framekit/internal/adapter"
	"github.com/bdougie/framekit/internal/embeddings"
	"github.com/bdougie/framekit/internal/models"
)

// taggedPNG encodes a small image whose first pixel's red channel carries tag
func taggedPNG(t *testing.T, tag uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 20; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		}
	}
	img.SetRGBA(0, 0, color.RGBA{R: tag, A: 255})
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

// tagFailModel wraps model A and fails on frames whose tag is listed
type tagFailModel struct {
	adapter.ModelAdapter
	failTags map[uint8]bool
}

func (m tagFailModel) Infer(ctx context.Context, frame *image.RGBA, c models.RGB) (*image.RGBA, error) {
	if frame != nil && m.failTags[frame.Pix[0]] {
		return nil, &models.InferenceError{Err: errors.New("synthetic failure")}
	}
	return m.ModelAdapter.Infer(ctx, frame, c)
}

func imageJob(t *testing.T, a adapter.ModelAdapter, items ...models.MediaItem) Job {
	t.Helper()
	req, err := models.NewRunRequest(models.RunRequestParams{
		Kind:  models.KindImageBatch,
		Items: items,
		Model: models.ModelA,
		Color: [3]int{255, 0, 0},
	})
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return Job{ID: "run-1", Request: req, Adapter: a}
}

func taggedItems(t *testing.T, n int) []models.MediaItem {
	t.Helper()
	items := make([]models.MediaItem, n)
	for i := range items {
		items[i] = models.MediaItem{
			Name: "img" + string(rune('a'+i)) + ".png",
			Data: taggedPNG(t, uint8(i+1)),
		}
	}
	return items
}

type recorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *recorder) emit(e models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ProgressEvent(nil), r.events...)
}

func TestImageRunnerProgressEvents(t *testing.T) {
	t.Parallel()

	const n = 4
	rec := &recorder{}
	res := NewImageRunner(nil, nil).Run(context.Background(), imageJob(t, adapter.NewModelA(), taggedItems(t, n)...), rec.emit)

	if res.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Status, res.Error)
	}

	events := rec.snapshot()
	if len(events) != n+1 {
		t.Fatalf("expected %d events, got %d", n+1, len(events))
	}
	for i := 0; i < n; i++ {
		e := events[i]
		if e.Stage != models.StageInferring || e.Completed != i+1 || e.Total != n {
			t.Errorf("event %d: unexpected %+v", i, e)
		}
		if e.RunID != "run-1" {
			t.Errorf("event %d: expected run id run-1, got %s", i, e.RunID)
		}
	}
	last := events[n]
	if last.Stage != models.StagePackaging || last.Completed != n || last.Total != n {
		t.Errorf("unexpected final event %+v", last)
	}
}

func TestImageRunnerIsReproducible(t *testing.T) {
	t.Parallel()

	job := imageJob(t, adapter.NewModelC(), taggedItems(t, 3)...)
	first := NewImageRunner(nil, nil).Run(context.Background(), job, nil)
	second := NewImageRunner(nil, nil).Run(context.Background(), job, nil)

	if first.Status != models.StatusCompleted || second.Status != models.StatusCompleted {
		t.Fatalf("expected both runs completed, got %s and %s", first.Status, second.Status)
	}
	if !bytes.Equal(first.Image.Archive, second.Image.Archive) {
		t.Error("archives differ between identical runs")
	}
}

func TestImageRunnerPartialFailure(t *testing.T) {
	t.Parallel()

	model := tagFailModel{ModelAdapter: adapter.NewModelA(), failTags: map[uint8]bool{2: true, 4: true}}
	res := NewImageRunner(nil, nil).Run(context.Background(), imageJob(t, model, taggedItems(t, 5)...), nil)

	if res.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Status, res.Error)
	}
	if got := len(res.Image.Entries); got != 3 {
		t.Fatalf("expected 3 archived images, got %d", got)
	}
	if len(res.Image.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(res.Image.Failures))
	}
	if res.Image.Failures[0].Index != 2 || res.Image.Failures[1].Index != 4 {
		t.Errorf("expected failures on items 2 and 4, got %+v", res.Image.Failures)
	}

	zr, err := zip.NewReader(bytes.NewReader(res.Image.Archive), int64(len(res.Image.Archive)))
	if err != nil {
		t.Fatalf("archive is not a valid zip: %v", err)
	}
	if len(zr.File) != 3 {
		t.Fatalf("expected 3 zip entries, got %d", len(zr.File))
	}
	want := []string{"imga.png", "imgc.png", "imge.png"}
	for i, f := range zr.File {
		if f.Name != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("failed to open %s: %v", f.Name, err)
		}
		if _, err := png.Decode(rc); err != nil {
			t.Errorf("%s is not a valid png: %v", f.Name, err)
		}
		rc.Close()
	}
}

func TestImageRunnerAllFail(t *testing.T) {
	t.Parallel()

	model := tagFailModel{ModelAdapter: adapter.NewModelA(), failTags: map[uint8]bool{1: true, 2: true, 3: true}}
	rec := &recorder{}
	res := NewImageRunner(nil, nil).Run(context.Background(), imageJob(t, model, taggedItems(t, 3)...), rec.emit)

	if res.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if res.Error == "" {
		t.Error("expected aggregate error message")
	}
	if res.Image != nil {
		t.Error("failed run must not carry an archive")
	}
	for _, e := range rec.snapshot() {
		if e.Stage == models.StagePackaging {
			t.Error("packaging must not be reported when every item failed")
		}
	}
}

func TestImageRunnerCorruptUploadIsItemFailure(t *testing.T) {
	t.Parallel()

	items := taggedItems(t, 2)
	items = append(items, models.MediaItem{Name: "broken.png", Data: []byte("not an image")})
	res := NewImageRunner(nil, nil).Run(context.Background(), imageJob(t, adapter.NewModelB(), items...), nil)

	if res.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if len(res.Image.Failures) != 1 || res.Image.Failures[0].Name != "broken.png" {
		t.Errorf("unexpected failures %+v", res.Image.Failures)
	}
}

func TestImageRunnerCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	emit := func(e models.ProgressEvent) {
		rec.emit(e)
		if e.Completed == 2 {
			cancel()
		}
	}
	res := NewImageRunner(nil, nil).Run(ctx, imageJob(t, adapter.NewModelA(), taggedItems(t, 5)...), emit)

	if res.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", res.Status)
	}
	if res.Error != "" {
		t.Errorf("cancelled run should carry no message, got %q", res.Error)
	}
	if got := len(rec.snapshot()); got != 2 {
		t.Errorf("expected no events after cancellation, got %d events", got)
	}
}

func TestImageRunnerNamesAndFormats(t *testing.T) {
	t.Parallel()

	jpg := &bytes.Buffer{}
	if err := jpeg.Encode(jpg, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}

	items := []models.MediaItem{
		{Name: "dir/photo.JPG", Data: jpg.Bytes()},
		{Name: "", Data: taggedPNG(t, 1)},
		{Name: "same.png", Data: taggedPNG(t, 2)},
		{Name: "same.png", Data: taggedPNG(t, 3)},
		{Name: "mislabelled.jpg", Data: taggedPNG(t, 4)},
	}
	res := NewImageRunner(nil, nil).Run(context.Background(), imageJob(t, adapter.NewModelA(), items...), nil)
	if res.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Status, res.Error)
	}

	want := []string{"photo.JPG", "image_0002.png", "same.png", "same_2.png", "mislabelled.png"}
	got := res.Image.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("name %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestImageRunnerSignatures(t *testing.T) {
	t.Parallel()

	sigs := embeddings.NewService(2)
	defer sigs.Close()

	res := NewImageRunner(sigs, nil).Run(context.Background(), imageJob(t, adapter.NewModelA(), taggedItems(t, 2)...), nil)
	if res.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	for _, e := range res.Image.Entries {
		if len(e.Signature) != embeddings.Dimensions {
			t.Errorf("%s: expected %d-dim signature, got %v", e.Name, embeddings.Dimensions, e.Signature)
		}
	}
}

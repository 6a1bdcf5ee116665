package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bdougie/framekit/internal/adapter"
	"github.com/bdougie/framekit/internal/analyzer"
	"github.com/bdougie/framekit/internal/config"
	"github.com/bdougie/framekit/internal/embeddings"
	"github.com/bdougie/framekit/internal/encoder"
	"github.com/bdougie/framekit/internal/extractor"
	"github.com/bdougie/framekit/internal/logging"
	"github.com/bdougie/framekit/internal/models"
	"github.com/bdougie/framekit/internal/runner"
	"github.com/bdougie/framekit/internal/session"
	"github.com/bdougie/framekit/internal/storage"
)

const usage = `Usage: framekit [flags] image1.png [image2.jpg ...]
       framekit [flags] -video clip.mp4

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	model      string
	color      string
	bitrate    int
	video      string
	out        string
	images     []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("framekit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.model, "model", "A", "Model id (A, B, C or V)")
	fs.StringVar(&opts.color, "color", "", "Overlay colour as r,g,b (default: the model's colour)")
	fs.IntVar(&opts.bitrate, "bitrate", 1000, "Output video bitrate in kbps")
	fs.StringVar(&opts.video, "video", "", "Video file to process")
	fs.StringVar(&opts.out, "out", "", "Output file (default framekit_output.zip or framekit_output.mp4)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.images = fs.Args()

	if opts.video == "" && len(opts.images) == 0 {
		fs.Usage()
		return nil, fmt.Errorf("no input given")
	}
	if opts.video != "" && len(opts.images) > 0 {
		return nil, fmt.Errorf("-video cannot be combined with image arguments")
	}
	if opts.out == "" {
		opts.out = "framekit_output.zip"
		if opts.video != "" {
			opts.out = "framekit_output.mp4"
		}
	}
	return opts, nil
}

// parseColor reads an "r,g,b" triple. Range checks happen when the request
// is built.
func parseColor(s string) ([3]int, error) {
	var c [3]int
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return c, fmt.Errorf("color %q must be r,g,b", s)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return c, fmt.Errorf("color %q must be r,g,b: %w", s, err)
		}
		c[i] = v
	}
	return c, nil
}

func readItems(opts *options) (models.MediaKind, []models.MediaItem, error) {
	paths := opts.images
	kind := models.KindImageBatch
	if opts.video != "" {
		paths = []string{opts.video}
		kind = models.KindVideo
	}

	items := make([]models.MediaItem, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read input: %w", err)
		}
		items = append(items, models.MediaItem{Name: filepath.Base(p), Data: data})
	}
	return kind, items, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg := config.Default()
	if opts.configPath != "" {
		if cfg, err = config.Load(opts.configPath); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}

	// Configure logger
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, stderr)

	ledger, err := storage.Open(ctx, storage.Options{
		Driver: cfg.Ledger.Driver,
		Path:   cfg.Ledger.Path,
		Postgres: storage.PostgresConfig{
			Host:     cfg.Ledger.Postgres.Host,
			Port:     cfg.Ledger.Postgres.Port,
			User:     cfg.Ledger.Postgres.User,
			Password: cfg.Ledger.Postgres.Password,
			DBName:   cfg.Ledger.Postgres.DBName,
		},
	})
	if err != nil {
		logger.Error("Failed to open run ledger", "driver", cfg.Ledger.Driver, "error", err)
		return 1
	}

	signatures := embeddings.NewService(cfg.Signatures.Workers)
	defer signatures.Close()

	var extra []adapter.ModelAdapter
	if cfg.Vision.Enabled {
		visionAgent, err := analyzer.NewAgent(ctx, analyzer.AgentOptions{
			BaseURL: cfg.Vision.BaseURL,
			Port:    cfg.Vision.Port,
			Model:   cfg.Vision.Model,
		}, logger)
		if err != nil {
			logger.Warn("Vision model unavailable", "error", err)
		} else {
			extra = append(extra, analyzer.NewVisionModel(analyzer.NewPrompter(visionAgent), cfg.Video.TempDir, logger))
		}
	}
	registry := adapter.NewRegistry(extra...)

	codec := &runner.FFmpegCodec{
		Extractor: extractor.NewExtractor(cfg.FFmpeg.Path, cfg.FFmpeg.ProbePath, cfg.Video.TempDir, cfg.FFmpeg.Timeout, logger),
		Encoder:   encoder.New(cfg.FFmpeg.Path, cfg.FFmpeg.Preset, cfg.Video.TempDir, cfg.FFmpeg.Timeout, logger),
	}
	sess, err := session.New(session.Config{
		Registry: registry,
		Images:   runner.NewImageRunner(signatures, logger),
		Video:    runner.NewVideoRunner(codec, cfg.Video.EncodeChunkFrames, cfg.Video.TempDir, logger),
		Ledger:   ledger,
		Logger:   logger,
	})
	if err != nil {
		ledger.Close()
		logger.Error("Failed to create session", "error", err)
		return 1
	}
	defer func() {
		// flushes a batched ledger
		if err := sess.Close(); err != nil {
			logger.Error("Failed to close session", "error", err)
		}
	}()

	req, err := buildRequest(opts, registry)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	r, err := sess.Start(ctx, req, func(ev models.ProgressEvent) {
		fmt.Fprintf(stdout, "\r%-10s %d/%d", ev.Stage, ev.Completed, ev.Total)
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	res := r.Wait()
	fmt.Fprintln(stdout)

	return report(res, opts.out, stdout, stderr)
}

func buildRequest(opts *options, registry *adapter.Registry) (*models.RunRequest, error) {
	model := models.ModelID(strings.ToUpper(opts.model))
	a, err := registry.Lookup(model)
	if err != nil {
		return nil, err
	}

	def := a.DefaultColor()
	color := [3]int{int(def.R), int(def.G), int(def.B)}
	if opts.color != "" {
		if color, err = parseColor(opts.color); err != nil {
			return nil, err
		}
	}

	kind, items, err := readItems(opts)
	if err != nil {
		return nil, err
	}

	return models.NewRunRequest(models.RunRequestParams{
		Kind:        kind,
		Items:       items,
		Model:       model,
		Color:       color,
		BitrateKbps: opts.bitrate,
	})
}

func report(res *models.RunResult, out string, stdout, stderr io.Writer) int {
	switch res.Status {
	case models.StatusCancelled:
		fmt.Fprintln(stderr, "Cancelled")
		return 130
	case models.StatusFailed:
		fmt.Fprintf(stderr, "Run failed: %s\n", res.Error)
		return 1
	}

	var data []byte
	if res.Image != nil {
		data = res.Image.Archive
		for _, f := range res.Image.Failures {
			fmt.Fprintf(stderr, "Skipped %d (%s): %s\n", f.Index, f.Name, f.Reason)
		}
		fmt.Fprintf(stdout, "Archived %d images, %d failed\n", len(res.Image.Entries), len(res.Image.Failures))
	}
	if res.Video != nil {
		data = res.Video.Data
		if res.Video.Truncated {
			fmt.Fprintf(stderr, "Warning: %s\n", res.Video.Note)
		}
		fmt.Fprintf(stdout, "Encoded %d frames at %d kbps\n", res.Video.Frames, res.Video.BitrateKbps)
	}

	if err := os.WriteFile(out, data, 0644); err != nil {
		fmt.Fprintf(stderr, "Error: failed to write output: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %s\n", out)
	return 0
}

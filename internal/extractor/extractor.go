// Package extractor decodes uploaded videos into raw RGBA frames using
// ffprobe and ffmpeg.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bdougie/framekit/internal/models"
)

// Extractor starts ffmpeg decoders for uploaded video bytes
type Extractor struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewExtractor creates an extractor. An empty ffprobePath is derived from
// ffmpegPath by replacing "ffmpeg" with "ffprobe" in the base name.
func NewExtractor(ffmpegPath, ffprobePath, tempDir string, timeout time.Duration, logger *slog.Logger) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = ProbePath(ffmpegPath)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		tempDir:     tempDir,
		timeout:     timeout,
		logger:      logger,
	}
}

// ProbePath derives the ffprobe binary path from an ffmpeg binary path
func ProbePath(ffmpegPath string) string {
	base := strings.Replace(filepath.Base(ffmpegPath), "ffmpeg", "ffprobe", 1)
	if !strings.ContainsRune(ffmpegPath, filepath.Separator) {
		return base
	}
	return filepath.Join(filepath.Dir(ffmpegPath), base)
}

// Open writes data to a temporary file, probes it and starts decoding.
// Failures are reported as *models.DecodeError.
func (e *Extractor) Open(ctx context.Context, data []byte) (*Decoder, error) {
	src, err := os.CreateTemp(e.tempDir, "framekit-src-*")
	if err != nil {
		return nil, &models.DecodeError{Err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	srcPath := src.Name()
	_, werr := src.Write(data)
	cerr := src.Close()
	if werr != nil || cerr != nil {
		os.Remove(srcPath)
		return nil, &models.DecodeError{Err: fmt.Errorf("failed to write temp file: %w", errors.Join(werr, cerr))}
	}

	info, err := e.Probe(ctx, srcPath)
	if err != nil {
		os.Remove(srcPath)
		return nil, err
	}

	var cancel context.CancelFunc
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	// #nosec G204 - ffmpegPath comes from config, srcPath is our own temp file
	cmd := exec.CommandContext(ctx, e.ffmpegPath, DecodeArgs(srcPath)...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		os.Remove(srcPath)
		return nil, &models.DecodeError{Err: err}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		os.Remove(srcPath)
		return nil, &models.DecodeError{Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	e.logger.Debug("Decoder started",
		"width", info.Width,
		"height", info.Height,
		"fps", info.FPS,
		"frames", info.FrameCount,
	)

	return &Decoder{
		ctx:     ctx,
		info:    info,
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		srcPath: srcPath,
		cancel:  cancel,
	}, nil
}

// DecodeArgs constructs the ffmpeg arguments that write the first video
// stream of srcPath to stdout as raw RGBA frames. Frames keep their coded
// size, matching the width and height reported by Probe.
func DecodeArgs(srcPath string) []string {
	return []string{
		"-v", "error",
		"-noautorotate",
		"-i", srcPath,
		"-map", "0:v:0",
		"-vsync", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	}
}

// Decoder reads RGBA frames from a running ffmpeg process
type Decoder struct {
	ctx     context.Context
	info    models.VideoInfo
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	srcPath string
	cancel  context.CancelFunc
	frames  int
	waited  bool
	waitErr error
}

// Info returns the probed stream properties
func (d *Decoder) Info() models.VideoInfo {
	return d.info
}

// Next returns the next frame. It returns io.EOF at a clean end of stream
// and models.ErrTruncated when ffmpeg exited cleanly but cut or dropped the
// trailing frames. Any other end of stream, including ffmpeg being stopped
// by the timeout, is a *models.DecodeError.
func (d *Decoder) Next() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, d.info.Width, d.info.Height))
	_, err := io.ReadFull(d.stdout, img.Pix)
	if err == nil {
		d.frames++
		return img, nil
	}
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, &models.DecodeError{Err: err}
	}

	werr := d.wait()
	if cerr := d.ctx.Err(); cerr != nil {
		return nil, &models.DecodeError{Err: fmt.Errorf("ffmpeg stopped after %d frames: %w", d.frames, cerr)}
	}
	if werr != nil {
		return nil, d.exitError(werr)
	}
	if d.frames == 0 {
		return nil, d.exitError(errors.New("video contains no frames"))
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, models.ErrTruncated
	}
	if d.frames < d.info.FrameCount && d.stderr.Len() > 0 {
		// ffmpeg reported errors and skipped the frames it could not decode
		return nil, models.ErrTruncated
	}
	return nil, io.EOF
}

func (d *Decoder) exitError(err error) error {
	msg := strings.TrimSpace(d.stderr.String())
	if msg != "" {
		return &models.DecodeError{Err: fmt.Errorf("%w: %s", err, msg)}
	}
	return &models.DecodeError{Err: err}
}

func (d *Decoder) wait() error {
	if !d.waited {
		d.waited = true
		d.waitErr = d.cmd.Wait()
	}
	return d.waitErr
}

// Close stops ffmpeg if it is still running and removes the temp file
func (d *Decoder) Close() error {
	d.cancel()
	if !d.waited {
		d.waited = true
		d.waitErr = d.cmd.Wait()
	}
	return os.Remove(d.srcPath)
}

// probeOutput is the subset of ffprobe JSON we read
type probeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads dimensions, frame rate and frame count of the first video stream
func (e *Extractor) Probe(ctx context.Context, path string) (models.VideoInfo, error) {
	// #nosec G204 - ffprobePath comes from config
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames,nb_read_packets:format=duration",
		"-print_format", "json",
		path,
	)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return models.VideoInfo{}, &models.DecodeError{Err: fmt.Errorf("ffprobe failed: %w", err)}
	}

	return ParseProbe(output)
}

// ParseProbe turns ffprobe JSON into VideoInfo. The frame count prefers the
// counted packets, then the container's nb_frames, then duration x fps.
func ParseProbe(output []byte) (models.VideoInfo, error) {
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return models.VideoInfo{}, &models.DecodeError{Err: fmt.Errorf("failed to parse ffprobe output: %w", err)}
	}
	if len(probe.Streams) == 0 {
		return models.VideoInfo{}, &models.DecodeError{Err: errors.New("no video stream found")}
	}

	s := probe.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return models.VideoInfo{}, &models.DecodeError{Err: fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)}
	}

	fps := parseRate(s.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(s.RFrameRate)
	}

	count := parseInt(s.NbReadPackets)
	if count <= 0 {
		count = parseInt(s.NbFrames)
	}
	if count <= 0 && fps > 0 {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			count = int(d * fps)
		}
	}

	return models.VideoInfo{
		Width:      s.Width,
		Height:     s.Height,
		FPS:        fps,
		FrameCount: count,
	}, nil
}

// parseRate parses ffprobe rates such as "30000/1001"
func parseRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

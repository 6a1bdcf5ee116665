// Package encoder re-encodes processed RGBA frames into an H.264 MP4 at a
// fixed target bitrate using ffmpeg.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/bdougie/framekit/internal/models"
)

// DefaultFPS is used when the source frame rate could not be probed
const DefaultFPS = 25.0

// Encoder starts ffmpeg encoding processes
type Encoder struct {
	ffmpegPath string
	preset     string
	tempDir    string
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates an Encoder
func New(ffmpegPath, preset, tempDir string, timeout time.Duration, logger *slog.Logger) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if preset == "" {
		preset = "medium"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		ffmpegPath: ffmpegPath,
		preset:     preset,
		tempDir:    tempDir,
		timeout:    timeout,
		logger:     logger,
	}
}

// BuildArgs constructs the ffmpeg arguments that read raw RGBA frames from
// stdin and write a CBR-constrained H.264 MP4 to outputPath
func BuildArgs(info models.VideoInfo, bitrateKbps int, preset, outputPath string) []string {
	fps := info.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	rate := fmt.Sprintf("%dk", bitrateKbps)

	return []string{
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-an",
		// libx264 with yuv420p needs even dimensions
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libx264",
		"-preset", preset,
		"-pix_fmt", "yuv420p",
		"-b:v", rate,
		"-minrate", rate,
		"-maxrate", rate,
		"-bufsize", fmt.Sprintf("%dk", bitrateKbps*2),
		"-x264-params", "nal-hrd=cbr",
		"-movflags", "+faststart",
		"-f", "mp4",
		"-y", outputPath,
	}
}

// Start launches ffmpeg for a stream of frames with the given properties.
// Failures are reported as *models.EncodeError.
func (e *Encoder) Start(ctx context.Context, info models.VideoInfo, bitrateKbps int) (*Sink, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, &models.EncodeError{Err: fmt.Errorf("invalid frame size %dx%d", info.Width, info.Height)}
	}
	if bitrateKbps <= 0 {
		return nil, &models.EncodeError{Err: fmt.Errorf("invalid bitrate %d", bitrateKbps)}
	}

	out, err := os.CreateTemp(e.tempDir, "framekit-out-*.mp4")
	if err != nil {
		return nil, &models.EncodeError{Err: fmt.Errorf("failed to create output file: %w", err)}
	}
	outPath := out.Name()
	out.Close()

	var cancel context.CancelFunc
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	args := BuildArgs(info, bitrateKbps, e.preset, outPath)
	// #nosec G204 - ffmpegPath comes from config
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		os.Remove(outPath)
		return nil, &models.EncodeError{Err: err}
	}
	if err := cmd.Start(); err != nil {
		cancel()
		os.Remove(outPath)
		return nil, &models.EncodeError{Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	e.logger.Debug("Encoder started", "args", args)

	return &Sink{
		info:    info,
		cmd:     cmd,
		stdin:   stdin,
		stderr:  stderr,
		outPath: outPath,
		cancel:  cancel,
	}, nil
}

// Sink feeds frames to one running ffmpeg encoder
type Sink struct {
	info    models.VideoInfo
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	outPath string
	cancel  context.CancelFunc
	frames  int
	closed  bool
}

// Write sends one frame to the encoder. The frame must match the stream size.
func (s *Sink) Write(frame *image.RGBA) error {
	if frame.Bounds().Dx() != s.info.Width || frame.Bounds().Dy() != s.info.Height {
		return &models.EncodeError{Err: fmt.Errorf("frame size %v does not match stream %dx%d",
			frame.Bounds().Size(), s.info.Width, s.info.Height)}
	}

	b := frame.Bounds()
	rowLen := b.Dx() * 4
	if frame.Stride == rowLen {
		if _, err := s.stdin.Write(frame.Pix[:rowLen*b.Dy()]); err != nil {
			return s.writeError(err)
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := frame.PixOffset(b.Min.X, y)
			if _, err := s.stdin.Write(frame.Pix[off : off+rowLen]); err != nil {
				return s.writeError(err)
			}
		}
	}
	s.frames++
	return nil
}

func (s *Sink) writeError(err error) error {
	if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}
	return &models.EncodeError{Err: fmt.Errorf("failed to write frame %d: %w", s.frames+1, err)}
}

// Finish closes the input, waits for ffmpeg and returns the encoded file
func (s *Sink) Finish() ([]byte, error) {
	defer s.cleanup()

	s.closed = true
	closeErr := s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return nil, &models.EncodeError{Err: fmt.Errorf("ffmpeg encoding failed: %w", err)}
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return nil, &models.EncodeError{Err: closeErr}
	}

	data, err := os.ReadFile(s.outPath)
	if err != nil {
		return nil, &models.EncodeError{Err: fmt.Errorf("failed to read encoded output: %w", err)}
	}
	if len(data) == 0 {
		return nil, &models.EncodeError{Err: errors.New("encoder produced an empty file")}
	}
	return data, nil
}

// Abort kills the encoder and discards any partial output
func (s *Sink) Abort() {
	if !s.closed {
		s.closed = true
		s.cancel()
		s.stdin.Close()
		_ = s.cmd.Wait()
	}
	s.cleanup()
}

func (s *Sink) cleanup() {
	s.cancel()
	os.Remove(s.outPath)
}

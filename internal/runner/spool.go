package runner

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"
)

// spool buffers raw RGBA frames in a temporary file between video stages
// so memory use does not grow with video length
type spool struct {
	f      *os.File
	w      *bufio.Writer
	r      *bufio.Reader
	width  int
	height int
	count  int
}

func newSpool(dir string, width, height int) (*spool, error) {
	f, err := os.CreateTemp(dir, "framekit-spool-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create frame spool: %w", err)
	}
	return &spool{
		f:      f,
		w:      bufio.NewWriterSize(f, 1<<20),
		width:  width,
		height: height,
	}, nil
}

func (s *spool) Write(frame *image.RGBA) error {
	b := frame.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		return fmt.Errorf("frame size %v does not match spool %dx%d", b.Size(), s.width, s.height)
	}
	rowLen := s.width * 4
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := frame.PixOffset(b.Min.X, y)
		if _, err := s.w.Write(frame.Pix[off : off+rowLen]); err != nil {
			return fmt.Errorf("failed to spool frame: %w", err)
		}
	}
	s.count++
	return nil
}

// Rewind flushes pending writes and positions the spool for reading
func (s *spool) Rewind() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush frame spool: %w", err)
	}
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind frame spool: %w", err)
	}
	s.r = bufio.NewReaderSize(s.f, 1<<20)
	return nil
}

func (s *spool) Read() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	if _, err := io.ReadFull(s.r, img.Pix); err != nil {
		return nil, fmt.Errorf("failed to read spooled frame: %w", err)
	}
	return img, nil
}

func (s *spool) Len() int {
	return s.count
}

func (s *spool) Close() error {
	name := s.f.Name()
	s.f.Close()
	return os.Remove(name)
}

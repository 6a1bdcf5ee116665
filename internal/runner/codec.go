package runner

import (
	"context"
	"image"

	"github.com/bdougie/framekit/internal/encoder"
	"github.com/bdougie/framekit/internal/extractor"
	"github.com/bdougie/framekit/internal/models"
)

// FrameSource yields decoded frames in presentation order. Next returns
// io.EOF at the end of the stream and models.ErrTruncated when the stream
// ends on a corrupt frame.
type FrameSource interface {
	Info() models.VideoInfo
	Next() (*image.RGBA, error)
	Close() error
}

// FrameSink accepts processed frames and produces the encoded container
type FrameSink interface {
	Write(frame *image.RGBA) error
	Finish() ([]byte, error)
	Abort()
}

// VideoCodec opens sources and sinks for the video runner
type VideoCodec interface {
	Open(ctx context.Context, data []byte) (FrameSource, error)
	NewSink(ctx context.Context, info models.VideoInfo, bitrateKbps int) (FrameSink, error)
}

// FFmpegCodec decodes with the extractor and encodes with the encoder
type FFmpegCodec struct {
	Extractor *extractor.Extractor
	Encoder   *encoder.Encoder
}

func (c *FFmpegCodec) Open(ctx context.Context, data []byte) (FrameSource, error) {
	d, err := c.Extractor.Open(ctx, data)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (c *FFmpegCodec) NewSink(ctx context.Context, info models.VideoInfo, bitrateKbps int) (FrameSink, error) {
	s, err := c.Encoder.Start(ctx, info, bitrateKbps)
	if err != nil {
		return nil, err
	}
	return s, nil
}

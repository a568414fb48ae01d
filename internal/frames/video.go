package frames

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"

	"github.com/banshee-data/viflow/internal/ffmpeg"
)

// progressEvery is how often, in emitted frames, progress is logged.
const progressEvery = 100

// VideoInfo is what a decoder reports about a stream at open.
type VideoInfo struct {
	FrameCount int
	FPS        float64
	Width      int
	Height     int
}

// Decoder produces packed bgr24 frames of the size given in VideoInfo.
type Decoder interface {
	// ReadFrame fills buf with the next native frame. Any error ends the
	// stream; io.EOF and io.ErrUnexpectedEOF mark a normal end.
	ReadFrame(buf []byte) error
	// Close releases the decoder. After a normal end it reports whether
	// decoding actually succeeded.
	Close() error
}

// DecoderOpener starts decoding path.
type DecoderOpener func(ctx context.Context, path string) (VideoInfo, Decoder, error)

// FFmpegDecoders opens videos through ffprobe and ffmpeg.
func FFmpegDecoders(tool *ffmpeg.Tool) DecoderOpener {
	return func(ctx context.Context, path string) (VideoInfo, Decoder, error) {
		info, err := tool.Probe(ctx, path)
		if err != nil {
			return VideoInfo{}, nil, err
		}
		dec, err := tool.Open(ctx, path, info)
		if err != nil {
			return VideoInfo{}, nil, err
		}
		return VideoInfo{
			FrameCount: info.FrameCount,
			FPS:        info.FPS,
			Width:      info.Width,
			Height:     info.Height,
		}, dec, nil
	}
}

// VideoSource yields the frames of one video, resampled to a target rate.
//
// With a positive target rate different from the native rate, sampled
// frame i is the native frame shown at offset int(i*1000/rate) ms, i.e.
// native index round(offset*fps/1000). Seeking only moves forward by
// skipping decoded frames; when the target rate exceeds the native rate
// the same native frame is emitted again.
type VideoSource struct {
	path     string
	info     VideoInfo
	rate     float64
	resample bool
	dec      Decoder
	logger   *slog.Logger

	buf      []byte
	sampled  int // frames emitted
	native   int // index of the last decoded native frame, -1 before the first
	last     Frame
	haveLast bool
	done     bool
}

// OpenVideo opens path with open. Failures are returned as *OpenError.
func OpenVideo(ctx context.Context, path string, framerate float64, open DecoderOpener, logger *slog.Logger) (*VideoSource, error) {
	info, dec, err := open(ctx, path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	if info.Width <= 0 || info.Height <= 0 || info.FPS <= 0 {
		dec.Close()
		return nil, &OpenError{Path: path, Err: errors.New("decoder reported no usable geometry or frame rate")}
	}

	resample := framerate > 0 && framerate != info.FPS
	effective := info.FPS
	if resample {
		effective = framerate
	}
	logger.Info("video opened", "source", BaseName(path),
		"width", info.Width, "height", info.Height,
		"frames", info.FrameCount, "fps", info.FPS,
		"expected", ExpectedFrames(info, framerate))
	logger.Debug("sampling", "source", BaseName(path), "rate", effective, "resample", resample)

	return &VideoSource{
		path:     path,
		info:     info,
		rate:     framerate,
		resample: resample,
		dec:      dec,
		logger:   logger,
		buf:      make([]byte, info.Width*info.Height*3),
		native:   -1,
	}, nil
}

// ExpectedFrames is the number of frames a video is expected to yield at
// the given target rate; the native rate is used when framerate <= 0.
func ExpectedFrames(info VideoInfo, framerate float64) int {
	if info.FPS <= 0 {
		return 0
	}
	rate := info.FPS
	if framerate > 0 {
		rate = framerate
	}
	return int(float64(info.FrameCount) / info.FPS * rate)
}

// Info returns the stream description reported at open.
func (s *VideoSource) Info() VideoInfo {
	return s.info
}

// Next returns the next sampled frame.
func (s *VideoSource) Next() (Frame, error) {
	if s.done {
		return Frame{}, io.EOF
	}

	target := s.native + 1
	if s.resample {
		offsetMS := int(float64(s.sampled) * 1000 / s.rate)
		target = int(math.Round(float64(offsetMS) * s.info.FPS / 1000))
	}

	if s.haveLast && target <= s.native {
		return s.emit(s.last), nil
	}
	for s.native < target {
		if err := s.dec.ReadFrame(s.buf); err != nil {
			s.end(err)
			return Frame{}, io.EOF
		}
		s.native++
	}
	s.last = Frame{SourceID: s.path, Image: ImageFromBGR(s.info.Width, s.info.Height, s.buf)}
	s.haveLast = true
	return s.emit(s.last), nil
}

func (s *VideoSource) emit(f Frame) Frame {
	s.sampled++
	if s.sampled%progressEvery == 0 {
		s.logger.Debug("progress", "source", BaseName(s.path), "frames", s.sampled,
			"expected", ExpectedFrames(s.info, s.rate))
	}
	return f
}

// end stops the stream after a failed read. A normal end of output
// followed by a decoder that reports failure on close is a decode error
// too, and is logged with whatever the decoder said.
func (s *VideoSource) end(err error) {
	normal := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
	if !normal {
		s.logger.Error("decoding failed", "source", BaseName(s.path), "frames", s.sampled, "error", err)
	}
	if cerr := s.Close(); cerr != nil && normal {
		s.logger.Error("decoding failed", "source", BaseName(s.path), "frames", s.sampled, "error", cerr)
	}
}

// Close releases the decoder.
func (s *VideoSource) Close() error {
	s.done = true
	if s.dec == nil {
		return nil
	}
	err := s.dec.Close()
	s.dec = nil
	return err
}

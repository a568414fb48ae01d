package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// stderrLimit caps how much ffmpeg diagnostic output is kept for errors.
const stderrLimit = 4096

// Decoder reads raw bgr24 frames from a running ffmpeg process.
type Decoder struct {
	ctx    context.Context
	info   Info
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	// drained is set once ffmpeg's output has ended on its own.
	drained bool

	closeOnce sync.Once
	closeErr  error
}

// decodeArgs are the ffmpeg arguments for decoding path. Autorotation is
// disabled so frames keep the coded size that ffprobe reports.
func decodeArgs(path string) []string {
	return []string{
		"-nostdin",
		"-v", "error",
		"-noautorotate",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-",
	}
}

// Open starts ffmpeg decoding path to bgr24 on a pipe. The frame size is
// taken from info, normally the result of Probe.
func (t *Tool) Open(ctx context.Context, path string, info Info) (*Decoder, error) {
	if info.FrameSize() <= 0 {
		return nil, fmt.Errorf("open %s: invalid frame size %dx%d", path, info.Width, info.Height)
	}
	cmd := exec.CommandContext(ctx, t.FFmpegPath, decodeArgs(path)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg for %s: %w", path, err)
	}
	return &Decoder{ctx: ctx, info: info, cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// Info returns the stream description the decoder was opened with.
func (d *Decoder) Info() Info {
	return d.info
}

// ReadFrame fills buf, which must hold exactly one frame. It returns
// io.EOF once ffmpeg has no more output and io.ErrUnexpectedEOF for a
// truncated trailing frame.
func (d *Decoder) ReadFrame(buf []byte) error {
	if len(buf) != d.info.FrameSize() {
		return fmt.Errorf("frame buffer is %d bytes, want %d", len(buf), d.info.FrameSize())
	}
	_, err := io.ReadFull(d.stdout, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		d.drained = true
	}
	return err
}

// Close stops ffmpeg and waits for it to exit. It is safe to call more
// than once.
//
// When ffmpeg ended its output by itself and then exited non-zero, the
// decode failed; Close returns that exit status with the tail of
// ffmpeg's stderr. A process stopped early by Close or by the context
// is not an error.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		if !d.drained && d.cmd.Process != nil {
			d.stdout.Close()
			d.cmd.Process.Kill()
		}
		err := d.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			if d.drained && d.ctx.Err() == nil {
				d.closeErr = fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(d.Stderr()))
			}
		default:
			d.closeErr = err
		}
	})
	return d.closeErr
}

// Stderr returns the tail of ffmpeg's diagnostic output.
func (d *Decoder) Stderr() string {
	return d.stderr.String()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

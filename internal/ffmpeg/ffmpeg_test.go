package ffmpeg

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		err  bool
	}{
		{in: "25/1", want: 25},
		{in: "30000/1001", want: 30000.0 / 1001.0},
		{in: "12.5", want: 12.5},
		{in: "0/0", want: 0},
		{in: "", err: true},
		{in: "abc/1", err: true},
		{in: "10/x", err: true},
	}
	for _, tt := range tests {
		got, err := ParseRate(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
}

func TestParseProbe(t *testing.T) {
	t.Run("frame count recorded", func(t *testing.T) {
		info, err := ParseProbe([]byte(`{
			"streams": [{"width": 640, "height": 480, "avg_frame_rate": "30000/1001",
			             "r_frame_rate": "30000/1001", "nb_frames": "300", "duration": "10.01"}],
			"format": {"duration": "10.02"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, 640, info.Width)
		assert.Equal(t, 480, info.Height)
		assert.InDelta(t, 29.97, info.FPS, 0.001)
		assert.Equal(t, 300, info.FrameCount)
		assert.InDelta(t, 10.01, info.Duration, 1e-9)
		assert.Equal(t, 640*480*3, info.FrameSize())
	})

	t.Run("count from format duration", func(t *testing.T) {
		info, err := ParseProbe([]byte(`{
			"streams": [{"width": 64, "height": 48, "avg_frame_rate": "0/0", "r_frame_rate": "10/1"}],
			"format": {"duration": "0.500000"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, 10.0, info.FPS)
		assert.Equal(t, 5, info.FrameCount)
	})

	rejects := map[string]string{
		"no json":   `ffprobe exploded`,
		"no stream": `{"streams": [], "format": {}}`,
		"no size":   `{"streams": [{"avg_frame_rate": "25/1"}]}`,
		"no rate":   `{"streams": [{"width": 2, "height": 2, "avg_frame_rate": "0/0", "r_frame_rate": "0/0"}]}`,
	}
	for name, body := range rejects {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProbe([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	tool := New("", "/opt/bin/ffprobe")
	assert.Equal(t, "ffmpeg", tool.FFmpegPath)
	assert.Equal(t, "/opt/bin/ffprobe", tool.FFprobePath)
}

func TestOpen_RejectsEmptyGeometry(t *testing.T) {
	_, err := New("", "").Open(context.Background(), "x.mp4", Info{})
	assert.Error(t, err)
}

func TestDecodeArgs_DisablesAutorotate(t *testing.T) {
	args := decodeArgs("clip.mp4")
	rot := slices.Index(args, "-noautorotate")
	in := slices.Index(args, "-i")
	require.NotEqual(t, -1, rot)
	assert.Less(t, rot, in, "-noautorotate must precede the input")
	assert.Equal(t, "clip.mp4", args[in+1])
}

// fakeFFmpeg writes a shell script standing in for the ffmpeg binary.
func fakeFFmpeg(t *testing.T, body string) *Tool {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return New(path, "")
}

func TestClose_ReportsFailedDecode(t *testing.T) {
	tool := fakeFFmpeg(t, "echo 'Decoder not found for codec' >&2\nexit 1")
	dec, err := tool.Open(context.Background(), "clip.mp4", Info{Width: 2, Height: 2})
	require.NoError(t, err)

	buf := make([]byte, 12)
	assert.ErrorIs(t, dec.ReadFrame(buf), io.EOF)
	err = dec.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Decoder not found for codec")
	assert.Equal(t, err, dec.Close())
}

func TestClose_EarlyStopIsNotAnError(t *testing.T) {
	tool := fakeFFmpeg(t, "exec cat /dev/zero")
	dec, err := tool.Open(context.Background(), "clip.mp4", Info{Width: 2, Height: 2})
	require.NoError(t, err)

	buf := make([]byte, 12)
	require.NoError(t, dec.ReadFrame(buf))
	assert.NoError(t, dec.Close())
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 8}
	n, err := b.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "23456789", b.String())

	b.Write([]byte("ab"))
	assert.Equal(t, "456789ab", b.String())
}

// TestDecode_RealBinaries exercises the probe and decode path against a
// clip generated by ffmpeg itself. It is skipped when ffmpeg is not
// installed.
func TestDecode_RealBinaries(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	clip := filepath.Join(t.TempDir(), "clip.mp4")
	gen := exec.Command("ffmpeg", "-v", "error", "-f", "lavfi",
		"-i", "testsrc=size=64x48:rate=10:duration=0.5",
		"-pix_fmt", "yuv420p", clip)
	out, err := gen.CombinedOutput()
	require.NoError(t, err, strings.TrimSpace(string(out)))

	ctx := context.Background()
	tool := New("", "")
	info, err := tool.Probe(ctx, clip)
	require.NoError(t, err)
	assert.Equal(t, 64, info.Width)
	assert.Equal(t, 48, info.Height)
	assert.InDelta(t, 10, info.FPS, 0.01)

	dec, err := tool.Open(ctx, clip, info)
	require.NoError(t, err)
	defer dec.Close()

	buf := make([]byte, info.FrameSize())
	frames := 0
	for {
		err := dec.ReadFrame(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		frames++
	}
	assert.Equal(t, 5, frames)
	require.NoError(t, dec.Close())
	require.NoError(t, dec.Close(), "close is idempotent")
}

func TestProbe_MissingFile(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	_, err := New("", "").Probe(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))
	assert.Error(t, err)
}

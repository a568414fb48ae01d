// Package ffmpeg drives the ffprobe and ffmpeg binaries to inspect video
// files and decode them into raw BGR frames.
package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// Info describes the first video stream of a file.
type Info struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int
	Duration   float64 // seconds
}

// FrameSize is the number of bytes in one bgr24 frame.
func (i Info) FrameSize() int {
	return i.Width * i.Height * 3
}

// Tool locates the ffmpeg and ffprobe binaries.
type Tool struct {
	FFmpegPath  string
	FFprobePath string
}

// New returns a Tool, falling back to the binaries on PATH for empty values.
func New(ffmpegPath, ffprobePath string) *Tool {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Tool{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// Probe runs ffprobe on path and returns the stream geometry and rate.
func (t *Tool) Probe(ctx context.Context, path string) (Info, error) {
	cmd := exec.CommandContext(ctx, t.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return Info{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Info{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return ParseProbe(out)
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ParseProbe decodes ffprobe JSON output. When the container does not
// record a frame count it is estimated from duration and rate.
func ParseProbe(data []byte) (Info, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(po.Streams) == 0 {
		return Info{}, errors.New("no video stream")
	}
	s := po.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return Info{}, fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
	}

	fps, err := ParseRate(s.AvgFrameRate)
	if err != nil || fps <= 0 {
		fps, err = ParseRate(s.RFrameRate)
		if err != nil {
			return Info{}, fmt.Errorf("frame rate: %w", err)
		}
	}
	if fps <= 0 {
		return Info{}, fmt.Errorf("invalid frame rate %q", s.RFrameRate)
	}

	info := Info{Width: s.Width, Height: s.Height, FPS: fps}
	for _, d := range []string{s.Duration, po.Format.Duration} {
		if v, err := strconv.ParseFloat(d, 64); err == nil && v > 0 {
			info.Duration = v
			break
		}
	}
	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.FrameCount = n
	} else if info.Duration > 0 {
		info.FrameCount = int(math.Round(info.Duration * fps))
	}
	return info, nil
}

// ParseRate parses an ffprobe rational such as "30000/1001" or a plain
// decimal.
func ParseRate(s string) (float64, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	if !ok {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	if d == 0 {
		return 0, nil
	}
	return n / d, nil
}

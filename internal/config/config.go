// Package config loads and validates the viflow run configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used by the commands when no path argument is given.
const DefaultConfigPath = "config.json"

// ErrInvalid marks every configuration failure: unreadable file, bad
// syntax, missing required keys and out-of-range values.
var ErrInvalid = errors.New("invalid configuration")

// View modes understood by the renderer.
const (
	ViewModeImage = "image"
	ViewModeArrow = "arrow"
)

// File mirrors the on-disk configuration. Pointer fields distinguish an
// absent key from a zero value so required keys can be enforced.
type File struct {
	// Core pipeline keys, all required.
	VideoDir   *string  `json:"videodir,omitempty" yaml:"videodir,omitempty"`
	VideoExt   *string  `json:"videoext,omitempty" yaml:"videoext,omitempty"`
	OutDir     *string  `json:"outdir,omitempty" yaml:"outdir,omitempty"`
	Framerate  *float64 `json:"framerate,omitempty" yaml:"framerate,omitempty"`
	CropWidth  *int     `json:"crop_width,omitempty" yaml:"crop_width,omitempty"`
	CropHeight *int     `json:"crop_height,omitempty" yaml:"crop_height,omitempty"`
	Downsample *float64 `json:"downsample,omitempty" yaml:"downsample,omitempty"`

	// Renderer keys
	ViewDownsample *int     `json:"view_downsample,omitempty" yaml:"view_downsample,omitempty"`
	ViewMode       *string  `json:"view_mode,omitempty" yaml:"view_mode,omitempty"`
	ViewPause      *float64 `json:"view_pause,omitempty" yaml:"view_pause,omitempty"`

	Flow   *FlowFile   `json:"flow,omitempty" yaml:"flow,omitempty"`
	FFmpeg *FFmpegFile `json:"ffmpeg,omitempty" yaml:"ffmpeg,omitempty"`
}

// FlowFile holds optional TV-L1 overrides.
type FlowFile struct {
	Tau        *float64 `json:"tau,omitempty" yaml:"tau,omitempty"`
	Lambda     *float64 `json:"lambda,omitempty" yaml:"lambda,omitempty"`
	Theta      *float64 `json:"theta,omitempty" yaml:"theta,omitempty"`
	Scales     *int     `json:"scales,omitempty" yaml:"scales,omitempty"`
	ScaleStep  *float64 `json:"scale_step,omitempty" yaml:"scale_step,omitempty"`
	Warps      *int     `json:"warps,omitempty" yaml:"warps,omitempty"`
	Epsilon    *float64 `json:"epsilon,omitempty" yaml:"epsilon,omitempty"`
	Iterations *int     `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	Median     *int     `json:"median,omitempty" yaml:"median,omitempty"`
}

// FFmpegFile holds optional decoder binary locations.
type FFmpegFile struct {
	FFmpegPath  *string `json:"ffmpeg_path,omitempty" yaml:"ffmpeg_path,omitempty"`
	FFprobePath *string `json:"ffprobe_path,omitempty" yaml:"ffprobe_path,omitempty"`
}

// Config is the resolved, immutable run configuration.
type Config struct {
	VideoDir   string  `json:"videodir"`
	VideoExt   string  `json:"videoext"`
	OutDir     string  `json:"outdir"`
	Framerate  float64 `json:"framerate"`
	CropWidth  int     `json:"crop_width"`
	CropHeight int     `json:"crop_height"`
	Downsample float64 `json:"downsample"`

	ViewDownsample int     `json:"view_downsample"`
	ViewMode       string  `json:"view_mode"`
	ViewPause      float64 `json:"view_pause"`

	Flow   FlowSettings   `json:"flow"`
	FFmpeg FFmpegSettings `json:"ffmpeg"`
}

// FlowSettings are the dense flow parameters after defaults are applied.
type FlowSettings struct {
	Tau        float64 `json:"tau"`
	Lambda     float64 `json:"lambda"`
	Theta      float64 `json:"theta"`
	Scales     int     `json:"scales"`
	ScaleStep  float64 `json:"scale_step"`
	Warps      int     `json:"warps"`
	Epsilon    float64 `json:"epsilon"`
	Iterations int     `json:"iterations"`
	Median     int     `json:"median"`
}

// FFmpegSettings are the decoder binaries.
type FFmpegSettings struct {
	FFmpegPath  string `json:"ffmpeg_path"`
	FFprobePath string `json:"ffprobe_path"`
}

// DefaultFlowSettings returns the TV-L1 defaults.
func DefaultFlowSettings() FlowSettings {
	return FlowSettings{
		Tau:        0.25,
		Lambda:     0.15,
		Theta:      0.3,
		Scales:     5,
		ScaleStep:  0.5,
		Warps:      5,
		Epsilon:    0.01,
		Iterations: 300,
		Median:     5,
	}
}

// Load reads, validates and resolves a configuration file.
// The file must be .json, .yaml or .yml and at most 1MB.
func Load(path string) (Config, error) {
	f, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	return f.Resolve()
}

// LoadFile reads and parses a configuration file without resolving it.
func LoadFile(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: config file must have .json, .yaml or .yml extension, got %q", ErrInvalid, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to stat config file: %v", ErrInvalid, err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)", ErrInvalid, fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalid, err)
	}
	return Parse(data, ext)
}

// Parse decodes configuration bytes; ext selects the syntax.
func Parse(data []byte, ext string) (*File, error) {
	f := &File{}
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config YAML: %v", ErrInvalid, err)
		}
	default:
		if err := json.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config JSON: %v", ErrInvalid, err)
		}
	}
	return f, nil
}

// Validate checks that every required key is present and that values are
// in range.
func (f *File) Validate() error {
	var missing []string
	if f.VideoDir == nil {
		missing = append(missing, "videodir")
	}
	if f.VideoExt == nil {
		missing = append(missing, "videoext")
	}
	if f.OutDir == nil {
		missing = append(missing, "outdir")
	}
	if f.Framerate == nil {
		missing = append(missing, "framerate")
	}
	if f.CropWidth == nil {
		missing = append(missing, "crop_width")
	}
	if f.CropHeight == nil {
		missing = append(missing, "crop_height")
	}
	if f.Downsample == nil {
		missing = append(missing, "downsample")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required keys: %s", ErrInvalid, strings.Join(missing, ", "))
	}

	if *f.VideoExt == "" {
		return fmt.Errorf("%w: videoext must not be empty", ErrInvalid)
	}
	if _, err := filepath.Match(*f.VideoExt, ""); err != nil {
		return fmt.Errorf("%w: videoext %q is not a valid glob: %v", ErrInvalid, *f.VideoExt, err)
	}
	if *f.CropWidth <= 0 || *f.CropHeight <= 0 {
		return fmt.Errorf("%w: crop size must be positive, got %dx%d", ErrInvalid, *f.CropWidth, *f.CropHeight)
	}

	if f.ViewDownsample != nil && *f.ViewDownsample < 1 {
		return fmt.Errorf("%w: view_downsample must be >= 1, got %d", ErrInvalid, *f.ViewDownsample)
	}
	if f.ViewMode != nil && *f.ViewMode != ViewModeImage && *f.ViewMode != ViewModeArrow {
		return fmt.Errorf("%w: view_mode must be %q or %q, got %q", ErrInvalid, ViewModeImage, ViewModeArrow, *f.ViewMode)
	}
	if f.ViewPause != nil && *f.ViewPause < 0 {
		return fmt.Errorf("%w: view_pause must be non-negative, got %f", ErrInvalid, *f.ViewPause)
	}

	if f.Flow != nil {
		if err := f.Flow.validate(); err != nil {
			return fmt.Errorf("%w: flow: %v", ErrInvalid, err)
		}
	}
	return nil
}

func (ff *FlowFile) validate() error {
	positive := map[string]*float64{"tau": ff.Tau, "lambda": ff.Lambda, "theta": ff.Theta, "epsilon": ff.Epsilon}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}
	if ff.ScaleStep != nil && (*ff.ScaleStep <= 0 || *ff.ScaleStep >= 1) {
		return fmt.Errorf("scale_step must be in (0, 1), got %f", *ff.ScaleStep)
	}
	atLeastOne := map[string]*int{"scales": ff.Scales, "warps": ff.Warps, "iterations": ff.Iterations}
	for name, v := range atLeastOne {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be >= 1, got %d", name, *v)
		}
	}
	if ff.Median != nil && (*ff.Median < 0 || (*ff.Median > 1 && *ff.Median%2 == 0)) {
		return fmt.Errorf("median must be 0, 1 or an odd window size, got %d", *ff.Median)
	}
	return nil
}

// Resolve validates the file and applies defaults for optional keys.
func (f *File) Resolve() (Config, error) {
	if err := f.Validate(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		VideoDir:       *f.VideoDir,
		VideoExt:       *f.VideoExt,
		OutDir:         *f.OutDir,
		Framerate:      *f.Framerate,
		CropWidth:      *f.CropWidth,
		CropHeight:     *f.CropHeight,
		Downsample:     *f.Downsample,
		ViewDownsample: 1,
		ViewMode:       ViewModeImage,
		ViewPause:      0.1,
		Flow:           DefaultFlowSettings(),
		FFmpeg:         FFmpegSettings{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"},
	}
	if f.ViewDownsample != nil {
		cfg.ViewDownsample = *f.ViewDownsample
	}
	if f.ViewMode != nil {
		cfg.ViewMode = *f.ViewMode
	}
	if f.ViewPause != nil {
		cfg.ViewPause = *f.ViewPause
	}
	if ff := f.Flow; ff != nil {
		setFloat(&cfg.Flow.Tau, ff.Tau)
		setFloat(&cfg.Flow.Lambda, ff.Lambda)
		setFloat(&cfg.Flow.Theta, ff.Theta)
		setInt(&cfg.Flow.Scales, ff.Scales)
		setFloat(&cfg.Flow.ScaleStep, ff.ScaleStep)
		setInt(&cfg.Flow.Warps, ff.Warps)
		setFloat(&cfg.Flow.Epsilon, ff.Epsilon)
		setInt(&cfg.Flow.Iterations, ff.Iterations)
		setInt(&cfg.Flow.Median, ff.Median)
	}
	if fm := f.FFmpeg; fm != nil {
		if fm.FFmpegPath != nil && *fm.FFmpegPath != "" {
			cfg.FFmpeg.FFmpegPath = *fm.FFmpegPath
		}
		if fm.FFprobePath != nil && *fm.FFprobePath != "" {
			cfg.FFmpeg.FFprobePath = *fm.FFprobePath
		}
	}
	return cfg, nil
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// InputPattern is the glob used for input discovery.
func (c Config) InputPattern() string {
	return filepath.Join(c.VideoDir, c.VideoExt)
}

// IsArrayInput reports whether inputs are .npy frame arrays rather than videos.
func (c Config) IsArrayInput() bool {
	return strings.EqualFold(c.VideoExt, "*.npy")
}

// Log writes one "cfg" record per key so a run log shows exactly what was used.
func (c Config) Log(logger *slog.Logger) {
	pairs := []struct {
		key   string
		value any
	}{
		{"videodir", c.VideoDir},
		{"videoext", c.VideoExt},
		{"outdir", c.OutDir},
		{"framerate", c.Framerate},
		{"crop_width", c.CropWidth},
		{"crop_height", c.CropHeight},
		{"downsample", c.Downsample},
		{"view_downsample", c.ViewDownsample},
		{"view_mode", c.ViewMode},
		{"view_pause", c.ViewPause},
		{"flow", fmt.Sprintf("%+v", c.Flow)},
		{"ffmpeg", fmt.Sprintf("%+v", c.FFmpeg)},
	}
	for _, p := range pairs {
		logger.Info("cfg", "key", p.key, "value", p.value)
	}
}

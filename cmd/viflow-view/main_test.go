package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/viflow/internal/config"
	"github.com/banshee-data/viflow/internal/flow"
	"github.com/banshee-data/viflow/internal/flowstore"
	"github.com/banshee-data/viflow/internal/fsutil"
	"github.com/banshee-data/viflow/internal/monitoring"
)

func TestRun_Flags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"-version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "viflow-view dev")
	assert.Equal(t, 2, run(context.Background(), []string{"-mode", "movie"}, &stdout, &stderr))
	assert.Equal(t, 1, run(context.Background(), []string{filepath.Join(t.TempDir(), "missing.json")}, &stdout, &stderr))
}

func TestRun_RendersArchives(t *testing.T) {
	dir := t.TempDir()
	flows := filepath.Join(dir, "flows")
	s := flow.Stack{SourceID: "clip.mp4", Width: 4, Height: 4, FrameCount: 3}
	for i := 0; i < 2; i++ {
		f := flow.NewField(4, 4)
		for j := range f.Data {
			f.Data[j] = float32(j%4) / 4
		}
		s.Fields = append(s.Fields, f)
	}
	_, _, err := flowstore.NewWriter(fsutil.OSFileSystem{}, flows, monitoring.Discard()).Write(s)
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.json")
	cfg := `{"videodir": "videos", "videoext": "*.mp4", "outdir": "` + flows + `",
		"framerate": 5, "crop_width": 4, "crop_height": 4, "downsample": 1, "view_mode": "arrow"}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	out := filepath.Join(dir, "view")
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run(context.Background(), []string{"-out", out, "-mode", "image", cfgPath}, &stdout, &stderr), stderr.String())

	for _, name := range []string{"clip.gif", "flows.html"} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(out, "clip_0000.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_DefaultConfigPath(t *testing.T) {
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), config.DefaultConfigPath)
}

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
	"github.com/banshee-data/viflow/internal/frames"
	"github.com/banshee-data/viflow/internal/monitoring"
	"github.com/banshee-data/viflow/internal/runlog"
	"github.com/banshee-data/viflow/internal/testutil"
	"github.com/banshee-data/viflow/internal/timeutil"
)

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-version"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "viflow dev")
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), []string{"a.json", "b.json"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage: viflow")

	stderr.Reset()
	assert.Equal(t, 2, run(context.Background(), []string{"-log-level", "loud"}, &stdout, &stderr))
}

func TestRun_BadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfg, []byte(`{"videodir": "videos"}`), 0644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-log-file", "", cfg}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "load config")
}

func TestRun_ArrayInputs(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(in, 0755))

	var images []frames.Image
	for i := 0; i < 3; i++ {
		images = append(images, testutil.Blob(8, 8, 3+float64(i)*0.5, 4, 1.5, 100))
	}
	require.NoError(t, os.WriteFile(filepath.Join(in, "clip.npy"), testutil.FrameArray(t, images), 0644))

	cfgPath := filepath.Join(dir, "config.json")
	cfg := `{
		"videodir": "` + in + `", "videoext": "*.npy", "outdir": "` + filepath.Join(dir, "out") + `",
		"framerate": 5, "crop_width": 8, "crop_height": 8, "downsample": 1,
		"flow": {"warps": 1, "iterations": 20}
	}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0644))

	dbPath := filepath.Join(dir, "runs.db")
	promPath := filepath.Join(dir, "viflow.prom")
	logPath := filepath.Join(dir, "viflow.log")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"-log-file", logPath, "-db", dbPath, "-metrics-textfile", promPath, cfgPath,
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	_, err := os.Stat(filepath.Join(dir, "out", "clip.npz"))
	assert.NoError(t, err)

	logData, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "processing all took")

	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "viflow_files_total")

	store, err := runlog.Open(dbPath, monitoring.Discard(), timeutil.RealClock{})
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runlog.RunSucceeded, runs[0].Status)
	files, err := store.ListFiles(context.Background(), runs[0].RunID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 2, files[0].Pairs)
}

func TestRun_DefaultConfigPath(t *testing.T) {
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), []string{"-log-file", ""}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), config.DefaultConfigPath)
}

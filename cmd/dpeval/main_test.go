package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevecastle/dpeval/appconfig"
	"github.com/stevecastle/dpeval/dataset"
	"github.com/stevecastle/dpeval/imageio"
	"github.com/stevecastle/dpeval/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	return p
}

func TestFlagsOverrideConfig(t *testing.T) {
	cfgPath := writeConfig(t, `{"inputDir": "/data/dpdd", "resize": 50, "interpolation": "bicubic", "weights": "/m/a.onnx"}`)

	opts, err := parseArgs([]string{"--config", cfgPath, "--resize", "25", "--baseline"}, &bytes.Buffer{})
	require.NoError(t, err)
	cfg := appconfig.Get()

	assert.Equal(t, "/data/dpdd", cfg.InputDir)
	assert.Equal(t, 25, cfg.Resize)
	assert.Equal(t, "bicubic", cfg.Interpolation)
	assert.Equal(t, "/m/a.onnx", cfg.Weights)
	assert.True(t, opts.baseline)
}

func TestUnsetFlagsKeepConfig(t *testing.T) {
	cfgPath := writeConfig(t, `{"saveImages": true, "resultDir": "/out", "onnx": {"useCuda": true}}`)

	_, err := parseArgs([]string{"--config", cfgPath}, &bytes.Buffer{})
	require.NoError(t, err)
	cfg := appconfig.Get()
	assert.True(t, cfg.SaveImages)
	assert.Equal(t, "/out", cfg.ResultDir)
	assert.True(t, cfg.Onnx.UseCUDA)
	assert.Equal(t, "input", cfg.Onnx.ModelInput)
}

func TestMissingConfigUsesDefaults(t *testing.T) {
	_, err := parseArgs([]string{"--config", filepath.Join(t.TempDir(), "none.json")}, &bytes.Buffer{})
	require.NoError(t, err)
	cfg := appconfig.Get()
	assert.Equal(t, "./Datasets/DPDD/", cfg.InputDir)
	assert.Equal(t, "./results/Dual_Pixel_Defocus_Deblurring/", cfg.ResultDir)
	assert.False(t, cfg.SaveImages)
	assert.Zero(t, cfg.Resize)
}

func TestUsageErrors(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "none.json")
	tests := []struct {
		name string
		args []string
	}{
		{"negative resize", []string{"--resize", "-1"}},
		{"unknown interpolation", []string{"--resize", "50", "--interpolation", "spline"}},
		{"unknown flag", []string{"--bogus"}},
		{"positional", []string{"extra"}},
		{"no weights", []string{"--weights", ""}},
		{"negative threads", []string{"--threads", "-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(append([]string{"--config", cfgPath}, tt.args...), &stdout, &stderr)
			assert.Equal(t, 2, code)
			assert.Empty(t, stdout.String())
		})
	}
}

func TestHelp(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{"-h"}, &bytes.Buffer{}, &stderr))
	assert.Contains(t, stderr.String(), "-input_dir")
}

func gradient(w, h int, offset float32) *imageio.Image {
	m := imageio.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < imageio.Channels; c++ {
				m.Set(x, y, c, offset+float32(x+y+c)/64)
			}
		}
	}
	return m
}

// writeDataset lays out n identical-view samples under a fresh root.
func writeDataset(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{dataset.LeftDir, dataset.RightDir, dataset.TargetDir} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0755))
	}
	for i := 1; i <= n; i++ {
		img := gradient(16, 16, float32(i)/10)
		name := strconv.Itoa(i) + ".png"
		for _, dir := range []string{dataset.LeftDir, dataset.RightDir, dataset.TargetDir} {
			require.NoError(t, imageio.Save(filepath.Join(root, dir, name), img))
		}
	}
	return root
}

func baseArgs(t *testing.T, root string) []string {
	return []string{
		"--config", filepath.Join(t.TempDir(), "none.json"),
		"--input_dir", root,
		"--cache_dir", t.TempDir(),
		"--baseline",
		"--no_lpips",
		"--no_progress",
	}
}

func TestRunBaseline(t *testing.T) {
	root := writeDataset(t, 3)
	require.NoError(t, os.WriteFile(filepath.Join(root, "indoor.txt"), []byte("1 3\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "outdoor.txt"), []byte("2\n"), 0644))
	out := filepath.Join(t.TempDir(), "results")
	db := filepath.Join(t.TempDir(), "runs.db")

	args := append(baseArgs(t, root),
		"--indoor_labels", filepath.Join(root, "indoor.txt"),
		"--outdoor_labels", filepath.Join(root, "outdoor.txt"),
		"--save_images",
		"--result_dir", out,
		"--results_db", db,
	)
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	want := "Overall: PSNR 100.0000 SSIM 1.0000 MAE 0.0000 LPIPS NaN\n" +
		"Indoor:  PSNR 100.0000 SSIM 1.0000 MAE 0.0000 LPIPS NaN\n" +
		"Outdoor: PSNR 100.0000 SSIM 1.0000 MAE 0.0000 LPIPS NaN\n"
	assert.Equal(t, want, stdout.String())

	for _, name := range []string{"1.png", "2.png", "3.png"} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}

	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()
	latest, err := s.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mean", latest.Model)
	assert.Equal(t, 3, latest.Samples)
	assert.False(t, latest.FinishedAt.IsZero())
	rows, err := s.Samples(context.Background(), latest.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, dataset.Indoor, rows[0].Category)
	assert.Equal(t, dataset.Outdoor, rows[1].Category)
	assert.Equal(t, dataset.Indoor, rows[2].Category)
}

func TestRunCountMismatch(t *testing.T) {
	root := writeDataset(t, 2)
	require.NoError(t, os.Remove(filepath.Join(root, dataset.RightDir, "2.png")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "in.txt"), []byte("1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "out.txt"), []byte("2"), 0644))

	var stdout, stderr bytes.Buffer
	code := run(append(baseArgs(t, root), "--indoor_labels", filepath.Join(root, "in.txt"), "--outdoor_labels", filepath.Join(root, "out.txt")), &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "counts differ")
}

func TestRunFailureIsRecorded(t *testing.T) {
	root := writeDataset(t, 2)
	require.NoError(t, imageio.Save(filepath.Join(root, dataset.TargetDir, "2.png"), gradient(12, 12, 0)))
	require.NoError(t, os.WriteFile(filepath.Join(root, "in.txt"), []byte("1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "out.txt"), []byte("2"), 0644))
	db := filepath.Join(t.TempDir(), "runs.db")

	args := append(baseArgs(t, root),
		"--indoor_labels", filepath.Join(root, "in.txt"),
		"--outdoor_labels", filepath.Join(root, "out.txt"),
		"--results_db", db,
	)
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(args, &stdout, &stderr))
	assert.Empty(t, stdout.String())

	conn, err := sql.Open("sqlite", db)
	require.NoError(t, err)
	defer conn.Close()
	var id string
	require.NoError(t, conn.QueryRow(`SELECT id FROM runs`).Scan(&id))

	s, err := store.Open(db)
	require.NoError(t, err)
	defer s.Close()
	failed, err := s.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "2.png")
	_, err = s.LatestRun(context.Background())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRunLabelsOutOfRange(t *testing.T) {
	root := writeDataset(t, 2)
	require.NoError(t, os.WriteFile(filepath.Join(root, "in.txt"), []byte("1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "out.txt"), []byte("2 3"), 0644))

	var stdout, stderr bytes.Buffer
	code := run(append(baseArgs(t, root), "--indoor_labels", filepath.Join(root, "in.txt"), "--outdoor_labels", filepath.Join(root, "out.txt")), &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
}

func TestRunSaveConfig(t *testing.T) {
	root := writeDataset(t, 1)
	require.NoError(t, os.WriteFile(filepath.Join(root, "in.txt"), []byte("1"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "out.txt"), []byte(""), 0644))
	cfgPath := filepath.Join(t.TempDir(), "cfg", "config.json")

	args := []string{
		"--config", cfgPath, "--save_config",
		"--input_dir", root, "--cache_dir", t.TempDir(),
		"--baseline", "--no_lpips", "--no_progress",
		"--indoor_labels", filepath.Join(root, "in.txt"),
		"--outdoor_labels", filepath.Join(root, "out.txt"),
		"--resize", "50",
	}
	var stdout bytes.Buffer
	require.Equal(t, 0, run(args, &stdout, &bytes.Buffer{}))
	assert.True(t, strings.HasPrefix(stdout.String(), "Overall: PSNR 100.0000"))
	assert.Contains(t, stdout.String(), "Outdoor: PSNR NaN")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"resize": 50`)
}

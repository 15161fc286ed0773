package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tagvol/pkg/config"
	"github.com/Sumatoshi-tech/tagvol/pkg/histogram"
	"github.com/Sumatoshi-tech/tagvol/pkg/persist"
	"github.com/Sumatoshi-tech/tagvol/pkg/report"
	"github.com/Sumatoshi-tech/tagvol/pkg/timetag"
	"github.com/Sumatoshi-tech/tagvol/pkg/version"
	"github.com/Sumatoshi-tech/tagvol/pkg/volume"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)

	err := root.ExecuteContext(context.Background())

	return stdout.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestSynthThenReconstruct(t *testing.T) {
	t.Parallel()

	for _, ext := range []string{".arrow_stream", ".parquet"} {
		t.Run(ext, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			stream := filepath.Join(dir, "points"+ext)
			outDir := filepath.Join(dir, "volumes")

			out, err := execute(t, "synth", "--out", stream, "--points", "1000", "--channels", "2",
				"--batch-rows", "300", "--rows", "8", "--columns", "8", "--planes", "2")
			require.NoError(t, err)
			assert.Contains(t, out, "wrote 1,000 points in 4 batches")

			cfgPath := writeFile(t, filepath.Join(dir, "run.toml"), `
rows = 8
columns = 8
planes = 2

[reconstruct]
workers = 2
batch_rows = 256
codec = "json"

[logging]
level = "error"
`)

			out, err = execute(t, "reconstruct", "--config", cfgPath, "--output", outDir,
				"--format", report.FormatJSON, stream)
			require.NoError(t, err)

			var rep report.Reconstruction
			require.NoError(t, json.Unmarshal([]byte(out), &rep))

			assert.Equal(t, uint64(1000), rep.Rows)
			assert.Equal(t, "8x8x2", rep.Shape)
			assert.Equal(t, "sum", rep.MergePolicy)
			assert.False(t, rep.Stopped)
			require.Len(t, rep.Channels, 2)

			codec, err := persist.CodecByName("json", true)
			require.NoError(t, err)

			for _, ch := range rep.Channels {
				assert.InDelta(t, 500, ch.Total, 1e-9)
				assert.FileExists(t, ch.Path)

				v, loadErr := persist.LoadVolume(outDir, rep.RunID, ch.Channel, codec)
				require.NoError(t, loadErr)
				assert.Equal(t, ch.Coordinates, v.Len())
				assert.InDelta(t, ch.Total, v.Sum(), 1e-9)
			}
		})
	}
}

func TestReconstruct_OutOfBoundsShape(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stream := filepath.Join(dir, "points.arrow")

	_, err := execute(t, "synth", "--out", stream, "--points", "50", "--rows", "16", "--columns", "16")
	require.NoError(t, err)

	cfgPath := writeFile(t, filepath.Join(dir, "c.yaml"), "logging:\n  level: error\n")

	_, err = execute(t, "reconstruct", "--config", cfgPath, "--no-save",
		"--rows", "2", "--columns", "2", "--planes", "4", stream)
	require.ErrorIs(t, err, volume.ErrOutOfBounds)
}

func TestReconstruct_MissingStream(t *testing.T) {
	t.Parallel()

	cfgPath := writeFile(t, filepath.Join(t.TempDir(), "c.yaml"), "rows: 4\ncolumns: 4\nplanes: 1\n")

	_, err := execute(t, "reconstruct", "--config", cfgPath)
	require.ErrorIs(t, err, config.ErrMissingFilename)
}

func TestSynth_Validation(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "synth")
	require.ErrorIs(t, err, errNoOutput)

	_, err = execute(t, "synth", "--out", filepath.Join(t.TempDir(), "p.arrow"), "--channels", "0")
	require.ErrorIs(t, err, errInvalidChannels)

	_, err = execute(t, "synth", "--out", filepath.Join(t.TempDir(), "p.csv"))
	require.Error(t, err)
}

func TestHistogram_RunsForDuration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plot := filepath.Join(dir, "hist.html")
	cfgPath := writeFile(t, filepath.Join(dir, "h.yaml"), `
histogram:
  num_bins: 4000
testsignal:
  pairs_per_batch: 16
  batch_interval: 5ms
logging:
  level: error
`)

	out, err := execute(t, "histogram", "--config", cfgPath, "--addr", "", "--duration", "100ms",
		"--plot", plot, "--format", report.FormatJSON)
	require.NoError(t, err)

	var h report.Histogram
	require.NoError(t, json.Unmarshal([]byte(out), &h))

	assert.Positive(t, h.Batches)
	assert.Equal(t, h.Batches*16, h.Counted)
	assert.Equal(t, int64(timetag.DefaultStopDelay), h.PeakDelay)
	assert.Zero(t, h.Dropped)

	html, err := os.ReadFile(plot)
	require.NoError(t, err)
	assert.Contains(t, string(html), chartTitle)
}

func TestHistogramHandlers(t *testing.T) {
	t.Parallel()

	acc, err := histogram.New(histogram.Config{StartChannel: 1, StopChannel: 2, BinWidth: 10, NumBins: 3})
	require.NoError(t, err)

	require.NoError(t, acc.OnBatch([]timetag.Event{
		{Type: timetag.TimeTag, Channel: 1, Time: 100},
		{Type: timetag.TimeTag, Channel: 2, Time: 115},
	}, 0, 200))

	rec := httptest.NewRecorder()
	countsHandler(acc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/histogram", http.NoBody))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `[0,1,0]`, rec.Body.String())

	rec = httptest.NewRecorder()
	indexHandler(acc).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/histogram/index", http.NoBody))
	assert.JSONEq(t, `[0,10,20]`, rec.Body.String())
}

func TestHistogramResetHandler(t *testing.T) {
	t.Parallel()

	acc, err := histogram.New(histogram.Config{StartChannel: 1, StopChannel: 2, BinWidth: 10, NumBins: 3})
	require.NoError(t, err)

	require.NoError(t, acc.OnBatch([]timetag.Event{
		{Type: timetag.TimeTag, Channel: 1, Time: 100},
		{Type: timetag.TimeTag, Channel: 2, Time: 115},
	}, 0, 200))

	h := resetHandler(acc, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/histogram/reset", http.NoBody))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, []uint64{0, 1, 0}, acc.Snapshot())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/histogram/reset", http.NoBody))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uint64{0, 0, 0}, acc.Snapshot())
	assert.Equal(t, uint64(1), acc.Stats().Resets)

	require.NoError(t, acc.Stop())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/histogram/reset", http.NoBody))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "tagvol "))

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)

	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Get(), info)
}

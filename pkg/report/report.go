// Package report renders reconstruction and histogram summaries as terminal
// tables, JSON or YAML.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/tagvol/pkg/histogram"
	"github.com/Sumatoshi-tech/tagvol/pkg/reconstruct"
	"github.com/Sumatoshi-tech/tagvol/pkg/safeconv"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ErrUnknownFormat is returned for an output format other than table, json
// or yaml.
var ErrUnknownFormat = errors.New("unknown report format")

// ChannelSummary describes one reconstructed volume.
type ChannelSummary struct {
	Channel     uint8   `json:"channel" yaml:"channel"`
	Coordinates int     `json:"coordinates" yaml:"coordinates"`
	Occupancy   float64 `json:"occupancy" yaml:"occupancy"`
	Total       float64 `json:"total" yaml:"total"`
	Path        string  `json:"path,omitempty" yaml:"path,omitempty"`
}

// Reconstruction summarizes one offline pass.
type Reconstruction struct {
	RunID       string           `json:"run_id" yaml:"run_id"`
	Source      string           `json:"source" yaml:"source"`
	Shape       string           `json:"shape" yaml:"shape"`
	MergePolicy string           `json:"merge_policy" yaml:"merge_policy"`
	Batches     int              `json:"batches" yaml:"batches"`
	Rows        uint64           `json:"rows" yaml:"rows"`
	Stopped     bool             `json:"stopped" yaml:"stopped"`
	Elapsed     time.Duration    `json:"elapsed" yaml:"elapsed"`
	Channels    []ChannelSummary `json:"channels" yaml:"channels"`
}

// FromResult summarizes res. paths maps channels to their persisted files and
// may be nil.
func FromResult(res reconstruct.Result, source, policy string, elapsed time.Duration,
	paths map[uint8]string,
) Reconstruction {
	rep := Reconstruction{
		RunID:       res.RunID.String(),
		Source:      source,
		MergePolicy: policy,
		Batches:     res.Batches,
		Rows:        res.Rows,
		Stopped:     res.Stopped,
		Elapsed:     elapsed,
	}

	for _, ch := range res.Channels() {
		v := res.Volumes[ch]
		shape := v.Shape()
		rep.Shape = shape.String()

		cs := ChannelSummary{
			Channel:     ch,
			Coordinates: v.Len(),
			Total:       v.Sum(),
			Path:        paths[ch],
		}

		if n := shape.Elements(); n > 0 {
			cs.Occupancy = float64(v.Len()) / float64(n)
		}

		rep.Channels = append(rep.Channels, cs)
	}

	return rep
}

// Histogram summarizes a live histogram.
type Histogram struct {
	StartChannel int32   `json:"start_channel" yaml:"start_channel"`
	StopChannel  int32   `json:"stop_channel" yaml:"stop_channel"`
	BinWidth     int64   `json:"bin_width" yaml:"bin_width"`
	NumBins      int     `json:"num_bins" yaml:"num_bins"`
	Counted      uint64  `json:"counted" yaml:"counted"`
	PeakDelay    int64   `json:"peak_delay" yaml:"peak_delay"`
	PeakCount    uint64  `json:"peak_count" yaml:"peak_count"`
	Batches      uint64  `json:"batches" yaml:"batches"`
	Events       uint64  `json:"events" yaml:"events"`
	Dropped      uint64  `json:"dropped" yaml:"dropped"`
	DropRatio    float64 `json:"drop_ratio" yaml:"drop_ratio"`
}

// FromHistogram summarizes the given counts, axis and stats.
func FromHistogram(cfg histogram.Config, index []int64, counts []uint64, st histogram.Stats) Histogram {
	h := Histogram{
		StartChannel: cfg.StartChannel,
		StopChannel:  cfg.StopChannel,
		BinWidth:     cfg.BinWidth,
		NumBins:      cfg.NumBins,
		Batches:      st.Batches,
		Events:       st.Events,
		Dropped:      st.Dropped,
	}

	for i, c := range counts {
		h.Counted += c

		if c > h.PeakCount && i < len(index) {
			h.PeakCount = c
			h.PeakDelay = index[i]
		}
	}

	if st.Stops > 0 {
		h.DropRatio = float64(st.Dropped) / float64(st.Stops)
	}

	return h
}

// WriteReconstruction renders rep in the given format.
func WriteReconstruction(w io.Writer, format string, rep Reconstruction) error {
	return write(w, format, rep, func() error { return reconstructionTable(w, rep) })
}

// WriteHistogram renders h in the given format.
func WriteHistogram(w io.Writer, format string, h Histogram) error {
	return write(w, format, h, func() error { return histogramTable(w, h) })
}

func write(w io.Writer, format string, v any, tableFn func() error) error {
	switch format {
	case "", FormatTable:
		return tableFn()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		err := enc.Encode(v)
		if err != nil {
			return fmt.Errorf("encode json report: %w", err)
		}

		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)

		err := enc.Encode(v)
		if err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}

		err = enc.Close()
		if err != nil {
			return fmt.Errorf("close yaml report: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateColumns = false

	return tbl
}

func headline(w io.Writer, format string, args ...any) error {
	_, err := color.New(color.FgCyan, color.Bold).Fprintf(w, format+"\n", args...)
	if err != nil {
		return fmt.Errorf("write headline: %w", err)
	}

	return nil
}

func reconstructionTable(w io.Writer, rep Reconstruction) error {
	status := "complete"
	if rep.Stopped {
		status = color.YellowString("stopped early")
	}

	err := headline(w, "run %s: %s rows in %s batches, %s (%s)", rep.RunID,
		humanize.Comma(safeconv.Int64(rep.Rows)), humanize.Comma(int64(rep.Batches)),
		rep.Elapsed.Round(time.Millisecond), status)
	if err != nil {
		return err
	}

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"channel", "coordinates", "occupancy", "total", "file"})
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})

	var coords int

	for _, ch := range rep.Channels {
		coords += ch.Coordinates
		tbl.AppendRow(table.Row{
			ch.Channel,
			humanize.Comma(int64(ch.Coordinates)),
			strconv.FormatFloat(ch.Occupancy*100, 'f', 3, 64) + "%",
			humanize.FormatFloat("#,###.##", ch.Total),
			ch.Path,
		})
	}

	tbl.AppendFooter(table.Row{
		fmt.Sprintf("%d channels", len(rep.Channels)), humanize.Comma(int64(coords)), "", "", rep.Shape,
	})
	tbl.Render()

	return nil
}

func histogramTable(w io.Writer, h Histogram) error {
	err := headline(w, "histogram %d -> %d: %s counts over %d bins of %d ps",
		h.StartChannel, h.StopChannel, humanize.Comma(safeconv.Int64(h.Counted)), h.NumBins, h.BinWidth)
	if err != nil {
		return err
	}

	rows := []table.Row{
		{"batches", humanize.Comma(safeconv.Int64(h.Batches))},
		{"events", humanize.Comma(safeconv.Int64(h.Events))},
		{"dropped stops", humanize.Comma(safeconv.Int64(h.Dropped))},
		{"drop ratio", strconv.FormatFloat(h.DropRatio*100, 'f', 2, 64) + "%"},
		{"peak", fmt.Sprintf("%s at %d ps", humanize.Comma(safeconv.Int64(h.PeakCount)), h.PeakDelay)},
	}

	tbl := newTable(w)
	tbl.AppendRows(rows)
	tbl.Render()

	return nil
}

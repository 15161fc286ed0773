package histogram

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	chartWidth  = "100%"
	chartHeight = "500px"
)

// ErrShapeMismatch is returned when index and counts differ in length.
var ErrShapeMismatch = errors.New("index and counts differ in length")

// RenderChart writes an HTML line chart of counts against bin delay.
func RenderChart(w io.Writer, title string, index []int64, counts []uint64) error {
	if len(index) != len(counts) {
		return fmt.Errorf("%w: %d != %d", ErrShapeMismatch, len(index), len(counts))
	}

	labels := make([]string, len(index))
	data := make([]opts.LineData, len(counts))

	for i := range index {
		labels[i] = strconv.FormatInt(index[i], 10)
		data[i] = opts.LineData{Value: counts[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: title, Left: "center"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}, opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Delay (ps)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Counts"}),
	)
	line.SetXAxis(labels)
	line.AddSeries("Counts", data,
		charts.WithLineChartOpts(opts.LineChart{Step: "start"}),
	)

	err := line.Render(w)
	if err != nil {
		return fmt.Errorf("render histogram chart: %w", err)
	}

	return nil
}

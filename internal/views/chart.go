package views

import (
	"fmt"
	"io"
	"math"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/kjstillabower/sensor-dashboard/internal/sensor"
)

const (
	chartWidth  = 960
	chartHeight = 320
)

var lineColor = drawing.ColorFromHex("f5c542")

// RenderChart writes the chart rows as an SVG line chart. go-chart needs two distinct X values
// and a non-empty Y range, so a single row is padded by a minute and a flat series gets a one
// degree band. No rows renders a placeholder.
func RenderChart(w io.Writer, rows []sensor.ChartRow, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintf(w, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d"><text x="50%%" y="50%%" text-anchor="middle" fill="#999">No data yet</text></svg>`, chartWidth, chartHeight)
		return err
	}

	xs := make([]time.Time, 0, len(rows)+1)
	ys := make([]float64, 0, len(rows)+1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, r := range rows {
		xs = append(xs, time.UnixMilli(r.Timestamp).In(loc))
		ys = append(ys, r.Temperature)
		minY = math.Min(minY, r.Temperature)
		maxY = math.Max(maxY, r.Temperature)
	}
	if !xs[len(xs)-1].After(xs[0]) {
		// Pad to at least two X values for go-chart
		xs = append(xs, xs[len(xs)-1].Add(time.Minute))
		ys = append(ys, ys[len(ys)-1])
	}

	yAxis := chart.YAxis{
		Name:           "°C",
		ValueFormatter: func(v interface{}) string { return fmt.Sprintf("%.1f", v) },
	}
	if maxY-minY < 1e-9 {
		yAxis.Range = &chart.ContinuousRange{Min: minY - 1, Max: maxY + 1}
	}

	graph := chart.Chart{
		Width:      chartWidth,
		Height:     chartHeight,
		Background: chart.Style{Padding: chart.Box{Top: 14, Left: 16, Right: 12, Bottom: 28}},
		XAxis: chart.XAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return time.Unix(0, int64(f)).In(loc).Format("15:04")
				}
				return ""
			},
		},
		YAxis: yAxis,
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Temp",
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeColor: lineColor,
					StrokeWidth: 3,
				},
			},
		},
	}
	return graph.Render(chart.SVG, w)
}

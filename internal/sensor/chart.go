package sensor

import "time"

// DefaultChartPoints is the size of the live chart window.
const DefaultChartPoints = 120

// ProjectChart returns the last max points (fewer if the store is smaller) as chart rows,
// in the same ascending order. DisplayTime is HH:MM in loc.
func ProjectChart(points []Point, max int, loc *time.Location) []ChartRow {
	if max < 0 {
		max = 0
	}
	start := len(points) - max
	if start < 0 {
		start = 0
	}
	if loc == nil {
		loc = time.Local
	}
	rows := make([]ChartRow, 0, len(points)-start)
	for _, p := range points[start:] {
		rows = append(rows, ChartRow{
			Timestamp:   p.Timestamp,
			DisplayTime: p.Time(loc).Format("15:04"),
			Temperature: p.Temperature,
		})
	}
	return rows
}

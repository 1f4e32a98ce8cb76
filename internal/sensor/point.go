package sensor

import "time"

// Record field names as written by the sensor board.
const (
	FieldTemperature = "Temp"
	FieldHumidity    = "Hum"
	FieldSequence    = "STT"
	FieldTime        = "Time"
)

// RawRecord is one untyped record from the feed. Values may be missing or malformed.
type RawRecord map[string]any

// Entry is a keyed raw record. ID is opaque and server-assigned.
type Entry struct {
	ID  string
	Raw RawRecord
}

// Snapshot is the full keyed collection as last delivered by the feed, in delivery order.
type Snapshot []Entry

// Point is a validated sensor reading.
type Point struct {
	ID          string   `json:"id"`
	Timestamp   int64    `json:"timestamp"` // unix milliseconds
	Temperature float64  `json:"temperature"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Sequence    *float64 `json:"sequence,omitempty"`
	RawTime     *string  `json:"rawTimeText,omitempty"`
}

// Time returns the point timestamp in loc.
func (p Point) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(p.Timestamp).In(loc)
}

// Bucket is a fixed-width time interval represented by its latest reading.
type Bucket struct {
	Start int64 `json:"start"` // unix milliseconds, inclusive
	End   int64 `json:"end"`   // unix milliseconds, inclusive
	Point Point `json:"point"`
}

// ChartRow is one point of the live chart series.
type ChartRow struct {
	Timestamp   int64   `json:"timestamp"`
	DisplayTime string  `json:"displayTime"`
	Temperature float64 `json:"temperature"`
}

// Page is one slice of the reverse-chronological bucket list.
type Page struct {
	Rows         []Bucket `json:"rows"`
	CurrentPage  int      `json:"currentPage"`
	TotalPages   int      `json:"totalPages"`
	TotalBuckets int      `json:"totalBuckets"`
}

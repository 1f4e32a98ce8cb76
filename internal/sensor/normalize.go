package sensor

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// timePattern is the board's clock format, DD/MM/YYYY HH:MM:SS. No partial matches.
var timePattern = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4}) (\d{2}):(\d{2}):(\d{2})$`)

// Normalizer converts raw feed records into Points.
// The zero value uses time.Now and time.Local.
type Normalizer struct {
	Now      func() time.Time
	Location *time.Location
}

type outcome int

const (
	outcomeDropped outcome = iota
	outcomeParsed
	outcomeTimeFallback
)

// Normalize converts one raw record. ok is false when the record has no finite temperature
// and must be discarded. A missing or unparseable Time falls back to the current time.
func (n Normalizer) Normalize(id string, raw RawRecord) (Point, bool) {
	p, out := n.normalize(id, raw)
	return p, out != outcomeDropped
}

func (n Normalizer) normalize(id string, raw RawRecord) (Point, outcome) {
	temp, ok := coerceNumber(raw[FieldTemperature])
	if !ok {
		return Point{}, outcomeDropped
	}
	p := Point{ID: id, Temperature: temp}
	if hum, ok := coerceNumber(raw[FieldHumidity]); ok {
		p.Humidity = &hum
	}
	if seq, ok := coerceNumber(raw[FieldSequence]); ok {
		p.Sequence = &seq
	}

	out := outcomeTimeFallback
	if s, isText := raw[FieldTime].(string); isText {
		p.RawTime = &s
		if t, ok := ParseTime(s, n.location()); ok {
			p.Timestamp = t.UnixMilli()
			out = outcomeParsed
		}
	}
	if out == outcomeTimeFallback {
		p.Timestamp = n.now().UnixMilli()
	}
	return p, out
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n Normalizer) location() *time.Location {
	if n.Location != nil {
		return n.Location
	}
	return time.Local
}

// ParseTime parses DD/MM/YYYY HH:MM:SS as a wall-clock time in loc.
// Out-of-range fields roll over the way time.Date normalizes them (31/02 becomes 02/03 or 03/03).
func ParseTime(s string, loc *time.Location) (time.Time, bool) {
	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	var f [6]int
	for i := range f {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return time.Time{}, false
		}
		f[i] = v
	}
	if loc == nil {
		loc = time.Local
	}
	day, month, year, hour, minute, second := f[0], f[1], f[2], f[3], f[4], f[5]
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), true
}

// coerceNumber turns a loosely typed JSON value into a finite float64. Only JSON numbers and
// decimal numeric strings count. This is stricter than loose numeric casting: null and blank
// strings never read as 0 and true never reads as 1, so such a Temp drops the record instead of
// producing a zero reading. Hex integer text like "0x10" is rejected and containers never yield
// a value.
func coerceNumber(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

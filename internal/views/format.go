package views

import (
	"fmt"
	"html/template"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/sensor-dashboard/internal/sensor"
)

const (
	placeholder    = "--"
	dateTimeLayout = "02/01/2006 15:04:05"
)

var funcs = template.FuncMap{
	"currentTemp": currentTemp,
	"currentHum":  currentHum,
	"tableTemp":   tableTemp,
	"tableHum":    tableHum,
	"sequence":    sequence,
	"lastUpdate":  lastUpdate,
	"bucketRange": bucketRange,
	"historyURL":  historyURL,
	"dateTime":    dateTime,
}

// currentTemp formats the current-value card temperature with one decimal.
func currentTemp(p *sensor.Point) string {
	if p == nil {
		return placeholder
	}
	return strconv.FormatFloat(p.Temperature, 'f', 1, 64)
}

// currentHum formats the current-value card humidity with one decimal and a percent sign.
func currentHum(p *sensor.Point) string {
	if p == nil || p.Humidity == nil {
		return placeholder
	}
	return strconv.FormatFloat(*p.Humidity, 'f', 1, 64) + "%"
}

func tableTemp(v float64) string {
	return fmt.Sprintf("%.2f °C", v)
}

func tableHum(v *float64) string {
	if v == nil {
		return placeholder
	}
	return fmt.Sprintf("%.2f%%", *v)
}

// sequence prints the upstream counter the way it was sent: no trailing zeros.
func sequence(v *float64) string {
	if v == nil {
		return placeholder
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// lastUpdate prefers the board's own time text and falls back to the point timestamp.
func lastUpdate(p sensor.Point, loc *time.Location) string {
	if p.RawTime != nil {
		return *p.RawTime
	}
	return dateTime(p.Timestamp, loc)
}

func dateTime(ms int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc).Format(dateTimeLayout)
}

func bucketRange(b sensor.Bucket, loc *time.Location) string {
	return dateTime(b.Start, loc) + " → " + dateTime(b.End, loc)
}

func historyURL(page int) string {
	q := url.Values{}
	q.Set("tab", "history")
	q.Set("page", strconv.Itoa(page))
	return "/?" + q.Encode()
}

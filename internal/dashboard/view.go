package dashboard

import (
	"errors"
	"time"

	"github.com/kjstillabower/sensor-dashboard/internal/feed"
	"github.com/kjstillabower/sensor-dashboard/internal/sensor"
)

// LiveView is the data behind the live tab: the recent chart window and the current reading.
type LiveView struct {
	Connected      bool              `json:"connected"`
	Err            string            `json:"error,omitempty"`
	Chart          []sensor.ChartRow `json:"chart"`
	Current        *sensor.Point     `json:"current"`
	TotalPoints    int               `json:"totalPoints"`
	BucketCount    int               `json:"historyBuckets"`
	ChartMaxPoints int               `json:"chartMaxPoints"`
	BucketWidth    time.Duration     `json:"-"`
	Location       *time.Location    `json:"-"`
}

// HistoryView is the data behind the history tab: one page of buckets plus the pager.
type HistoryView struct {
	Connected   bool           `json:"connected"`
	Err         string         `json:"error,omitempty"`
	Page        sensor.Page    `json:"page"`
	Pager       Pager          `json:"pager"`
	PageSize    int            `json:"pageSize"`
	BucketWidth time.Duration  `json:"-"`
	Location    *time.Location `json:"-"`
}

// Pager holds the targets of the First, Prev, Next and Last controls and the numbered items
// for one history page.
type Pager struct {
	Current int        `json:"current"`
	First   int        `json:"first"`
	Prev    int        `json:"prev"`
	Next    int        `json:"next"`
	Last    int        `json:"last"`
	AtFirst bool       `json:"atFirst"`
	AtLast  bool       `json:"atLast"`
	Items   []PageItem `json:"items"`
}

// NewPager derives the pager from the viewer's state on a list of totalPages pages.
func NewPager(v ViewState, totalPages int) Pager {
	v = v.GoToPage(v.Page, totalPages)
	return Pager{
		Current: v.Page,
		First:   v.First().Page,
		Prev:    v.Prev(totalPages).Page,
		Next:    v.Next(totalPages).Page,
		Last:    v.Last(totalPages).Page,
		AtFirst: v.AtFirst(),
		AtLast:  v.AtLast(totalPages),
		Items:   PageItems(totalPages, v.Page),
	}
}

// PageItem is one entry of the numbered pager: a page number or an ellipsis gap.
type PageItem struct {
	Page     int  `json:"page,omitempty"`
	Ellipsis bool `json:"ellipsis,omitempty"`
}

// pagerWindow is how many pages either side of the current one are listed.
const pagerWindow = 2

// PageItems returns page numbers and ellipses for the pager. Page 1 and the last page are
// always listed; gaps between listed pages collapse into one ellipsis.
func PageItems(totalPages, currentPage int) []PageItem {
	if totalPages <= 0 {
		return nil
	}
	show := map[int]bool{1: true, totalPages: true}
	for p := currentPage - pagerWindow; p <= currentPage+pagerWindow; p++ {
		if p >= 1 && p <= totalPages {
			show[p] = true
		}
	}
	var items []PageItem
	prev := 0
	for p := 1; p <= totalPages; p++ {
		if !show[p] {
			continue
		}
		if prev != 0 && p > prev+1 {
			items = append(items, PageItem{Ellipsis: true})
		}
		items = append(items, PageItem{Page: p})
		prev = p
	}
	return items
}

// FailureMessage turns a subscription error into the text shown in the error card.
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}
	var hint string
	switch {
	case errors.Is(err, feed.ErrUnauthorized):
		hint = "Permission denied reading the sensor feed"
	case errors.Is(err, feed.ErrAuthRevoked):
		hint = "Feed credentials were revoked"
	case errors.Is(err, feed.ErrNotFound):
		hint = "Sensor feed path does not exist"
	case errors.Is(err, feed.ErrCancelled):
		hint = "Feed server cancelled the subscription"
	case errors.Is(err, feed.ErrConnectionLost):
		hint = "Lost connection to the sensor feed"
	default:
		hint = "Sensor feed subscription failed"
	}
	return hint + ": " + err.Error()
}

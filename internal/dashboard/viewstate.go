package dashboard

import "github.com/kjstillabower/sensor-dashboard/internal/sensor"

// Tab selects which view is shown.
type Tab string

const (
	TabLive    Tab = "live"
	TabHistory Tab = "history"
)

// ViewState is the viewer's navigation state. Every transition returns a new value and keeps
// Page within [1, totalPages] when totalPages is given.
type ViewState struct {
	Tab  Tab
	Page int
}

// DefaultViewState is the state of a fresh viewer: live tab, first page.
func DefaultViewState() ViewState {
	return ViewState{Tab: TabLive, Page: 1}
}

// SelectTab switches tabs. The page is kept so returning to history lands where the viewer was.
func (v ViewState) SelectTab(t Tab) ViewState {
	v.Tab = t
	return v
}

// GoToPage moves to page p, clamped.
func (v ViewState) GoToPage(p, totalPages int) ViewState {
	v.Page = sensor.ClampPage(p, totalPages)
	return v
}

// First moves to page 1.
func (v ViewState) First() ViewState {
	v.Page = 1
	return v
}

// Prev moves one page back, stopping at 1.
func (v ViewState) Prev(totalPages int) ViewState {
	return v.GoToPage(v.Page-1, totalPages)
}

// Next moves one page forward, stopping at totalPages.
func (v ViewState) Next(totalPages int) ViewState {
	return v.GoToPage(v.Page+1, totalPages)
}

// Last moves to the final page.
func (v ViewState) Last(totalPages int) ViewState {
	return v.GoToPage(totalPages, totalPages)
}

// Converge pulls a page that ran past totalPages (the bucket list shrank) back to totalPages.
// It reports whether the state changed; callers re-render with the new value before showing
// anything.
func (v ViewState) Converge(totalPages int) (ViewState, bool) {
	next := v.GoToPage(v.Page, totalPages)
	return next, next != v
}

// AtFirst reports whether First and Prev are no-ops.
func (v ViewState) AtFirst() bool {
	return v.Page <= 1
}

// AtLast reports whether Next and Last are no-ops.
func (v ViewState) AtLast(totalPages int) bool {
	return v.Page >= totalPages
}

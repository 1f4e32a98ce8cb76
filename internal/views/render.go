// Package views renders the dashboard page and the live chart.
package views

import (
	"errors"
	"html/template"
	"io"
	"io/fs"
	"time"

	"github.com/kjstillabower/sensor-dashboard/internal/dashboard"
)

var dashboardTmpl *template.Template

// loadTemplatesFromFS loads dashboard templates from the given fs and dir.
// Used by LoadTemplates and by tests to simulate failure scenarios.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	tmpl, err := template.New("dashboard").Funcs(funcs).ParseFS(sub, "*.html")
	if err != nil {
		return err
	}
	dashboardTmpl = tmpl
	return nil
}

// LoadTemplates loads embedded dashboard templates. Call during startup before
// serving requests; if it returns an error, do not start the server.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// DashboardData is the view model for the dashboard page. Exactly one of Live and History is
// set, matching Tab.
type DashboardData struct {
	Tab       dashboard.Tab
	FeedName  string
	Connected bool
	Err       string
	Live      *dashboard.LiveView
	History   *dashboard.HistoryView
	Location  *time.Location
	// RefreshSeconds, when positive, makes the live tab reload itself.
	RefreshSeconds int
}

// BucketMinutes is the bucket width shown in badges.
func (d *DashboardData) BucketMinutes() int {
	var w time.Duration
	switch {
	case d.Live != nil:
		w = d.Live.BucketWidth
	case d.History != nil:
		w = d.History.BucketWidth
	}
	if w < time.Minute {
		return 1
	}
	return int(w / time.Minute)
}

// RenderDashboard executes the full page into w.
func RenderDashboard(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "dashboard.html", data)
}

package views

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"iotdrone-monitor/internal/modules/sensors/types"
)

const (
	chartWidth  = 600
	chartHeight = 160
)

var dashboardTmpl *template.Template

var funcs = template.FuncMap{
	"fixed1":    func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) },
	"polyline":  polyline,
	"chartSize": func() [2]int { return [2]int{chartWidth, chartHeight} },
}

// loadTemplatesFromFS loads dashboard templates from the given fs and dir.
// Used by LoadTemplates and by tests to simulate failure scenarios.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	tmpl, err := template.New("dashboard").Funcs(funcs).ParseFS(sub, "*.html", "partials/*.html")
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

type DashboardData struct {
	Source         string
	Capacity       int
	RefreshSeconds int
	// Frame is nil until the first cycle completes.
	Frame *types.Frame
}

func RenderDashboard(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "dashboard.html", data)
}

// RenderLivePartial executes only the live values partial into w. live may be nil.
func RenderLivePartial(w io.Writer, live *types.Live) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "partials/live.html", live)
}

// polyline maps a series onto SVG coordinates, oldest on the left. The value
// axis is scaled to the series' own range.
func polyline(points []types.Point) string {
	if len(points) == 0 {
		return ""
	}
	lo, hi := points[0].Value, points[0].Value
	for _, p := range points[1:] {
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}
	span := hi - lo
	step := 0.0
	if len(points) > 1 {
		step = float64(chartWidth) / float64(len(points)-1)
	}

	var b strings.Builder
	for i, p := range points {
		y := float64(chartHeight) / 2
		if span > 0 {
			y = float64(chartHeight) - (p.Value-lo)/span*float64(chartHeight)
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%.1f,%.1f", float64(i)*step, y)
	}
	return b.String()
}

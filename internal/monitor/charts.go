package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/facetrack/internal/tracking"
)

// handleBlendShapeChart renders current blend shape weights as a bar chart,
// one chart per group. ?group= limits the page to a single group.
func (ws *WebServer) handleBlendShapeChart(w http.ResponseWriter, r *http.Request) {
	snap := ws.tracker.Snapshot()
	only := r.URL.Query().Get("group")

	order := []string{}
	byGroup := map[string][]tracking.BlendShapeSample{}
	for _, s := range snap.BlendShapes {
		if only != "" && s.Group != only {
			continue
		}
		if _, ok := byGroup[s.Group]; !ok {
			order = append(order, s.Group)
		}
		byGroup[s.Group] = append(byGroup[s.Group], s)
	}
	if len(order) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no blend shapes in group %q", only))
		return
	}

	page := components.NewPage()
	page.PageTitle = "facetrack blend shapes"
	for _, group := range order {
		page.AddCharts(blendShapeBar(group, byGroup[group], snap.Time))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func blendShapeBar(group string, shapes []tracking.BlendShapeSample, at time.Time) *charts.Bar {
	title := group
	if title == "" {
		title = "Ungrouped"
	}

	x := make([]string, len(shapes))
	weights := make([]opts.BarData, len(shapes))
	targets := make([]opts.BarData, len(shapes))
	for i, s := range shapes {
		x[i] = s.Name
		weights[i] = opts.BarData{Value: s.Weight}
		targets[i] = opts.BarData{Value: s.Target}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: at.Format(time.RFC3339Nano)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	bar.SetXAxis(x).
		AddSeries("weight", weights).
		AddSeries("target", targets)
	return bar
}

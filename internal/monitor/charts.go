package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/vrtrack/internal/monitoring"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleFrameTimingChart renders the recent frame durations as a line chart,
// with the frame budget at the current refresh rate as a reference line.
func (ws *WebServer) handleFrameTimingChart(w http.ResponseWriter, r *http.Request) {
	timings := ws.engine.RecentTimings()
	budgetUs := ws.engine.Settings().FrameInterval() * 1e6

	labels := make([]string, 0, len(timings))
	durations := make([]opts.LineData, 0, len(timings))
	budget := make([]opts.LineData, 0, len(timings))
	untracked := make([]opts.LineData, 0, len(timings))
	for _, t := range timings {
		labels = append(labels, strconv.FormatUint(t.Sequence, 10))
		durations = append(durations, opts.LineData{Value: float64(t.Duration) / float64(time.Microsecond)})
		budget = append(budget, opts.LineData{Value: budgetUs})
		untracked = append(untracked, opts.LineData{Value: t.Untracked})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Frame Timing", Theme: "dark", Width: "1100px", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Frame duration",
			Subtitle: fmt.Sprintf("session=%s frames=%d budget=%.0fus", ws.engine.SessionID(), len(timings), budgetUs),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sequence"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "us"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)
	line.SetXAxis(labels).
		AddSeries("duration_us", durations).
		AddSeries("budget_us", budget).
		AddSeries("untracked", untracked)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		monitoring.Logf("[Monitor] failed to render frame timing chart: %v", err)
		http.Error(w, "failed to render chart", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

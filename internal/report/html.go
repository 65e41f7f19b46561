package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/motion.watch/internal/scene/activity"
	"github.com/banshee-data/motion.watch/internal/scene/anomaly"
	"github.com/banshee-data/motion.watch/internal/scene/pipeline"
)

var severities = []anomaly.Severity{anomaly.Low, anomaly.Medium, anomaly.High}

// RenderHTML writes a self-contained go-echarts page for the run.
func RenderHTML(w io.Writer, s pipeline.Summary) error {
	page := components.NewPage()
	page.SetPageTitle("motion.watch report")
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		activityBar(s),
		severityPie(s),
		objectCountLine(s),
		anomalyTimeline(s),
	)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}

// WriteHTML renders the page to path.
func WriteHTML(path string, s pipeline.Summary) error {
	return writeFile(path, func(w io.Writer) error { return RenderHTML(w, s) })
}

func initOpts() opts.Initialization {
	return opts.Initialization{Width: "900px", Height: "420px"}
}

func activityBar(s pipeline.Summary) *charts.Bar {
	x := make([]string, 0, len(activity.Labels))
	y := make([]opts.BarData, 0, len(activity.Labels))
	for _, a := range activity.Labels {
		x = append(x, string(a))
		y = append(y, opts.BarData{Value: s.ActivityStats.Counts[a]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts()),
		charts.WithTitleOpts(opts.Title{Title: "Activities", Subtitle: fmt.Sprintf("tracks=%d", s.ActivityStats.TotalTracks)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("samples", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func severityPie(s pipeline.Summary) *charts.Pie {
	data := make([]opts.PieData, 0, len(severities))
	for _, sev := range severities {
		n := s.AnomalyStats.BySeverity[sev]
		if n == 0 {
			continue
		}
		data = append(data, opts.PieData{
			Name:      string(sev),
			Value:     n,
			ItemStyle: &opts.ItemStyle{Color: sev.Color()},
		})
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts()),
		charts.WithTitleOpts(opts.Title{Title: "Anomaly severity", Subtitle: fmt.Sprintf("total=%d", s.AnomalyStats.Total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	pie.AddSeries("severity", data,
		charts.WithPieChartOpts(opts.PieChart{Radius: []string{"35%", "65%"}}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {c}"}),
	)
	return pie
}

func objectCountLine(s pipeline.Summary) *charts.Line {
	ds := s.DetectionStats
	y := make([]opts.LineData, len(ds.ObjectCounts))
	for i, n := range ds.ObjectCounts {
		y[i] = opts.LineData{Value: n}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts()),
		charts.WithTitleOpts(opts.Title{Title: "Confirmed objects per frame", Subtitle: fmt.Sprintf("frames=%d detections=%d", s.TotalFrames, ds.Detections)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Objects", MinInterval: 1}),
	)
	line.SetXAxis(ds.Frames).AddSeries("objects", y)
	return line
}

// anomalyTimeline plots one point per anomaly at (timestamp, type), one
// series per severity.
func anomalyTimeline(s pipeline.Summary) *charts.Scatter {
	kinds := make([]string, len(anomaly.Kinds))
	for i, k := range anomaly.Kinds {
		kinds[i] = string(k)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts()),
		charts.WithTitleOpts(opts.Title{Title: "Anomaly timeline"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: kinds}),
	)
	for _, sev := range severities {
		pts := make([]opts.ScatterData, 0)
		for _, e := range s.AnomalyStats.Timeline {
			if e.Severity == sev {
				pts = append(pts, opts.ScatterData{Value: []interface{}{e.Seconds, string(e.Type)}})
			}
		}
		scatter.AddSeries(string(sev), pts,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: sev.Color()}),
		)
	}
	return scatter
}

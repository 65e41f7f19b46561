package report

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/motion.watch/internal/scene/anomaly"
	"github.com/banshee-data/motion.watch/internal/scene/pipeline"
)

// TimelinePlot builds the object-count timeline with anomalies overlaid at
// the frame they fired, coloured by severity.
func TimelinePlot(s pipeline.Summary) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Scene timeline (%d frames, %d anomalies)", s.TotalFrames, s.Totals.Anomalies)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Confirmed objects"

	counts := make(plotter.XYs, 0, len(s.Frames))
	marks := make(map[anomaly.Severity]plotter.XYs)
	for _, f := range s.Frames {
		counts = append(counts, plotter.XY{X: f.Timestamp, Y: float64(f.TrackCount)})
		for _, a := range f.Anomalies {
			marks[a.Severity] = append(marks[a.Severity], plotter.XY{X: f.Timestamp, Y: float64(f.TrackCount)})
		}
	}

	if len(counts) > 0 {
		line, err := plotter.NewLine(counts)
		if err != nil {
			return nil, fmt.Errorf("object count line: %w", err)
		}
		line.Width = vg.Points(1)
		line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		p.Add(line)
		p.Legend.Add("objects", line)
	}

	for _, sev := range severities {
		pts := marks[sev]
		if len(pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("%s anomaly markers: %w", sev, err)
		}
		c, err := hexColor(sev.Color())
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = c
		sc.GlyphStyle.Radius = vg.Points(3)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add(string(sev), sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// PlotTimeline saves the timeline to path. The image format follows the
// file extension (png, svg, pdf).
func PlotTimeline(path string, s pipeline.Summary) error {
	p, err := TimelinePlot(s)
	if err != nil {
		return err
	}
	if filepath.Ext(path) == "" {
		path += ".png"
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save timeline plot: %w", err)
	}
	return nil
}

func hexColor(s string) (color.RGBA, error) {
	var r, g, b uint8
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b); err != nil {
		return color.RGBA{}, fmt.Errorf("parse colour %q: %w", s, err)
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

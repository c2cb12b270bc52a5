package main

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/palpation/internal/palpation"
)

var (
	colorPath   = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	colorCell   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	colorTarget = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	colorForce  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// plotRaster draws the cells in visit order, in millimetres from home.
func plotRaster(cells []r3.Vec, home r3.Vec, path string) error {
	if len(cells) == 0 {
		return errors.New("raster has no cells")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Palpation raster (%d cells)", len(cells))
	p.X.Label.Text = "y offset (mm)"
	p.Y.Label.Text = "x offset (mm)"

	pts := make(plotter.XYs, len(cells))
	for i, c := range cells {
		pts[i] = plotter.XY{X: (c.Y - home.Y) * 1000, Y: (c.X - home.X) * 1000}
	}

	order, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	order.Color = colorPath
	order.Width = vg.Points(0.5)
	order.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(2.5)
	scatter.GlyphStyle.Color = colorCell

	p.Add(plotter.NewGrid(), order, scatter)
	p.Legend.Add("visit order", order)
	p.Legend.Add("cell", scatter)
	p.Legend.Top = true

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save raster plot: %w", err)
	}
	return nil
}

// plotHeights draws current and target z against elapsed time.
func plotHeights(records []palpation.Record, path string) error {
	current := make(plotter.XYs, len(records))
	target := make(plotter.XYs, len(records))
	for i, r := range records {
		current[i] = plotter.XY{X: r.Elapsed, Y: r.CurrentZ * 1000}
		target[i] = plotter.XY{X: r.Elapsed, Y: r.TargetZ * 1000}
	}
	return savePlot("Probe height", "z (mm)", path,
		series{"current z", current, colorCell},
		series{"target z", target, colorTarget})
}

// plotForce draws the bias-corrected z force against elapsed time.
func plotForce(records []palpation.Record, path string) error {
	force := make(plotter.XYs, len(records))
	for i, r := range records {
		force[i] = plotter.XY{X: r.Elapsed, Y: r.ForceZ}
	}
	return savePlot("Contact force", "fz (N)", path, series{"force z", force, colorForce})
}

type series struct {
	name  string
	pts   plotter.XYs
	color color.Color
}

func savePlot(title, ylabel, path string, lines ...series) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "elapsed (s)"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	for _, s := range lines {
		if len(s.pts) == 0 {
			return fmt.Errorf("%s: no samples", s.name)
		}
		l, err := plotter.NewLine(s.pts)
		if err != nil {
			return err
		}
		l.Color = s.color
		l.Width = vg.Points(1)
		p.Add(l)
		p.Legend.Add(s.name, l)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save %s plot: %w", title, err)
	}
	return nil
}

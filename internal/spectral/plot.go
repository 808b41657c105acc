package spectral

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveSpectrumPlot renders the magnitude spectrum to an image file. The format
// follows the file extension (png, svg, pdf).
func SaveSpectrumPlot(spec *Spectrum, path string) error {
	if spec == nil || len(spec.Frequencies) == 0 {
		return fmt.Errorf("no spectrum to plot")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Doppler spectrum %s", spec.At.Format("2006-01-02 15:04:05.000"))
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Magnitude"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(spec.Frequencies))
	for i := range spec.Frequencies {
		pts[i] = plotter.XY{X: spec.Frequencies[i], Y: spec.Magnitudes[i]}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to create spectrum line: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	p.Add(line)

	peak, err := plotter.NewScatter(plotter.XYs{{
		X: spec.Frequencies[spec.Dominant],
		Y: spec.Magnitudes[spec.Dominant],
	}})
	if err != nil {
		return fmt.Errorf("failed to create peak marker: %w", err)
	}
	peak.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	peak.Radius = vg.Points(3)
	p.Add(peak)
	p.Legend.Add(fmt.Sprintf("peak %.2f Hz", spec.Frequencies[spec.Dominant]), peak)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save spectrum plot: %w", err)
	}
	return nil
}

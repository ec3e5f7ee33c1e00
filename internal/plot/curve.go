package plot

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Point is one evaluated training step.
type Point struct {
	Step  int
	Train float64
	Test  float64
}

// LossCurve plots train and test loss against the step number and saves
// the figure to filename. The format follows the file extension.
func LossCurve(filename, title string, points []Point) error {
	if len(points) == 0 {
		return fmt.Errorf("no points to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Loss"
	p.Add(plotter.NewGrid())

	train := make(plotter.XYs, len(points))
	test := make(plotter.XYs, len(points))
	for i, pt := range points {
		train[i].X, train[i].Y = float64(pt.Step), pt.Train
		test[i].X, test[i].Y = float64(pt.Step), pt.Test
	}

	if err := plotutil.AddLinePoints(p, "train", train, "test", test); err != nil {
		return fmt.Errorf("failed to add loss lines: %w", err)
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, filename); err != nil {
		return fmt.Errorf("failed to save %s: %w", filename, err)
	}
	return nil
}

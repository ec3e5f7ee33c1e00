// Package plot renders model samples and training curves to PNG files.
package plot

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Options controls how images are tiled.
type Options struct {
	// Side is the width and height of a square source image (28 for MNIST).
	Side int
	// Scale is the integer upscaling factor applied to every pixel.
	Scale int
	// Padding is the number of background pixels between tiles.
	Padding int
}

// DefaultOptions are used for sample grids.
var DefaultOptions = Options{Side: 28, Scale: 2, Padding: 4}

// Grid tiles images row-major into a grid with cols columns. Pixel values
// are clamped to [0, 1] and drawn white-on-black. If labels is not nil it
// must hold one label per image; each is drawn in the top-left corner of
// its tile.
func Grid(images [][]float64, labels []string, cols int, opts Options) (*image.Gray, error) {
	if labels != nil && len(labels) != len(images) {
		return nil, fmt.Errorf("got %d labels for %d images", len(labels), len(images))
	}
	img, err := tile(images, cols, opts)
	if err != nil {
		return nil, err
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
	}
	metrics := d.Face.Metrics()
	for i, label := range labels {
		if label == "" {
			continue
		}
		x, y := tileOrigin(i, cols, opts)
		width := d.MeasureString(label).Ceil()
		height := (metrics.Ascent + metrics.Descent).Ceil()
		draw.Draw(img, image.Rect(x, y, x+width+2, y+height), image.White, image.Point{}, draw.Src)
		d.Dot = fixed.P(x+1, y+metrics.Ascent.Ceil())
		d.DrawString(label)
	}
	return img, nil
}

// Canvas tiles n*n images into a single image without padding or labels,
// as used for latent-space manifolds.
func Canvas(images [][]float64, n int, side int) (*image.Gray, error) {
	if len(images) != n*n {
		return nil, fmt.Errorf("canvas of %dx%d needs %d images, got %d", n, n, n*n, len(images))
	}
	return tile(images, n, Options{Side: side, Scale: 1})
}

func tile(images [][]float64, cols int, opts Options) (*image.Gray, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no images to plot")
	}
	if cols <= 0 {
		return nil, fmt.Errorf("columns must be positive, got %d", cols)
	}
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	n := opts.Side * opts.Side
	for i, im := range images {
		if len(im) != n {
			return nil, fmt.Errorf("image %d has %d pixels, want %d", i, len(im), n)
		}
	}

	if cols > len(images) {
		cols = len(images)
	}
	rows := (len(images) + cols - 1) / cols
	cell := opts.Side*opts.Scale + opts.Padding
	img := image.NewGray(image.Rect(0, 0, cols*cell-opts.Padding, rows*cell-opts.Padding))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	for i, im := range images {
		x0, y0 := tileOrigin(i, cols, opts)
		for p, v := range im {
			c := color.Gray{Y: toByte(v)}
			px, py := x0+(p%opts.Side)*opts.Scale, y0+(p/opts.Side)*opts.Scale
			for dy := 0; dy < opts.Scale; dy++ {
				for dx := 0; dx < opts.Scale; dx++ {
					img.SetGray(px+dx, py+dy, c)
				}
			}
		}
	}
	return img, nil
}

func tileOrigin(i, cols int, opts Options) (int, int) {
	scale := opts.Scale
	if scale <= 0 {
		scale = 1
	}
	cell := opts.Side*scale + opts.Padding
	return (i % cols) * cell, (i / cols) * cell
}

func toByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// SavePNG writes img to filename.
func SavePNG(filename string, img image.Image) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	return nil
}

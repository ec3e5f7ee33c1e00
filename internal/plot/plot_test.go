package plot

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constImage(side int, v float64) []float64 {
	img := make([]float64, side*side)
	for i := range img {
		img[i] = v
	}
	return img
}

func TestGridLayout(t *testing.T) {
	images := [][]float64{constImage(4, 0), constImage(4, 1), constImage(4, 0.5)}
	opts := Options{Side: 4, Scale: 2, Padding: 1}

	img, err := Grid(images, nil, 2, opts)
	require.NoError(t, err)

	// two columns of 8px tiles with 1px padding, two rows
	assert.Equal(t, 17, img.Bounds().Dx())
	assert.Equal(t, 17, img.Bounds().Dy())
	assert.Equal(t, uint8(0), img.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), img.GrayAt(8, 0).Y, "padding is white")
	assert.Equal(t, uint8(255), img.GrayAt(9, 7).Y)
	assert.Equal(t, uint8(128), img.GrayAt(3, 12).Y)
}

func TestGridLabels(t *testing.T) {
	images := [][]float64{constImage(28, 0), constImage(28, 0)}
	plain, err := Grid(images, nil, 2, DefaultOptions)
	require.NoError(t, err)
	labelled, err := Grid(images, []string{"7", ""}, 2, DefaultOptions)
	require.NoError(t, err)

	assert.NotEqual(t, plain.Pix, labelled.Pix)
	// the unlabelled tile is untouched
	x0 := 28*DefaultOptions.Scale + DefaultOptions.Padding
	assert.Equal(t, plain.GrayAt(x0+1, 1), labelled.GrayAt(x0+1, 1))

	_, err = Grid(images, []string{"only one"}, 2, DefaultOptions)
	assert.Error(t, err)
}

func TestGridErrors(t *testing.T) {
	_, err := Grid(nil, nil, 4, DefaultOptions)
	assert.Error(t, err)
	_, err = Grid([][]float64{constImage(28, 0)}, nil, 0, DefaultOptions)
	assert.Error(t, err)
	_, err = Grid([][]float64{{1, 2, 3}}, nil, 1, DefaultOptions)
	assert.Error(t, err)
}

func TestCanvas(t *testing.T) {
	images := make([][]float64, 9)
	for i := range images {
		images[i] = constImage(2, float64(i)/8)
	}
	img, err := Canvas(images, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())
	assert.Equal(t, uint8(0), img.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), img.GrayAt(5, 5).Y)

	_, err = Canvas(images[:8], 3, 2)
	assert.Error(t, err)
}

func TestSavePNG(t *testing.T) {
	img, err := Grid([][]float64{constImage(28, 1)}, []string{"3"}, 1, DefaultOptions)
	require.NoError(t, err)

	filename := filepath.Join(t.TempDir(), "NB_0.png")
	require.NoError(t, SavePNG(filename, img))

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}

func TestLossCurve(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "loss.png")
	points := []Point{
		{Step: 0, Train: 540, Test: 545},
		{Step: 100, Train: 210, Test: 214},
		{Step: 200, Train: 180, Test: 183},
	}
	require.NoError(t, LossCurve(filename, "Naive Bayes", points))
	assert.FileExists(t, filename)

	assert.Error(t, LossCurve(filename, "empty", nil))
}

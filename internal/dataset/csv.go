package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/gonum/floats"
)

// LoadCSV loads images from a CSV file with one image per row.
// labelCol is the index of the integer label column, or -1 when the file
// has no labels. All other columns are pixels. Files whose pixel values
// exceed 1 are treated as 0-255 greyscale and rescaled to [0, 1].
// hasHeader skips the first line if true. Images are assumed square.
func LoadCSV(filename string, labelCol int, hasHeader bool) (*Set, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.ReuseRecord = true

	var (
		images [][]float64
		labels []int
		row    int
		maxVal float64
	)
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		row++
		if hasHeader && row == 1 {
			continue
		}

		img := make([]float64, 0, len(record))
		for j, valStr := range record {
			val, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse value at row %d, col %d: %w", row, j, err)
			}
			if j == labelCol {
				labels = append(labels, int(val))
				continue
			}
			img = append(img, val)
		}
		if len(img) == 0 {
			return nil, fmt.Errorf("row %d has no pixel columns", row)
		}
		if len(images) > 0 && len(img) != len(images[0]) {
			return nil, fmt.Errorf("inconsistent number of columns at row %d", row)
		}
		maxVal = math.Max(maxVal, floats.Max(img))
		images = append(images, img)
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("%s: %w", filename, ErrEmpty)
	}

	if maxVal > 1 {
		for _, img := range images {
			floats.Scale(1.0/255.0, img)
		}
	}

	side := int(math.Sqrt(float64(len(images[0]))))
	return &Set{Images: images, Labels: labels, Rows: side, Cols: side}, nil
}

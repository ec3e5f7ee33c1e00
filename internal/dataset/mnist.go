// Package dataset loads MNIST images and serves them as repeating minibatches.
package dataset

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultBaseURL hosts the four MNIST IDX archives.
	DefaultBaseURL = "https://ossci-datasets.s3.amazonaws.com/mnist/"

	TrainImagesFile = "train-images-idx3-ubyte.gz"
	TrainLabelsFile = "train-labels-idx1-ubyte.gz"
	TestImagesFile  = "t10k-images-idx3-ubyte.gz"
	TestLabelsFile  = "t10k-labels-idx1-ubyte.gz"

	imagesMagic = 2051
	labelsMagic = 2049

	// DefaultValidationSize is the number of training images held out
	// from the end of the training file.
	DefaultValidationSize = 5000
)

var (
	// ErrBadMagic is returned when an IDX header has an unexpected magic number.
	ErrBadMagic = errors.New("invalid IDX magic number")
	// ErrBadHeader is returned when IDX dimensions are negative or too large.
	ErrBadHeader = errors.New("invalid IDX header")
	// ErrEmpty is returned when a source yields no samples.
	ErrEmpty = errors.New("dataset is empty")
)

// Set is a collection of flattened images with optional integer labels.
type Set struct {
	Images [][]float64
	Labels []int
	Rows   int
	Cols   int
}

// Len returns the number of images.
func (s *Set) Len() int {
	return len(s.Images)
}

// Dims returns the flattened image size.
func (s *Set) Dims() int {
	if len(s.Images) == 0 {
		return 0
	}
	return len(s.Images[0])
}

// Binarize maps every pixel to 1 if it is strictly above threshold, else 0.
func (s *Set) Binarize(threshold float64) {
	for _, img := range s.Images {
		for j, v := range img {
			if v > threshold {
				img[j] = 1
			} else {
				img[j] = 0
			}
		}
	}
}

// MeanPixel returns the mean pixel intensity over every image. After
// binarization this is the fraction of pixels that are on.
func (s *Set) MeanPixel() float64 {
	if len(s.Images) == 0 {
		return 0
	}
	var sum float64
	for _, img := range s.Images {
		sum += stat.Mean(img, nil)
	}
	return sum / float64(len(s.Images))
}

// Slice returns the sub-set [from, to) sharing image memory with s.
func (s *Set) Slice(from, to int) *Set {
	out := &Set{Images: s.Images[from:to], Rows: s.Rows, Cols: s.Cols}
	if s.Labels != nil {
		out.Labels = s.Labels[from:to]
	}
	return out
}

// MNIST holds the standard train/validation/test split.
type MNIST struct {
	Train      *Set
	Validation *Set
	Test       *Set
}

// Options configure LoadMNIST.
type Options struct {
	// BaseURL is where missing archives are downloaded from.
	BaseURL string
	// ValidationSize images are taken from the end of the training file.
	ValidationSize int
	// Binarize applies Set.Binarize(0.5) to every split.
	Binarize bool
	// Client performs downloads; http.DefaultClient when nil.
	Client *http.Client
}

// LoadMNIST ensures the archives exist in dir, downloading any that are
// missing, and parses them.
func LoadMNIST(ctx context.Context, dir string, opts Options) (*MNIST, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	for _, f := range []string{TrainImagesFile, TrainLabelsFile, TestImagesFile, TestLabelsFile} {
		if err := downloadFile(ctx, opts.Client, opts.BaseURL+f, filepath.Join(dir, f)); err != nil {
			return nil, fmt.Errorf("download %s: %w", f, err)
		}
	}

	train, err := loadSet(filepath.Join(dir, TrainImagesFile), filepath.Join(dir, TrainLabelsFile))
	if err != nil {
		return nil, fmt.Errorf("train set: %w", err)
	}
	test, err := loadSet(filepath.Join(dir, TestImagesFile), filepath.Join(dir, TestLabelsFile))
	if err != nil {
		return nil, fmt.Errorf("test set: %w", err)
	}

	if opts.Binarize {
		train.Binarize(0.5)
		test.Binarize(0.5)
	}

	val := opts.ValidationSize
	if val < 0 || val >= train.Len() {
		return nil, fmt.Errorf("validation size %d out of range for %d training images", val, train.Len())
	}
	cut := train.Len() - val

	m := &MNIST{
		Train:      train.Slice(0, cut),
		Validation: train.Slice(cut, train.Len()),
		Test:       test,
	}
	log.Info().
		Int("train", m.Train.Len()).
		Int("validation", m.Validation.Len()).
		Int("test", m.Test.Len()).
		Bool("binarized", opts.Binarize).
		Msg("loaded MNIST")
	return m, nil
}

func loadSet(imagesPath, labelsPath string) (*Set, error) {
	set, err := openGzip(imagesPath, ReadImages)
	if err != nil {
		return nil, err
	}
	labels, err := openGzip(labelsPath, ReadLabels)
	if err != nil {
		return nil, err
	}
	if len(labels) != set.Len() {
		return nil, fmt.Errorf("%d labels for %d images", len(labels), set.Len())
	}
	set.Labels = labels
	return set, nil
}

func openGzip[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	var zero T
	file, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer file.Close()

	gz, err := gzip.NewReader(bufio.NewReader(file))
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	defer gz.Close()

	v, err := read(gz)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// maxImagePixels bounds rows*cols so a corrupt header cannot force a huge
// allocation before any pixel is read.
const maxImagePixels = 1 << 20

func readMagic(r io.Reader, want int32) error {
	var magic int32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if magic != want {
		return fmt.Errorf("%w: %d", ErrBadMagic, magic)
	}
	return nil
}

// ReadImages parses an uncompressed IDX3 image stream, scaling pixels to [0, 1].
func ReadImages(r io.Reader) (*Set, error) {
	if err := readMagic(r, imagesMagic); err != nil {
		return nil, err
	}
	var header struct {
		Count, Rows, Cols int32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header.Count < 0 || header.Rows <= 0 || header.Cols <= 0 {
		return nil, fmt.Errorf("%w: %d images of %dx%d", ErrBadHeader, header.Count, header.Rows, header.Cols)
	}
	if header.Count == 0 {
		return nil, ErrEmpty
	}
	pixelCount := int(header.Rows) * int(header.Cols)
	if pixelCount > maxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d images", ErrBadHeader, header.Rows, header.Cols)
	}

	// Images are appended as they arrive; Count is not trusted for allocation.
	pixels := make([]byte, pixelCount)
	var images [][]float64
	for i := 0; i < int(header.Count); i++ {
		if _, err := io.ReadFull(r, pixels); err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		img := make([]float64, pixelCount)
		for j, p := range pixels {
			img[j] = float64(p) / 255.0
		}
		images = append(images, img)
	}

	return &Set{Images: images, Rows: int(header.Rows), Cols: int(header.Cols)}, nil
}

// ReadLabels parses an uncompressed IDX1 label stream.
func ReadLabels(r io.Reader) ([]int, error) {
	if err := readMagic(r, labelsMagic); err != nil {
		return nil, err
	}
	var count int32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: %d labels", ErrBadHeader, count)
	}

	var raw bytes.Buffer
	if _, err := io.CopyN(&raw, r, int64(count)); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	labels := make([]int, raw.Len())
	for i, b := range raw.Bytes() {
		labels[i] = int(b)
	}
	return labels, nil
}

func downloadFile(ctx context.Context, client *http.Client, url, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		log.Debug().Str("file", dest).Msg("file already exists")
		return nil
	}

	log.Info().Str("url", url).Msg("downloading")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	// Partial downloads never appear under dest.
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

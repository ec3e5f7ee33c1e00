package dataset

import "golang.org/x/exp/rand"

// Iterator yields fixed-size minibatches forever, wrapping around the end
// of the data. A batch that crosses the end continues from the start of
// the next pass, so every batch has exactly BatchSize rows.
type Iterator struct {
	images    [][]float64
	batchSize int
	order     []int
	pos       int
	epoch     int
	rng       *rand.Rand // nil disables shuffling
	batch     [][]float64
}

// NewIterator creates an iterator over images. When rng is non-nil the
// visiting order is reshuffled at the start of every pass.
func NewIterator(images [][]float64, batchSize int, rng *rand.Rand) *Iterator {
	if len(images) == 0 {
		panic("dataset: iterator over empty data")
	}
	if batchSize <= 0 {
		panic("dataset: batch size must be positive")
	}
	it := &Iterator{
		images:    images,
		batchSize: batchSize,
		order:     make([]int, len(images)),
		rng:       rng,
		batch:     make([][]float64, batchSize),
	}
	for i := range it.order {
		it.order[i] = i
	}
	it.shuffle()
	return it
}

// Next returns the next batch. The returned slice is reused by the next
// call; the rows alias the underlying images.
func (it *Iterator) Next() [][]float64 {
	for i := range it.batch {
		if it.pos == len(it.order) {
			it.pos = 0
			it.epoch++
			it.shuffle()
		}
		it.batch[i] = it.images[it.order[it.pos]]
		it.pos++
	}
	return it.batch
}

// Epoch returns the number of completed passes over the data.
func (it *Iterator) Epoch() int {
	return it.epoch
}

// BatchSize returns the number of rows per batch.
func (it *Iterator) BatchSize() int {
	return it.batchSize
}

func (it *Iterator) shuffle() {
	if it.rng == nil {
		return
	}
	it.rng.Shuffle(len(it.order), func(i, j int) {
		it.order[i], it.order[j] = it.order[j], it.order[i]
	})
}

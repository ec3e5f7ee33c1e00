package layer

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Initializer fills a weight matrix with fanIn inputs and fanOut outputs.
type Initializer func(weights []float64, fanIn, fanOut int, rng *rand.Rand)

// defaultRNG backs NewDense. rand.Rand is not safe for concurrent use.
var defaultRNG = rand.New(&lockedSource{src: rand.NewSource(uint64(time.Now().UnixNano()))})

type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Uint64()
}

func (s *lockedSource) Seed(seed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}

// GlorotUniform draws from U(-limit, limit) with limit = sqrt(6/(fanIn+fanOut)).
func GlorotUniform(weights []float64, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	u := distuv.Uniform{Min: -limit, Max: limit, Src: rng}
	for i := range weights {
		weights[i] = u.Rand()
	}
}

// VarianceScaling draws from a normal with variance 1/fanIn truncated at two
// standard deviations. The stddev is corrected for the truncation.
func VarianceScaling(weights []float64, fanIn, fanOut int, rng *rand.Rand) {
	const truncCorrection = 0.87962566103423978
	stddev := math.Sqrt(1.0/float64(fanIn)) / truncCorrection
	n := distuv.Normal{Mu: 0, Sigma: stddev, Src: rng}
	for i := range weights {
		v := n.Rand()
		for math.Abs(v) > 2*stddev {
			v = n.Rand()
		}
		weights[i] = v
	}
}

// Zeros sets every weight to zero.
func Zeros(weights []float64, fanIn, fanOut int, rng *rand.Rand) {
	for i := range weights {
		weights[i] = 0
	}
}

// InitializerByName resolves the initializer names accepted in configuration.
func InitializerByName(name string) (Initializer, error) {
	switch name {
	case "glorot_uniform", "":
		return GlorotUniform, nil
	case "variance_scaling":
		return VarianceScaling, nil
	case "zeros":
		return Zeros, nil
	default:
		return nil, fmt.Errorf("unknown initializer %q", name)
	}
}

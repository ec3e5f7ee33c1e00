// Package net provides the sequential network that the VAE encoder and
// decoder are built from. Snapshots of a network are gob-encodable.
package net

import (
	"fmt"
	"io"

	"github.com/FlavioCFOliveira/GoGenModels/internal/activations"
	"github.com/FlavioCFOliveira/GoGenModels/internal/layer"
	"github.com/FlavioCFOliveira/GoGenModels/internal/opt"
)

// Network is a collection of layers that can be forwarded and backwarded.
type Network struct {
	layers []layer.Layer
}

// New creates a new neural network with the given layers.
func New(layers ...layer.Layer) *Network {
	return &Network{layers: layers}
}

// Forward performs a forward pass through all layers.
// The returned slice is owned by the last layer and is overwritten by the
// next Forward call.
func (n *Network) Forward(x []float64) []float64 {
	curr := x
	for i := range n.layers {
		curr = n.layers[i].Forward(curr)
	}
	return curr
}

// Backward performs a backward pass through all layers, accumulating
// parameter gradients, and returns the gradient w.r.t. the input.
func (n *Network) Backward(grad []float64) []float64 {
	curr := grad
	for i := len(n.layers) - 1; i >= 0; i-- {
		curr = n.layers[i].Backward(curr)
	}
	return curr
}

// ZeroGrad clears accumulated gradients in every layer.
func (n *Network) ZeroGrad() {
	for _, l := range n.layers {
		l.ZeroGrad()
	}
}

// Step scales every layer's accumulated gradients by scale and applies one
// optimizer update. Layer i uses optimizer group groupBase+i, so several
// networks can share an optimizer with disjoint group ranges.
func (n *Network) Step(o opt.Optimizer, groupBase int, scale float64) {
	for i, l := range n.layers {
		params := l.Params()
		if len(params) == 0 {
			continue
		}
		grads := l.Gradients()
		if scale != 1 {
			for j := range grads {
				grads[j] *= scale
			}
		}
		o.StepInPlace(groupBase+i, params, grads)
	}
}

// NumGroups returns the number of optimizer groups Step uses.
func (n *Network) NumGroups() int {
	return len(n.layers)
}

// SetTraining switches layers that behave differently at inference time.
func (n *Network) SetTraining(training bool) {
	for _, l := range n.layers {
		if d, ok := l.(*layer.Dropout); ok {
			d.SetTraining(training)
		}
	}
}

// Clone returns a deep copy suitable for use on another goroutine.
func (n *Network) Clone() *Network {
	layers := make([]layer.Layer, len(n.layers))
	for i, l := range n.layers {
		layers[i] = l.Clone()
	}
	return &Network{layers: layers}
}

// Layers returns the network's layers slice.
func (n *Network) Layers() []layer.Layer {
	return n.layers
}

// InSize returns the input width of the first layer.
func (n *Network) InSize() int {
	if len(n.layers) == 0 {
		return 0
	}
	return n.layers[0].InSize()
}

// OutSize returns the output width of the last layer.
func (n *Network) OutSize() int {
	if len(n.layers) == 0 {
		return 0
	}
	return n.layers[len(n.layers)-1].OutSize()
}

// Summary writes a table of layers and parameter counts to w.
func (n *Network) Summary(w io.Writer, name string) {
	fmt.Fprintf(w, "Model: %s\n", name)
	fmt.Fprintln(w, "_________________________________________________________________")
	fmt.Fprintf(w, "%-25s %-20s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, "=================================================================")

	totalParams := 0
	for i, l := range n.layers {
		lType := fmt.Sprintf("%T", l)
		for j := len(lType) - 1; j >= 0; j-- {
			if lType[j] == '.' {
				lType = lType[j+1:]
				break
			}
		}

		params := len(l.Params())
		totalParams += params
		fmt.Fprintf(w, "%-25s %-20s %-10d\n", fmt.Sprintf("%s_%d", lType, i), fmt.Sprintf("(%d)", l.OutSize()), params)
	}
	fmt.Fprintln(w, "=================================================================")
	fmt.Fprintf(w, "Total params: %d\n", totalParams)
}

// Snapshot is the serializable form of a Network. Optimizer state is not
// part of it.
type Snapshot struct {
	Layers []LayerConfig
}

// Snapshot captures the layer configurations and parameters of n.
func (n *Network) Snapshot() Snapshot {
	s := Snapshot{Layers: make([]LayerConfig, len(n.layers))}
	for i, l := range n.layers {
		s.Layers[i] = ExtractLayerConfig(l)
	}
	return s
}

// FromSnapshot rebuilds a Network from a Snapshot.
func FromSnapshot(s Snapshot) (*Network, error) {
	layers := make([]layer.Layer, 0, len(s.Layers))
	for i, cfg := range s.Layers {
		l, err := cfg.CreateLayer()
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layers = append(layers, l)
	}
	return New(layers...), nil
}

// LayerConfig holds the configuration needed to reconstruct a layer.
type LayerConfig struct {
	Type    string
	InSize  int
	OutSize int
	Params  []float64
	// Activation name for Dense layers
	Activation string
	// KeepProb for Dropout layers
	KeepProb float64
}

// ExtractLayerConfig extracts the configuration from a layer.
func ExtractLayerConfig(l layer.Layer) LayerConfig {
	cfg := LayerConfig{
		InSize:  l.InSize(),
		OutSize: l.OutSize(),
		Params:  append([]float64(nil), l.Params()...),
	}

	switch v := l.(type) {
	case *layer.Dense:
		cfg.Type = "Dense"
		cfg.Activation = activations.Name(v.Activation())
	case *layer.Dropout:
		cfg.Type = "Dropout"
		cfg.KeepProb = v.KeepProb()
	default:
		cfg.Type = fmt.Sprintf("%T", l)
	}

	return cfg
}

// CreateLayer creates a new layer from the configuration.
func (c *LayerConfig) CreateLayer() (layer.Layer, error) {
	switch c.Type {
	case "Dense":
		act, err := activations.ByName(c.Activation)
		if err != nil {
			return nil, err
		}
		if len(c.Params) != c.InSize*c.OutSize+c.OutSize {
			return nil, fmt.Errorf("dense %dx%d: got %d params", c.InSize, c.OutSize, len(c.Params))
		}
		dense := layer.NewDense(c.InSize, c.OutSize, act)
		dense.SetParams(c.Params)
		return dense, nil
	case "Dropout":
		return layer.NewDropout(c.KeepProb, c.InSize, nil), nil
	default:
		return nil, fmt.Errorf("unsupported layer type: %s", c.Type)
	}
}

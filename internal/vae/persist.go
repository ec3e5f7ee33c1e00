package vae

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/FlavioCFOliveira/GoGenModels/internal/activations"
	"github.com/FlavioCFOliveira/GoGenModels/internal/net"
	"github.com/FlavioCFOliveira/GoGenModels/internal/opt"
	"golang.org/x/exp/rand"
)

type snapshot struct {
	InputDim int
	ZDim     int
	KeepProb float64

	Encoder, Mu, LogVar, Decoder net.Snapshot
}

// Save writes the four networks to filename using gob encoding.
// Optimizer state is not saved.
func (m *Model) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	s := snapshot{
		InputDim: m.cfg.InputDim,
		ZDim:     m.cfg.ZDim,
		KeepProb: m.cfg.KeepProb,
		Encoder:  m.encoder.Snapshot(),
		Mu:       m.mu.Snapshot(),
		LogVar:   m.logVar.Snapshot(),
		Decoder:  m.decoder.Snapshot(),
	}
	if err := gob.NewEncoder(file).Encode(s); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return nil
}

// Load reads a model written by Save. o and rng are used for further
// training and sampling.
func Load(filename string, o opt.Optimizer, rng *rand.Rand) (*Model, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var s snapshot
	if err := gob.NewDecoder(file).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}

	nets := make([]*net.Network, 4)
	for i, ns := range []net.Snapshot{s.Encoder, s.Mu, s.LogVar, s.Decoder} {
		if nets[i], err = net.FromSnapshot(ns); err != nil {
			return nil, fmt.Errorf("failed to rebuild network %d: %w", i, err)
		}
	}
	if nets[1].OutSize() != s.ZDim || nets[3].InSize() != s.ZDim || nets[3].OutSize() != s.InputDim {
		return nil, fmt.Errorf("corrupt model: network shapes do not match z_dim %d, input %d", s.ZDim, s.InputDim)
	}

	cfg := Config{
		InputDim: s.InputDim,
		ZDim:     s.ZDim,
		KeepProb: s.KeepProb,
	}
	for _, l := range s.Encoder.Layers {
		if l.Type == "Dense" {
			cfg.EncoderHidden = append(cfg.EncoderHidden, l.OutSize)
			act, err := activations.ByName(l.Activation)
			if err != nil {
				return nil, err
			}
			cfg.Activation = act
		}
	}
	for _, l := range s.Decoder.Layers[:len(s.Decoder.Layers)-1] {
		if l.Type == "Dense" {
			cfg.DecoderHidden = append(cfg.DecoderHidden, l.OutSize)
		}
	}
	if cfg.Activation == nil {
		cfg.Activation = activations.ReLU{}
	}

	m := &Model{cfg: cfg, opt: o, rng: rng}
	m.replica = newReplica(nets[0], nets[1], nets[2], nets[3], rng)
	return m, nil
}

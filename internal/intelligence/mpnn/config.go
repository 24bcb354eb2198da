// Package mpnn implements directed message-passing encoders for batched
// molecular graphs.  A batch of featurized molecules is packed into a padded
// BatchMolGraph, a MessagePassing engine runs a fixed number of local update
// rounds over it (on directed bonds or on atoms) and a shared finalize step
// turns the aggregated per-atom messages into embeddings that are read out
// per molecule.
//
// All numeric work is done on gonum dense matrices.  Engines hold their
// projection weights as borrowed handles: an external optimizer may update
// them between calls but Encode never mutates them, so one engine can serve
// concurrent Encode calls.
package mpnn

import (
	"fmt"

	"github.com/jababu3/chemprop/pkg/errors"
)

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

const (
	DefaultAtomDim      = 133
	DefaultBondDim      = 14
	DefaultHiddenDim    = 300
	DefaultDepth        = 3
	DefaultNormConstant = 100.0
)

// Locus selects where the recurrent hidden state lives.
type Locus string

const (
	// LocusBond keeps one hidden vector per directed edge.
	LocusBond Locus = "bond"
	// LocusAtom keeps one hidden vector per atom.
	LocusAtom Locus = "atom"
)

// IsValid reports whether l is a known locus.
func (l Locus) IsValid() bool {
	return l == LocusBond || l == LocusAtom
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// Config is the construction-time configuration of a message-passing engine.
// It is copied into the engine and immutable afterwards.
type Config struct {
	Locus        Locus           `json:"locus" yaml:"locus"`
	DV           int             `json:"d_v" yaml:"d_v"`
	DE           int             `json:"d_e" yaml:"d_e"`
	DH           int             `json:"d_h" yaml:"d_h"`
	Bias         bool            `json:"bias" yaml:"bias"`
	Depth        int             `json:"depth" yaml:"depth"`
	Undirected   bool            `json:"undirected" yaml:"undirected"`
	Dropout      float64         `json:"dropout" yaml:"dropout"`
	Activation   ActivationType  `json:"activation" yaml:"activation"`
	DVD          int             `json:"d_vd,omitempty" yaml:"d_vd,omitempty"`
	Aggregation  AggregationType `json:"aggregation" yaml:"aggregation"`
	NormConstant float64         `json:"norm_constant" yaml:"norm_constant"`
	Seed         int64           `json:"seed" yaml:"seed"`
}

// DefaultConfig returns the bond-centered configuration used by chemprop.
func DefaultConfig() *Config {
	return &Config{
		Locus:        LocusBond,
		DV:           DefaultAtomDim,
		DE:           DefaultBondDim,
		DH:           DefaultHiddenDim,
		Bias:         false,
		Depth:        DefaultDepth,
		Undirected:   false,
		Dropout:      0,
		Activation:   ActivationReLU,
		Aggregation:  AggregationMean,
		NormConstant: DefaultNormConstant,
	}
}

// Validate checks the configuration for consistency.  Violations are
// precondition errors: they are raised before any weights are allocated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.Precondition("config is required")
	}
	if !c.Locus.IsValid() {
		return errors.Precondition(fmt.Sprintf("unknown message-passing locus %q", c.Locus))
	}
	if c.DV <= 0 {
		return errors.Precondition("d_v must be positive")
	}
	if c.DE <= 0 {
		return errors.Precondition("d_e must be positive")
	}
	if c.DH <= 0 {
		return errors.Precondition("d_h must be positive")
	}
	if c.Depth < 1 {
		return errors.Precondition(fmt.Sprintf("depth must be >= 1, got %d", c.Depth))
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.Precondition(fmt.Sprintf("dropout must be in [0, 1), got %g", c.Dropout))
	}
	if !c.Activation.IsValid() {
		return errors.New(errors.ErrCodeUnknownActivation, fmt.Sprintf("unknown activation %q", c.Activation))
	}
	if c.DVD < 0 {
		return errors.Precondition("d_vd must not be negative")
	}
	if !c.Aggregation.IsValid() {
		return errors.Precondition(fmt.Sprintf("unknown aggregation %q", c.Aggregation))
	}
	if c.Aggregation == AggregationNorm && c.NormConstant <= 0 {
		return errors.Precondition("norm_constant must be positive for norm aggregation")
	}
	return nil
}

// OutputDim is the embedding width with a fused descriptor when DVD > 0,
// and d_h + d_v otherwise.
func (c *Config) OutputDim() int {
	return c.DH + c.DV + c.DVD
}

// baseOutputDim is the width produced by the output projection alone.
func (c *Config) baseOutputDim() int {
	return c.DH + c.DV
}

package mpnn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/jababu3/chemprop/pkg/errors"
)

// MessagePassing encodes batched molecular graphs into embeddings.
type MessagePassing interface {
	// Encode returns one embedding row per molecule.
	Encode(mode Mode, bmg *BatchMolGraph, vd *mat.Dense) (*mat.Dense, error)
	// EncodeAtoms returns one embedding row per atom, sentinel row included.
	EncodeAtoms(mode Mode, bmg *BatchMolGraph, vd *mat.Dense) (*mat.Dense, error)
	// Finalize fuses per-atom messages with atom features and, optionally,
	// per-atom descriptors.
	Finalize(mode Mode, mv, v, vd *mat.Dense) (*mat.Dense, error)
	// OutputDim is the per-atom embedding width when a descriptor is fused.
	OutputDim() int
	Config() Config
	Projections() *Projections
}

// Projections are the learnable parameters of an engine.  They are created
// by the engine and may be updated in place by an external optimizer between
// encode calls.
type Projections struct {
	Input      *Linear
	Hidden     *Linear
	Output     *Linear
	Descriptor *Linear // nil unless d_vd > 0
	PReLUSlope float64
}

// strategy is the locus-specific part of an engine.
type strategy interface {
	// inputDims returns the input widths of W_i and W_h.
	inputDims(cfg *Config) (inIn, hiddenIn int)
	// aggregate runs the recurrence and returns the per-atom message M_v.
	aggregate(e *Engine, mode Mode, bmg *BatchMolGraph) (*mat.Dense, error)
}

// Engine is the message-passing encoder.  The locus strategy is fixed at
// construction time.
type Engine struct {
	cfg   Config
	proj  *Projections
	strat strategy
}

var _ MessagePassing = (*Engine)(nil)

// New validates cfg and builds an engine with freshly initialized
// projections.  Initialization draws from cfg.Seed in the fixed order input,
// hidden, output, descriptor.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strat := strategyFor(cfg.Locus)
	inIn, hiddenIn := strat.inputDims(cfg)

	rng := rand.New(rand.NewSource(cfg.Seed))
	proj := &Projections{
		Input:      NewLinear(inIn, cfg.DH, cfg.Bias, rng),
		Hidden:     NewLinear(hiddenIn, cfg.DH, cfg.Bias, rng),
		Output:     NewLinear(cfg.DV+cfg.DH, cfg.baseOutputDim(), true, rng),
		PReLUSlope: defaultPReLUSlope,
	}
	if cfg.DVD > 0 {
		proj.Descriptor = NewLinear(cfg.OutputDim(), cfg.OutputDim(), true, rng)
	}
	return &Engine{cfg: *cfg, proj: proj, strat: strat}, nil
}

// NewWithProjections builds an engine around externally owned projections,
// e.g. weights restored from a checkpoint.
func NewWithProjections(cfg *Config, proj *Projections) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if proj == nil {
		return nil, errors.Precondition("projections are required")
	}
	strat := strategyFor(cfg.Locus)
	inIn, hiddenIn := strat.inputDims(cfg)
	if err := proj.Input.validate("W_i", inIn, cfg.DH); err != nil {
		return nil, err
	}
	if err := proj.Hidden.validate("W_h", hiddenIn, cfg.DH); err != nil {
		return nil, err
	}
	if err := proj.Output.validate("W_o", cfg.DV+cfg.DH, cfg.baseOutputDim()); err != nil {
		return nil, err
	}
	if cfg.DVD > 0 {
		if err := proj.Descriptor.validate("W_vd", cfg.OutputDim(), cfg.OutputDim()); err != nil {
			return nil, err
		}
	}
	return &Engine{cfg: *cfg, proj: proj, strat: strat}, nil
}

// NewBondMessageBlock builds a bond-centered engine regardless of cfg.Locus.
func NewBondMessageBlock(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.Precondition("config is required")
	}
	c := *cfg
	c.Locus = LocusBond
	return New(&c)
}

// NewAtomMessageBlock builds an atom-centered engine regardless of cfg.Locus.
func NewAtomMessageBlock(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.Precondition("config is required")
	}
	c := *cfg
	c.Locus = LocusAtom
	return New(&c)
}

func strategyFor(l Locus) strategy {
	if l == LocusAtom {
		return atomStrategy{}
	}
	return bondStrategy{}
}

func (e *Engine) Config() Config             { return e.cfg }
func (e *Engine) Projections() *Projections { return e.proj }
func (e *Engine) OutputDim() int            { return e.cfg.OutputDim() }

// Encode runs EncodeAtoms and reads the per-atom embeddings out per molecule
// with the configured aggregation.
func (e *Engine) Encode(mode Mode, bmg *BatchMolGraph, vd *mat.Dense) (*mat.Dense, error) {
	h, err := e.EncodeAtoms(mode, bmg, vd)
	if err != nil {
		return nil, err
	}
	return Readout(bmg, h, e.cfg.Aggregation, e.cfg.NormConstant)
}

// EncodeAtoms validates the batch, runs Depth-1 update rounds and finalizes.
func (e *Engine) EncodeAtoms(mode Mode, bmg *BatchMolGraph, vd *mat.Dense) (*mat.Dense, error) {
	if err := bmg.Validate(); err != nil {
		return nil, err
	}
	if err := e.checkFeatures(bmg); err != nil {
		return nil, err
	}
	if err := e.checkDescriptor(bmg.NumAtoms()+1, vd); err != nil {
		return nil, err
	}
	mv, err := e.strat.aggregate(e, mode, bmg)
	if err != nil {
		return nil, err
	}
	return e.Finalize(mode, mv, bmg.V, vd)
}

// Finalize computes H = dropout(τ(W_o·[V, M_v])) and, when vd is given,
// H = dropout(τ(W_vd·[H, V_d])).  Row 0 of the result is zero.
func (e *Engine) Finalize(mode Mode, mv, v, vd *mat.Dense) (*mat.Dense, error) {
	vr, vc := v.Dims()
	mr, mc := mv.Dims()
	if vc != e.cfg.DV {
		return nil, errors.InvalidShape("V", []int{vr, e.cfg.DV}, []int{vr, vc})
	}
	if mr != vr || mc != e.cfg.DH {
		return nil, errors.InvalidShape("M_v", []int{vr, e.cfg.DH}, []int{mr, mc})
	}
	if err := e.checkDescriptor(vr, vd); err != nil {
		return nil, err
	}

	act := e.activation()
	h, err := e.proj.Output.Forward("W_o", hcat(v, mv))
	if err != nil {
		return nil, err
	}
	activate(h, act)
	dropout(mode, e.cfg.Dropout, h)
	zeroSentinel(h)

	if vd == nil {
		return h, nil
	}
	h, err = e.proj.Descriptor.Forward("W_vd", hcat(h, vd))
	if err != nil {
		return nil, err
	}
	activate(h, act)
	dropout(mode, e.cfg.Dropout, h)
	zeroSentinel(h)
	return h, nil
}

// update computes H = dropout(τ(H0 + W_h·M)).
func (e *Engine) update(mode Mode, h0, m *mat.Dense) (*mat.Dense, error) {
	h, err := e.proj.Hidden.Forward("W_h", m)
	if err != nil {
		return nil, err
	}
	h.Add(h0, h)
	activate(h, e.activation())
	dropout(mode, e.cfg.Dropout, h)
	zeroSentinel(h)
	return h, nil
}

// initial computes H0 = τ(W_i·X).
func (e *Engine) initial(x *mat.Dense) (*mat.Dense, error) {
	h0, err := e.proj.Input.Forward("W_i", x)
	if err != nil {
		return nil, err
	}
	activate(h0, e.activation())
	zeroSentinel(h0)
	return h0, nil
}

func (e *Engine) activation() activationFunc {
	return e.cfg.Activation.fn(e.proj.PReLUSlope)
}

func (e *Engine) checkFeatures(bmg *BatchMolGraph) error {
	vr, vc := bmg.V.Dims()
	if vc != e.cfg.DV {
		return errors.InvalidShape("V", []int{vr, e.cfg.DV}, []int{vr, vc})
	}
	er, ec := bmg.E.Dims()
	if ec != e.cfg.DE {
		return errors.InvalidShape("E", []int{er, e.cfg.DE}, []int{er, ec})
	}
	return nil
}

// checkDescriptor rejects a descriptor whose shape disagrees with the batch
// or the configured width, and any descriptor when none is configured.
func (e *Engine) checkDescriptor(rows int, vd *mat.Dense) error {
	if vd == nil {
		return nil
	}
	r, c := vd.Dims()
	if e.cfg.DVD == 0 || r != rows || c != e.cfg.DVD {
		return errors.InvalidShape("V_d", []int{rows, e.cfg.DVD}, []int{r, c}).
			WithDetail(fmt.Sprintf("engine configured with d_vd=%d", e.cfg.DVD))
	}
	return nil
}

package dsrnn

import (
	"github.com/dfwarden/deepsaber"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/serializer"
)

const lstmRememberBias = 1

func init() {
	var l LSTMGate
	serializer.RegisterTypedDeserializer(l.SerializerType(), DeserializeLSTMGate)
	var lstm LSTM
	serializer.RegisterTypedDeserializer(lstm.SerializerType(), DeserializeLSTM)
}

// LSTM is a long short-term memory block.
//
// The state of an LSTM is the pair of its internal cell
// and its last output, both of which start at learned
// vectors.
type LSTM struct {
	InValue  *LSTMGate
	In       *LSTMGate
	Remember *LSTMGate
	Output   *LSTMGate
	InitCell *anydiff.Var
	InitOut  *anydiff.Var
}

// DeserializeLSTM deserializes an LSTM.
func DeserializeLSTM(d []byte) (*LSTM, error) {
	var inVal, in, rem, out *LSTMGate
	var initCell, initOut *anyvecsave.S
	err := serializer.DeserializeAny(d, &inVal, &in, &rem, &out, &initCell, &initOut)
	if err != nil {
		return nil, err
	}
	return &LSTM{
		InValue:  inVal,
		In:       in,
		Remember: rem,
		Output:   out,
		InitCell: anydiff.NewVar(initCell.Vector),
		InitOut:  anydiff.NewVar(initOut.Vector),
	}, nil
}

// NewLSTM creates a new, randomized LSTM.
//
// The remember gates of the LSTM are initially biased to
// remember things.
func NewLSTM(c anyvec.Creator, in, state int) *LSTM {
	res := &LSTM{
		InValue:  NewLSTMGate(c, in, state, deepsaber.Tanh),
		In:       NewLSTMGate(c, in, state, deepsaber.Sigmoid),
		Remember: NewLSTMGate(c, in, state, deepsaber.Sigmoid),
		Output:   NewLSTMGate(c, in, state, deepsaber.Sigmoid),
		InitCell: anydiff.NewVar(c.MakeVector(state)),
		InitOut:  anydiff.NewVar(c.MakeVector(state)),
	}
	res.Remember.Biases.Vector.AddScalar(c.MakeNumeric(lstmRememberBias))
	return res
}

// NewLSTMZero creates a zero'd LSTM.
func NewLSTMZero(c anyvec.Creator, in, state int) *LSTM {
	return &LSTM{
		InValue:  NewLSTMGateZero(c, in, state, deepsaber.Tanh),
		In:       NewLSTMGateZero(c, in, state, deepsaber.Sigmoid),
		Remember: NewLSTMGateZero(c, in, state, deepsaber.Sigmoid),
		Output:   NewLSTMGateZero(c, in, state, deepsaber.Sigmoid),
		InitCell: anydiff.NewVar(c.MakeVector(state)),
		InitOut:  anydiff.NewVar(c.MakeVector(state)),
	}
}

// Start produces a start state.
func (l *LSTM) Start(n int) State {
	return &lstmState{
		Cell: NewVecState(l.InitCell.Vector, n),
		Out:  NewVecState(l.InitOut.Vector, n),
	}
}

// PropagateStart back-propagates through the start state.
func (l *LSTM) PropagateStart(s StateGrad, g anydiff.Grad) {
	sg := s.(*lstmGrad)
	sg.Cell.PropagateStart(l.InitCell, g)
	sg.Out.PropagateStart(l.InitOut, g)
}

// Step performs one timestep.
func (l *LSTM) Step(s State, in anyvec.Vector) Res {
	st := s.(*lstmState)
	n := st.Cell.PresentMap.NumPresent()
	res := &lstmRes{
		InPool:   anydiff.NewVar(in),
		CellPool: anydiff.NewVar(st.Cell.Vector),
		OutPool:  anydiff.NewVar(st.Out.Vector),
	}

	inVal := l.InValue.apply(res.InPool, res.OutPool, res.CellPool, n)
	inGate := l.In.apply(res.InPool, res.OutPool, res.CellPool, n)
	remember := l.Remember.apply(res.InPool, res.OutPool, res.CellPool, n)
	res.NewCell = anydiff.Add(anydiff.Mul(remember, res.CellPool),
		anydiff.Mul(inGate, inVal))
	outGate := l.Output.apply(res.InPool, res.OutPool, res.NewCell, n)
	res.NewOut = anydiff.Mul(outGate, anydiff.Tanh(res.NewCell))

	res.V = anydiff.VarSet{}
	res.V.Add(l.InitCell)
	res.V.Add(l.InitOut)
	res.V = anydiff.MergeVarSets(res.V, res.NewOut.Vars())
	for _, pool := range []*anydiff.Var{res.InPool, res.CellPool, res.OutPool} {
		res.V.Del(pool)
	}

	res.OutState = &lstmState{
		Cell: &VecState{Vector: res.NewCell.Output(), PresentMap: st.Cell.PresentMap},
		Out:  &VecState{Vector: res.NewOut.Output(), PresentMap: st.Out.PresentMap},
	}
	return res
}

// Parameters returns the parameters of the block.
func (l *LSTM) Parameters() []*anydiff.Var {
	res := []*anydiff.Var{l.InitCell, l.InitOut}
	for _, g := range []*LSTMGate{l.InValue, l.In, l.Remember, l.Output} {
		res = append(res, g.Parameters()...)
	}
	return res
}

// WeightTensors returns the block's named tensors.
func (l *LSTM) WeightTensors() []deepsaber.WeightTensor {
	res := []deepsaber.WeightTensor{
		{Name: "init_cell", Var: l.InitCell},
		{Name: "init_out", Var: l.InitOut},
	}
	gates := []struct {
		Name string
		Gate *LSTMGate
	}{
		{"in_value", l.InValue},
		{"in", l.In},
		{"remember", l.Remember},
		{"output", l.Output},
	}
	for _, g := range gates {
		res = append(res, deepsaber.PrefixWeights(g.Name+"/", g.Gate.WeightTensors())...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// an LSTM with the serializer package.
func (l *LSTM) SerializerType() string {
	return "github.com/dfwarden/deepsaber/dsrnn.LSTM"
}

// Serialize serializes the LSTM.
func (l *LSTM) Serialize() ([]byte, error) {
	return serializer.SerializeAny(l.InValue, l.In, l.Remember, l.Output,
		&anyvecsave.S{Vector: l.InitCell.Vector},
		&anyvecsave.S{Vector: l.InitOut.Vector})
}

// An LSTMGate computes a value based on the previous
// output, the current cell, and the input.
type LSTMGate struct {
	StateWeights *anydiff.Var
	InputWeights *anydiff.Var
	Peephole     *anydiff.Var
	Biases       *anydiff.Var
	Activation   deepsaber.Layer
}

// DeserializeLSTMGate deserializes an LSTMGate.
func DeserializeLSTMGate(d []byte) (*LSTMGate, error) {
	var sw, iw, p, b *anyvecsave.S
	var a deepsaber.Activation
	if err := serializer.DeserializeAny(d, &sw, &iw, &p, &b, &a); err != nil {
		return nil, err
	}
	return &LSTMGate{
		StateWeights: anydiff.NewVar(sw.Vector),
		InputWeights: anydiff.NewVar(iw.Vector),
		Peephole:     anydiff.NewVar(p.Vector),
		Biases:       anydiff.NewVar(b.Vector),
		Activation:   a,
	}, nil
}

// NewLSTMGate creates a randomized LSTM gate.
func NewLSTMGate(c anyvec.Creator, in, state int, activation deepsaber.Layer) *LSTMGate {
	// Hijack the vanilla randomization code.
	vn := NewVanilla(c, in, state, activation)
	return &LSTMGate{
		StateWeights: vn.StateWeights,
		InputWeights: vn.InputWeights,
		Peephole:     anydiff.NewVar(c.MakeVector(state)),
		Biases:       vn.Biases,
		Activation:   activation,
	}
}

// NewLSTMGateZero creates a zero'd LSTM gate.
func NewLSTMGateZero(c anyvec.Creator, in, state int, activation deepsaber.Layer) *LSTMGate {
	return &LSTMGate{
		StateWeights: anydiff.NewVar(c.MakeVector(state * state)),
		InputWeights: anydiff.NewVar(c.MakeVector(state * in)),
		Peephole:     anydiff.NewVar(c.MakeVector(state)),
		Biases:       anydiff.NewVar(c.MakeVector(state)),
		Activation:   activation,
	}
}

// Parameters returns the parameters of the gate.
func (l *LSTMGate) Parameters() []*anydiff.Var {
	return []*anydiff.Var{l.StateWeights, l.InputWeights, l.Peephole, l.Biases}
}

// WeightTensors returns the gate's named tensors.
func (l *LSTMGate) WeightTensors() []deepsaber.WeightTensor {
	return []deepsaber.WeightTensor{
		{Name: "state_weights", Var: l.StateWeights},
		{Name: "input_weights", Var: l.InputWeights},
		{Name: "peephole", Var: l.Peephole},
		{Name: "biases", Var: l.Biases},
	}
}

// SerializerType returns the unique ID used to serialize
// an LSTM gate with the serializer package.
func (l *LSTMGate) SerializerType() string {
	return "github.com/dfwarden/deepsaber/dsrnn.LSTMGate"
}

// Serialize serializes the gate.
func (l *LSTMGate) Serialize() ([]byte, error) {
	sw := &anyvecsave.S{Vector: l.StateWeights.Vector}
	iw := &anyvecsave.S{Vector: l.InputWeights.Vector}
	p := &anyvecsave.S{Vector: l.Peephole.Vector}
	b := &anyvecsave.S{Vector: l.Biases.Vector}
	return serializer.SerializeAny(sw, iw, p, b, l.Activation)
}

// apply computes the gate value for a batch.
// The peephole watches cell, which is the old cell for
// the input gates and the new cell for the output gate.
func (g *LSTMGate) apply(in, lastOut, cell anydiff.Res, n int) anydiff.Res {
	state := g.Biases.Vector.Len()
	inCount := g.InputWeights.Vector.Len() / state
	wIn := applyWeights(inCount, state, g.InputWeights, in)
	wState := applyWeights(state, state, g.StateWeights, lastOut)
	peep := anydiff.ScaleAddRepeated(cell, g.Peephole, g.Biases)
	return g.Activation.Apply(anydiff.Add(anydiff.Add(wIn, wState), peep), n)
}

type lstmState struct {
	Cell *VecState
	Out  *VecState
}

func (l *lstmState) Present() PresentMap {
	return l.Cell.PresentMap
}

func (l *lstmState) Reduce(p PresentMap) State {
	return &lstmState{
		Cell: l.Cell.Reduce(p).(*VecState),
		Out:  l.Out.Reduce(p).(*VecState),
	}
}

func (l *lstmState) Mask(fresh State, replace []bool) State {
	f := fresh.(*lstmState)
	return &lstmState{
		Cell: l.Cell.Mask(f.Cell, replace).(*VecState),
		Out:  l.Out.Mask(f.Out, replace).(*VecState),
	}
}

type lstmGrad struct {
	Cell *VecState
	Out  *VecState
}

func (l *lstmGrad) Present() PresentMap {
	return l.Cell.PresentMap
}

func (l *lstmGrad) Expand(p PresentMap) StateGrad {
	return &lstmGrad{
		Cell: l.Cell.Expand(p).(*VecState),
		Out:  l.Out.Expand(p).(*VecState),
	}
}

func (l *lstmGrad) Keep(flags []bool) StateGrad {
	return &lstmGrad{
		Cell: l.Cell.Keep(flags).(*VecState),
		Out:  l.Out.Keep(flags).(*VecState),
	}
}

type lstmRes struct {
	InPool   *anydiff.Var
	CellPool *anydiff.Var
	OutPool  *anydiff.Var
	NewCell  anydiff.Res
	NewOut   anydiff.Res
	OutState *lstmState
	V        anydiff.VarSet
}

func (l *lstmRes) State() State {
	return l.OutState
}

func (l *lstmRes) Output() anyvec.Vector {
	return l.NewOut.Output()
}

func (l *lstmRes) Vars() anydiff.VarSet {
	return l.V
}

func (l *lstmRes) Propagate(u anyvec.Vector, s StateGrad, g anydiff.Grad) (anyvec.Vector,
	StateGrad) {
	c := l.InPool.Vector.Creator()
	downIn := c.MakeVector(l.InPool.Vector.Len())
	downCell := c.MakeVector(l.CellPool.Vector.Len())
	downOut := c.MakeVector(l.OutPool.Vector.Len())
	g[l.InPool] = downIn
	g[l.CellPool] = downCell
	g[l.OutPool] = downOut
	if s != nil {
		sg := s.(*lstmGrad)
		u.Add(sg.Out.Vector)
		l.NewCell.Propagate(sg.Cell.Vector, g)
	}
	l.NewOut.Propagate(u, g)
	delete(g, l.InPool)
	delete(g, l.CellPool)
	delete(g, l.OutPool)
	pm := l.OutState.Cell.PresentMap
	return downIn, &lstmGrad{
		Cell: &VecState{Vector: downCell, PresentMap: pm},
		Out:  &VecState{Vector: downOut, PresentMap: pm},
	}
}

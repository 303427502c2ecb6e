package dsrnn

import (
	"fmt"

	"github.com/dfwarden/deepsaber"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/serializer"
)

func init() {
	var s Stack
	serializer.RegisterTypedDeserializer(s.SerializerType(), DeserializeStack)
}

// A Stack is a meta-Block for composing Blocks.
// In a Stack, the first Block's output is fed as input to
// the next Block, etc.
//
// An empty Stack is invalid.
type Stack []Block

// DeserializeStack deserializes a Stack.
func DeserializeStack(d []byte) (Stack, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, err
	}
	res := make(Stack, len(slice))
	for i, x := range slice {
		var ok bool
		res[i], ok = x.(Block)
		if !ok {
			return nil, fmt.Errorf("not a Block: %T", x)
		}
	}
	return res, nil
}

// Start produces a start state.
func (s Stack) Start(n int) State {
	s.assertNonEmpty()
	res := make(stackState, len(s))
	for i, x := range s {
		res[i] = x.Start(n)
	}
	return res
}

// PropagateStart back-propagates through the start state.
func (s Stack) PropagateStart(sg StateGrad, g anydiff.Grad) {
	for i, x := range s {
		x.PropagateStart(sg.(stackGrad)[i], g)
	}
}

// Step applies the block for a single timestep.
func (s Stack) Step(st State, in anyvec.Vector) Res {
	res := &stackRes{V: anydiff.VarSet{}}
	inVec := in
	for i, x := range s {
		inState := st.(stackState)[i]
		blockRes := x.Step(inState, inVec)
		inVec = blockRes.Output()
		res.Reses = append(res.Reses, blockRes)
		res.OutState = append(res.OutState, blockRes.State())
		res.V = anydiff.MergeVarSets(res.V, blockRes.Vars())
	}
	return res
}

// Parameters returns the parameters of every Block in the
// stack that implements deepsaber.Parameterizer.
func (s Stack) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, x := range s {
		if p, ok := x.(deepsaber.Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}

// WeightTensors returns the named tensors of every Block
// in the stack, prefixed by the block's index.
func (s Stack) WeightTensors() []deepsaber.WeightTensor {
	var res []deepsaber.WeightTensor
	for i, x := range s {
		if w, ok := x.(deepsaber.Weighted); ok {
			prefix := fmt.Sprintf("%d/", i)
			res = append(res, deepsaber.PrefixWeights(prefix, w.WeightTensors())...)
		}
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a Stack with the serializer package.
func (s Stack) SerializerType() string {
	return "github.com/dfwarden/deepsaber/dsrnn.Stack"
}

// Serialize attempts to serialize the Stack.
func (s Stack) Serialize() ([]byte, error) {
	var slice []serializer.Serializer
	for _, x := range s {
		obj, ok := x.(serializer.Serializer)
		if !ok {
			return nil, fmt.Errorf("not a Serializer: %T", x)
		}
		slice = append(slice, obj)
	}
	return serializer.SerializeSlice(slice)
}

func (s Stack) assertNonEmpty() {
	if len(s) == 0 {
		panic("empty Stack is invalid")
	}
}

type stackRes struct {
	Reses    []Res
	OutState stackState
	V        anydiff.VarSet
}

func (s *stackRes) State() State {
	return s.OutState
}

func (s *stackRes) Output() anyvec.Vector {
	return s.Reses[len(s.Reses)-1].Output()
}

func (s *stackRes) Vars() anydiff.VarSet {
	return s.V
}

func (s *stackRes) Propagate(u anyvec.Vector, sg StateGrad, g anydiff.Grad) (anyvec.Vector,
	StateGrad) {
	downVec := u
	downStates := make(stackGrad, len(s.Reses))
	for i := len(s.Reses) - 1; i >= 0; i-- {
		var stateUpstream StateGrad
		if sg != nil {
			stateUpstream = sg.(stackGrad)[i]
		}
		down, downState := s.Reses[i].Propagate(downVec, stateUpstream, g)
		downVec = down
		downStates[i] = downState
	}
	return downVec, downStates
}

type stackState []State

func (s stackState) Present() PresentMap {
	return s[0].Present()
}

func (s stackState) Reduce(p PresentMap) State {
	res := make(stackState, len(s))
	for i, x := range s {
		res[i] = x.Reduce(p)
	}
	return res
}

func (s stackState) Mask(fresh State, replace []bool) State {
	f := fresh.(stackState)
	res := make(stackState, len(s))
	for i, x := range s {
		res[i] = x.Mask(f[i], replace)
	}
	return res
}

type stackGrad []StateGrad

func (s stackGrad) Present() PresentMap {
	return s[0].Present()
}

func (s stackGrad) Expand(p PresentMap) StateGrad {
	res := make(stackGrad, len(s))
	for i, x := range s {
		res[i] = x.Expand(p)
	}
	return res
}

func (s stackGrad) Keep(flags []bool) StateGrad {
	res := make(stackGrad, len(s))
	for i, x := range s {
		res[i] = x.Keep(flags)
	}
	return res
}

package dsmodel

import (
	"fmt"

	"github.com/dfwarden/deepsaber/dsrnn"
	"github.com/unixpickle/anydiff"
)

// Stateful runs a model over a single sequence one
// timestep at a time, keeping the recurrent state between
// calls.
//
// It is the causal counterpart of batched training: the
// state left by every Step feeds the next Step until
// Reset starts a new sequence.
type Stateful struct {
	model *Model
	state dsrnn.State
}

// NewStateful wraps a model for single-sequence stepping.
func NewStateful(m *Model) *Stateful {
	return &Stateful{model: m, state: m.Body.Start(1)}
}

// Model returns the wrapped model.
func (s *Stateful) Model() *Model {
	return s.model
}

// Step feeds the model one frame of input streams and
// returns one frame of every output stream.
//
// The input map must contain exactly the schema's input
// streams at their schema widths.
// Categorical outputs are log-probabilities.
func (s *Stateful) Step(in map[string][]float64) (map[string][]float64, error) {
	if len(in) != len(s.model.Schema.Inputs) {
		for name := range in {
			if _, ok := s.model.Schema.Input(name); !ok {
				return nil, fmt.Errorf("step: unknown input stream %q", name)
			}
		}
	}
	packed := make([]float64, 0, s.model.Schema.InputWidth())
	for _, spec := range s.model.Schema.Inputs {
		vals, ok := in[spec.Name]
		if !ok {
			return nil, fmt.Errorf("step: missing input stream %q", spec.Name)
		}
		if len(vals) != spec.Width {
			return nil, fmt.Errorf("step: input stream %q has %d values, expected %d",
				spec.Name, len(vals), spec.Width)
		}
		packed = append(packed, vals...)
	}
	c := s.model.Creator()
	vec := c.MakeVectorData(c.MakeNumericList(packed))

	res := s.model.Body.Step(s.state, vec)
	s.state = res.State()

	features := anydiff.NewConst(res.Output())
	outs := map[string][]float64{}
	for i, spec := range s.model.Schema.Outputs {
		headOut := s.model.Heads[i].Apply(features, 1)
		outs[spec.Name] = vectorData(headOut.Output())
	}
	return outs, nil
}

// Reset restores the start state, so that the next Step
// begins a new sequence.
func (s *Stateful) Reset() {
	s.state = s.model.Body.Start(1)
}

package dsmodel

import (
	"fmt"

	"github.com/dfwarden/deepsaber"
	"github.com/dfwarden/deepsaber/dsrnn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Transplant rebuilds a trained model on a new creator,
// typically anyvec64, and returns two independent
// artifacts: a plain copy for further batched use, and a
// stateful single-sequence runner for causal generation.
//
// Weights move between the models by tensor name.
// A tensor whose size changed between source and
// destination produces a
// *deepsaber.WeightShapeMismatchError.
//
// Dropout layers in the stateful artifact are disabled;
// the plain copy keeps them as-is.
func Transplant(m *Model, c anyvec.Creator) (*Model, *Stateful, error) {
	plain, err := rebuildModel(c, m)
	if err != nil {
		return nil, nil, essentials.AddCtx("transplant", err)
	}
	if err := CopyWeights(plain, m); err != nil {
		return nil, nil, essentials.AddCtx("transplant", err)
	}
	single, err := rebuildModel(c, m)
	if err != nil {
		return nil, nil, essentials.AddCtx("transplant", err)
	}
	if err := CopyWeights(single, m); err != nil {
		return nil, nil, essentials.AddCtx("transplant", err)
	}
	disableDropout(single.Body)
	for _, h := range single.Heads {
		disableLayerDropout(h)
	}
	return plain, NewStateful(single), nil
}

func disableDropout(b dsrnn.Block) {
	switch b := b.(type) {
	case dsrnn.Stack:
		for _, x := range b {
			disableDropout(x)
		}
	case *dsrnn.LayerBlock:
		disableLayerDropout(b.Layer)
	}
}

func disableLayerDropout(l deepsaber.Layer) {
	switch l := l.(type) {
	case deepsaber.Net:
		for _, x := range l {
			disableLayerDropout(x)
		}
	case *deepsaber.Dropout:
		l.Enabled = false
	}
}

// CopyWeights copies every named tensor of src into the
// tensor of the same name in dst, converting numeric
// precision as needed.
func CopyWeights(dst, src deepsaber.Weighted) error {
	dstTensors := map[string]*anydiff.Var{}
	for _, w := range dst.WeightTensors() {
		dstTensors[w.Name] = w.Var
	}
	for _, w := range src.WeightTensors() {
		dstVar, ok := dstTensors[w.Name]
		if !ok {
			return fmt.Errorf("copy weights: no destination tensor %q", w.Name)
		}
		if dstVar.Vector.Len() != w.Var.Vector.Len() {
			return &deepsaber.WeightShapeMismatchError{
				Name: w.Name,
				Src:  w.Var.Vector.Len(),
				Dst:  dstVar.Vector.Len(),
			}
		}
		c := dstVar.Vector.Creator()
		dstVar.Vector.SetData(c.MakeNumericList(vectorData(w.Var.Vector)))
	}
	return nil
}

func vectorData(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	case []float64:
		return append([]float64{}, data...)
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
}

func rebuildModel(c anyvec.Creator, m *Model) (*Model, error) {
	body, err := rebuildBlock(c, m.Body)
	if err != nil {
		return nil, err
	}
	heads := make([]deepsaber.Net, len(m.Heads))
	for i, h := range m.Heads {
		net, err := rebuildNet(c, h)
		if err != nil {
			return nil, err
		}
		heads[i] = net
	}
	return &Model{Schema: m.Schema, Body: body, Heads: heads}, nil
}

func rebuildBlock(c anyvec.Creator, b dsrnn.Block) (dsrnn.Block, error) {
	switch b := b.(type) {
	case dsrnn.Stack:
		res := make(dsrnn.Stack, len(b))
		for i, x := range b {
			var err error
			res[i], err = rebuildBlock(c, x)
			if err != nil {
				return nil, err
			}
		}
		return res, nil
	case *dsrnn.LSTM:
		state := b.InValue.Biases.Vector.Len()
		in := b.InValue.InputWeights.Vector.Len() / state
		res := dsrnn.NewLSTMZero(c, in, state)
		res.InValue.Activation = b.InValue.Activation
		res.In.Activation = b.In.Activation
		res.Remember.Activation = b.Remember.Activation
		res.Output.Activation = b.Output.Activation
		return res, nil
	case *dsrnn.Vanilla:
		act, err := rebuildLayer(c, b.Activation)
		if err != nil {
			return nil, err
		}
		return &dsrnn.Vanilla{
			InCount:      b.InCount,
			OutCount:     b.OutCount,
			StateWeights: anydiff.NewVar(c.MakeVector(b.OutCount * b.OutCount)),
			InputWeights: anydiff.NewVar(c.MakeVector(b.OutCount * b.InCount)),
			Biases:       anydiff.NewVar(c.MakeVector(b.OutCount)),
			StartState:   anydiff.NewVar(c.MakeVector(b.OutCount)),
			Activation:   act,
		}, nil
	case *dsrnn.LayerBlock:
		layer, err := rebuildLayer(c, b.Layer)
		if err != nil {
			return nil, err
		}
		return &dsrnn.LayerBlock{Layer: layer}, nil
	default:
		return nil, fmt.Errorf("cannot rebuild block: %T", b)
	}
}

func rebuildNet(c anyvec.Creator, n deepsaber.Net) (deepsaber.Net, error) {
	res := make(deepsaber.Net, len(n))
	for i, l := range n {
		var err error
		res[i], err = rebuildLayer(c, l)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func rebuildLayer(c anyvec.Creator, l deepsaber.Layer) (deepsaber.Layer, error) {
	switch l := l.(type) {
	case deepsaber.Net:
		return rebuildNet(c, l)
	case *deepsaber.FC:
		return deepsaber.NewFCZero(c, l.InCount, l.OutCount), nil
	case deepsaber.Activation:
		return l, nil
	case *deepsaber.Dropout:
		return &deepsaber.Dropout{Enabled: l.Enabled, KeepProb: l.KeepProb}, nil
	default:
		return nil, fmt.Errorf("cannot rebuild layer: %T", l)
	}
}

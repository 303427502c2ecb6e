package dsmodel

import (
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/dfwarden/deepsaber"
	"github.com/dfwarden/deepsaber/dsrnn"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/serializer"
)

func testSchema() *deepsaber.Schema {
	return &deepsaber.Schema{
		Inputs: []deepsaber.StreamSpec{
			{Name: "audio", Kind: deepsaber.Regression, Width: 4},
		},
		Outputs: []deepsaber.StreamSpec{
			{Name: "note", Kind: deepsaber.Categorical, Width: 12},
			{Name: "energy", Kind: deepsaber.Regression, Width: 1},
		},
	}
}

func TestModelApply(t *testing.T) {
	c := anyvec32.CurrentCreator()
	model, err := NewModel(c, testSchema(), ModelConfig{StateSizes: []int{6}})
	if err != nil {
		t.Fatal(err)
	}

	var batches []*anyseq.Batch
	for i := 0; i < 3; i++ {
		vec := c.MakeVector(8)
		anyvec.Rand(vec, anyvec.Normal, nil)
		batches = append(batches, &anyseq.Batch{
			Packed:  vec,
			Present: []bool{true, true},
		})
	}
	outs := model.Apply(anyseq.ConstSeq(batches))
	if len(outs) != 2 {
		t.Fatalf("expected 2 output streams, but got %d", len(outs))
	}

	note := outs[0].Output()
	if len(note) != 3 {
		t.Fatalf("expected 3 timesteps, but got %d", len(note))
	}
	for _, b := range note {
		if b.Packed.Len() != 2*12 {
			t.Fatalf("expected 24 values per timestep, but got %d", b.Packed.Len())
		}
		data := b.Packed.Data().([]float32)
		for row := 0; row < 2; row++ {
			var sum float64
			for _, x := range data[row*12 : (row+1)*12] {
				sum += math.Exp(float64(x))
			}
			if math.Abs(sum-1) > 1e-3 {
				t.Errorf("row probabilities sum to %f", sum)
			}
		}
	}

	energy := outs[1].Output()
	if energy[0].Packed.Len() != 2 {
		t.Errorf("expected 2 values per timestep, but got %d", energy[0].Packed.Len())
	}
}

func TestModelWeightNames(t *testing.T) {
	c := anyvec32.CurrentCreator()
	model, err := NewModel(c, testSchema(), ModelConfig{StateSizes: []int{6, 5}})
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, w := range model.WeightTensors() {
		if names[w.Name] {
			t.Errorf("duplicate tensor name: %s", w.Name)
		}
		names[w.Name] = true
	}
	expected := []string{
		"body/0/init_cell",
		"body/0/remember/biases",
		"body/1/in_value/input_weights",
		"head/note/0/weights",
		"head/energy/0/biases",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("missing tensor name: %s", name)
		}
	}
}

func TestModelSerialize(t *testing.T) {
	c := anyvec32.CurrentCreator()
	model, err := NewModel(c, testSchema(), ModelConfig{StateSizes: []int{6}})
	if err != nil {
		t.Fatal(err)
	}
	data, err := serializer.SerializeWithType(model)
	if err != nil {
		t.Fatal(err)
	}
	newObj, err := serializer.DeserializeWithType(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(model, newObj) {
		t.Error("model changed across serialization")
	}
}

func TestModelSaveLoad(t *testing.T) {
	c := anyvec32.CurrentCreator()
	model, err := NewModel(c, testSchema(), ModelConfig{StateSizes: []int{6}})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "model")
	if err := SaveFile(path, model); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(model, loaded) {
		t.Error("model changed across save/load")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestModelFromMarkup(t *testing.T) {
	c := anyvec32.CurrentCreator()
	code := `
Input(w=1, h=1, d=4)
LSTM(out=8)
FC(out=6)
Tanh
`
	model, err := NewModelFromMarkup(c, testSchema(), code)
	if err != nil {
		t.Fatal(err)
	}
	stack, ok := model.Body.(dsrnn.Stack)
	if !ok {
		t.Fatalf("body is not a Stack: %T", model.Body)
	}
	if len(stack) != 3 {
		t.Errorf("expected 3 blocks, but got %d", len(stack))
	}

	bad := `
Input(w=1, h=1, d=5)
LSTM(out=8)
`
	_, err = NewModelFromMarkup(c, testSchema(), bad)
	var confErr *deepsaber.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Errorf("expected ConfigurationError, but got %v", err)
	}
}

// Package dsmodel builds the recurrent models that map
// audio feature windows to beatmap event streams.
package dsmodel

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dfwarden/deepsaber"
	"github.com/dfwarden/deepsaber/dsrnn"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var m Model
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeModel)
}

// A Model pairs a recurrent body with one feed-forward
// head per output stream.
//
// The body consumes whole input frames and the heads
// translate its features into the per-stream outputs
// named by the schema.
// Categorical heads end in log-softmax, so their outputs
// are log-probabilities.
type Model struct {
	Schema *deepsaber.Schema
	Body   dsrnn.Block

	// Heads is aligned with Schema.Outputs.
	Heads []deepsaber.Net
}

// A ModelConfig describes a standard LSTM model body.
type ModelConfig struct {
	// StateSizes holds the output size of each LSTM
	// layer, from bottom to top.
	StateSizes []int

	// DropoutKeep enables dropout between LSTM layers
	// when it is inside (0, 1).
	DropoutKeep float64
}

// NewModel creates a randomized model with a stacked
// LSTM body.
func NewModel(c anyvec.Creator, schema *deepsaber.Schema, conf ModelConfig) (*Model, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if len(conf.StateSizes) == 0 {
		return nil, &deepsaber.ConfigurationError{Reason: "no LSTM layers"}
	}
	var body dsrnn.Stack
	in := schema.InputWidth()
	for i, size := range conf.StateSizes {
		if size <= 0 {
			return nil, &deepsaber.ConfigurationError{
				Reason: fmt.Sprintf("LSTM layer %d has size %d", i, size),
			}
		}
		body = append(body, dsrnn.NewLSTM(c, in, size))
		if conf.DropoutKeep > 0 && conf.DropoutKeep < 1 && i+1 < len(conf.StateSizes) {
			body = append(body, &dsrnn.LayerBlock{
				Layer: &deepsaber.Dropout{
					Enabled:  true,
					KeepProb: conf.DropoutKeep,
				},
			})
		}
		in = size
	}
	return &Model{
		Schema: schema,
		Body:   body,
		Heads:  newHeads(c, schema, in),
	}, nil
}

// NewModelFromMarkup creates a randomized model whose
// body comes from a markup description (see
// dsrnn.FromMarkup).
func NewModelFromMarkup(c anyvec.Creator, schema *deepsaber.Schema, code string) (*Model, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	inSize, outSize, err := dsrnn.MarkupSizes(code)
	if err != nil {
		return nil, essentials.AddCtx("make model", err)
	}
	if inSize != schema.InputWidth() {
		return nil, &deepsaber.ConfigurationError{
			Reason: fmt.Sprintf("markup consumes %d inputs, schema provides %d",
				inSize, schema.InputWidth()),
		}
	}
	body, err := dsrnn.FromMarkup(c, code)
	if err != nil {
		return nil, essentials.AddCtx("make model", err)
	}
	return &Model{
		Schema: schema,
		Body:   body,
		Heads:  newHeads(c, schema, outSize),
	}, nil
}

func newHeads(c anyvec.Creator, schema *deepsaber.Schema, in int) []deepsaber.Net {
	var heads []deepsaber.Net
	for _, spec := range schema.Outputs {
		head := deepsaber.Net{deepsaber.NewFC(c, in, spec.Width)}
		if spec.Kind == deepsaber.Categorical {
			head = append(head, deepsaber.LogSoftmax)
		}
		heads = append(heads, head)
	}
	return heads
}

// DeserializeModel deserializes a Model.
func DeserializeModel(d []byte) (*Model, error) {
	var schemaStr string
	var body dsrnn.Block
	var heads deepsaber.Net
	if err := serializer.DeserializeAny(d, &schemaStr, &body, &heads); err != nil {
		return nil, essentials.AddCtx("deserialize model", err)
	}
	var schema deepsaber.Schema
	if err := json.Unmarshal([]byte(schemaStr), &schema); err != nil {
		return nil, essentials.AddCtx("deserialize model", err)
	}
	res := &Model{Schema: &schema, Body: body}
	for i, h := range heads {
		net, ok := h.(deepsaber.Net)
		if !ok {
			return nil, fmt.Errorf("deserialize model: head %d is not a Net: %T", i, h)
		}
		res.Heads = append(res.Heads, net)
	}
	if len(res.Heads) != len(schema.Outputs) {
		return nil, fmt.Errorf("deserialize model: have %d heads for %d output streams",
			len(res.Heads), len(schema.Outputs))
	}
	return res, nil
}

// SaveFile serializes a model and writes it to a file.
func SaveFile(path string, m *Model) error {
	data, err := serializer.SerializeAny(m)
	if err != nil {
		return essentials.AddCtx("save model", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return essentials.AddCtx("save model", err)
	}
	return nil
}

// LoadFile reads a model which was written by SaveFile.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load model", err)
	}
	var res *Model
	if err := serializer.DeserializeAny(data, &res); err != nil {
		return nil, essentials.AddCtx("load model", err)
	}
	return res, nil
}

// Creator returns the vector creator the model's weights
// live on.
func (m *Model) Creator() anyvec.Creator {
	return m.Parameters()[0].Vector.Creator()
}

// Apply runs the model over a batch of windows, giving
// one output sequence per output stream, in schema order.
func (m *Model) Apply(in anyseq.Seq) []anyseq.Seq {
	return m.HeadOutputs(dsrnn.Map(in, m.Body))
}

// HeadOutputs applies every head to a body output
// sequence, giving one sequence per output stream in
// schema order.
//
// Callers that carry recurrent state across windows can
// produce the body sequence themselves with
// dsrnn.MapWithStart.
func (m *Model) HeadOutputs(body anyseq.Seq) []anyseq.Seq {
	res := make([]anyseq.Seq, len(m.Heads))
	for i, h := range m.Heads {
		head := h
		res[i] = anyseq.Map(body, func(v anydiff.Res, n int) anydiff.Res {
			return head.Apply(v, n)
		})
	}
	return res
}

// Parameters returns the parameters of the body and every
// head.
func (m *Model) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	if p, ok := m.Body.(deepsaber.Parameterizer); ok {
		res = append(res, p.Parameters()...)
	}
	for _, h := range m.Heads {
		res = append(res, h.Parameters()...)
	}
	return res
}

// WeightTensors returns every named tensor of the model.
// Body tensors are prefixed with "body/" and head tensors
// with "head/" followed by the stream name.
func (m *Model) WeightTensors() []deepsaber.WeightTensor {
	var res []deepsaber.WeightTensor
	if w, ok := m.Body.(deepsaber.Weighted); ok {
		res = append(res, deepsaber.PrefixWeights("body/", w.WeightTensors())...)
	}
	for i, h := range m.Heads {
		prefix := "head/" + m.Schema.Outputs[i].Name + "/"
		res = append(res, deepsaber.PrefixWeights(prefix, h.WeightTensors())...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a Model with the serializer package.
func (m *Model) SerializerType() string {
	return "github.com/dfwarden/deepsaber/dsmodel.Model"
}

// Serialize serializes the Model.
func (m *Model) Serialize() ([]byte, error) {
	schemaData, err := json.Marshal(m.Schema)
	if err != nil {
		return nil, err
	}
	body, ok := m.Body.(serializer.Serializer)
	if !ok {
		return nil, fmt.Errorf("cannot serialize body: %T", m.Body)
	}
	heads := make(deepsaber.Net, len(m.Heads))
	for i, h := range m.Heads {
		heads[i] = h
	}
	return serializer.SerializeAny(string(schemaData), body, heads)
}

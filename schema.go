package deepsaber

import "fmt"

// Reserved output stream names.
//
// A categorical output stream named WordID carries the
// discrete action-word index; a regression output stream
// named WordVec carries the continuous action embedding.
// The two are interchangeable representations of the same
// logical label and the trainer derives one from the
// other when only one is produced.
const (
	WordID  = "word_id"
	WordVec = "word_vec"
)

// A StreamKind says how a stream's per-frame values are
// to be interpreted.
type StreamKind int

const (
	// Regression streams carry raw continuous vectors.
	Regression StreamKind = iota

	// Categorical streams carry a class per frame, stored
	// either as a single index or as a one-hot row of the
	// declared width.
	Categorical
)

// String returns "regression" or "categorical".
func (s StreamKind) String() string {
	switch s {
	case Regression:
		return "regression"
	case Categorical:
		return "categorical"
	}
	return fmt.Sprintf("StreamKind(%d)", int(s))
}

// A StreamSpec declares one named stream: its per-frame
// width and how its values are interpreted.
type StreamSpec struct {
	Name  string     `json:"name"`
	Kind  StreamKind `json:"kind"`
	Width int        `json:"width"`
}

// A Schema declares the named streams a model consumes
// and produces, in a fixed order.
// The list a spec appears in is its role: specs in Inputs
// are model inputs, specs in Outputs are model outputs
// and training targets.
type Schema struct {
	Inputs  []StreamSpec `json:"inputs"`
	Outputs []StreamSpec `json:"outputs"`
}

// Validate checks the schema for empty sections,
// duplicate names, and non-positive widths.
// It returns a *ConfigurationError if anything is wrong.
func (s *Schema) Validate() error {
	if len(s.Inputs) == 0 {
		return &ConfigurationError{Reason: "schema has no input streams"}
	}
	if len(s.Outputs) == 0 {
		return &ConfigurationError{Reason: "schema has no output streams"}
	}
	seen := map[string]bool{}
	for _, spec := range s.Streams() {
		if spec.Name == "" {
			return &ConfigurationError{Reason: "stream with empty name"}
		}
		if spec.Width <= 0 {
			return &ConfigurationError{
				Reason: fmt.Sprintf("stream %q has width %d", spec.Name, spec.Width),
			}
		}
		if spec.Kind != Regression && spec.Kind != Categorical {
			return &ConfigurationError{
				Reason: fmt.Sprintf("stream %q has unknown kind %d", spec.Name, int(spec.Kind)),
			}
		}
		if seen[spec.Name] {
			return &ConfigurationError{
				Reason: fmt.Sprintf("duplicate stream name %q", spec.Name),
			}
		}
		seen[spec.Name] = true
	}
	return nil
}

// Streams returns all specs, inputs first, in declaration
// order.
func (s *Schema) Streams() []StreamSpec {
	res := make([]StreamSpec, 0, len(s.Inputs)+len(s.Outputs))
	res = append(res, s.Inputs...)
	return append(res, s.Outputs...)
}

// InputWidth returns the total per-frame width of all
// input streams concatenated in declaration order.
func (s *Schema) InputWidth() int {
	var total int
	for _, spec := range s.Inputs {
		total += spec.Width
	}
	return total
}

// Input finds an input spec by name.
func (s *Schema) Input(name string) (StreamSpec, bool) {
	return findSpec(s.Inputs, name)
}

// Output finds an output spec by name.
func (s *Schema) Output(name string) (StreamSpec, bool) {
	return findSpec(s.Outputs, name)
}

func findSpec(specs []StreamSpec, name string) (StreamSpec, bool) {
	for _, spec := range specs {
		if spec.Name == name {
			return spec, true
		}
	}
	return StreamSpec{}, false
}

package dsseq

import (
	"fmt"
	"math"

	"github.com/dfwarden/deepsaber"
)

// An Entity is one song's worth of aligned feature
// streams.
//
// Regression streams hold Width values per frame.
// Categorical streams hold one class index per frame.
type Entity struct {
	Name    string
	Streams map[string][]float64
}

// Validate checks the entity against a schema.
//
// Every schema stream must be present, regression streams
// must divide evenly into frames, all streams must agree
// on their frame count, and categorical values must be
// integral class indices inside the stream's width.
func (e *Entity) Validate(schema *deepsaber.Schema) error {
	want := -1
	for _, spec := range schema.Streams() {
		data, ok := e.Streams[spec.Name]
		if !ok {
			return &deepsaber.ConfigurationError{
				Reason: fmt.Sprintf("entity %q is missing stream %q", e.Name, spec.Name),
			}
		}
		if spec.Kind == deepsaber.Regression && len(data)%spec.Width != 0 {
			return &deepsaber.ConfigurationError{
				Reason: fmt.Sprintf("entity %q: stream %q has %d values, not a multiple of %d",
					e.Name, spec.Name, len(data), spec.Width),
			}
		}
		frames := streamFrames(&spec, data)
		if want == -1 {
			want = frames
		} else if frames != want {
			return &deepsaber.ShapeMismatchError{
				Entity: e.Name,
				Stream: spec.Name,
				Want:   want,
				Got:    frames,
			}
		}
		if spec.Kind == deepsaber.Categorical {
			for i, v := range data {
				if v != math.Trunc(v) || v < 0 || int(v) >= spec.Width {
					return &deepsaber.ConfigurationError{
						Reason: fmt.Sprintf("entity %q: stream %q frame %d: invalid class %v",
							e.Name, spec.Name, i, v),
					}
				}
			}
		}
	}
	return nil
}

// Frames returns the frame count shared by the entity's
// streams.
// It assumes the entity passed Validate.
func (e *Entity) Frames(schema *deepsaber.Schema) int {
	specs := schema.Streams()
	if len(specs) == 0 {
		return 0
	}
	return streamFrames(&specs[0], e.Streams[specs[0].Name])
}

func streamFrames(spec *deepsaber.StreamSpec, data []float64) int {
	if spec.Kind == deepsaber.Categorical {
		return len(data)
	}
	return len(data) / spec.Width
}

package dsseq

import (
	"errors"
	"testing"

	"github.com/dfwarden/deepsaber"
)

func validationSchema() *deepsaber.Schema {
	return &deepsaber.Schema{
		Inputs: []deepsaber.StreamSpec{
			{Name: "audio", Kind: deepsaber.Regression, Width: 3},
		},
		Outputs: []deepsaber.StreamSpec{
			{Name: "note", Kind: deepsaber.Categorical, Width: 5},
		},
	}
}

func validEntity(frames int) *Entity {
	audio := make([]float64, frames*3)
	note := make([]float64, frames)
	for t := 0; t < frames; t++ {
		for k := 0; k < 3; k++ {
			audio[t*3+k] = float64(t*3 + k)
		}
		note[t] = float64(t % 5)
	}
	return &Entity{
		Name:    "song",
		Streams: map[string][]float64{"audio": audio, "note": note},
	}
}

func TestEntityValidate(t *testing.T) {
	schema := validationSchema()

	if err := validEntity(4).Validate(schema); err != nil {
		t.Errorf("valid entity: %v", err)
	}

	e := validEntity(4)
	delete(e.Streams, "note")
	var confErr *deepsaber.ConfigurationError
	if err := e.Validate(schema); !errors.As(err, &confErr) {
		t.Errorf("missing stream: expected ConfigurationError, got %v", err)
	}

	e = validEntity(4)
	e.Streams["audio"] = e.Streams["audio"][:11]
	if err := e.Validate(schema); !errors.As(err, &confErr) {
		t.Errorf("ragged regression: expected ConfigurationError, got %v", err)
	}

	e = validEntity(4)
	e.Streams["note"] = e.Streams["note"][:3]
	var shapeErr *deepsaber.ShapeMismatchError
	if err := e.Validate(schema); !errors.As(err, &shapeErr) {
		t.Errorf("frame mismatch: expected ShapeMismatchError, got %v", err)
	} else if shapeErr.Want != 4 || shapeErr.Got != 3 {
		t.Errorf("frame mismatch: want=%d got=%d", shapeErr.Want, shapeErr.Got)
	}

	for _, bad := range []float64{1.5, -1, 5} {
		e = validEntity(4)
		e.Streams["note"][2] = bad
		if err := e.Validate(schema); !errors.As(err, &confErr) {
			t.Errorf("class %v: expected ConfigurationError, got %v", bad, err)
		}
	}
}

func TestEntityFrames(t *testing.T) {
	schema := validationSchema()
	e := validEntity(7)
	if f := e.Frames(schema); f != 7 {
		t.Errorf("expected 7 frames, got %d", f)
	}
}

package deepsaber

import "fmt"

// A ConfigurationError indicates an invalid window,
// batch, or stream setup.
// It is always raised before the first training step.
type ConfigurationError struct {
	Reason string
}

// Error returns a human-readable message.
func (c *ConfigurationError) Error() string {
	return "invalid configuration: " + c.Reason
}

// A ShapeMismatchError indicates that two streams of the
// same entity disagree on their frame counts.
type ShapeMismatchError struct {
	Entity string
	Stream string

	// Want is the frame count of the entity's first
	// stream; Got is the frame count of Stream.
	Want int
	Got  int
}

// Error returns a human-readable message.
func (s *ShapeMismatchError) Error() string {
	return fmt.Sprintf("entity %q: stream %q has %d frames, expected %d",
		s.Entity, s.Stream, s.Got, s.Want)
}

// A MissingVocabularyError indicates that the vocabulary
// artifact could not be loaded.
// Components that require vector-space metrics cannot be
// constructed without a vocabulary.
type MissingVocabularyError struct {
	Path string
	Err  error
}

// Error returns a human-readable message.
func (m *MissingVocabularyError) Error() string {
	return fmt.Sprintf("missing vocabulary %q: %s", m.Path, m.Err)
}

// Unwrap returns the underlying load error.
func (m *MissingVocabularyError) Unwrap() error {
	return m.Err
}

// A VocabularyUnavailableError indicates that vector
// metrics were requested but no embedding bridge was
// supplied.
// It is raised when the trainer is constructed, never
// mid-training.
type VocabularyUnavailableError struct {
	Reason string
}

// Error returns a human-readable message.
func (v *VocabularyUnavailableError) Error() string {
	return "vocabulary unavailable: " + v.Reason
}

// A WeightShapeMismatchError indicates that a tensor in
// the source and destination models of a transplant has
// drifted in shape.
type WeightShapeMismatchError struct {
	Name string
	Src  int
	Dst  int
}

// Error returns a human-readable message.
func (w *WeightShapeMismatchError) Error() string {
	return fmt.Sprintf("weight %q: source has %d components, destination has %d",
		w.Name, w.Src, w.Dst)
}

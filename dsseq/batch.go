package dsseq

// A StreamArray is a dense [Batch, Time, Width] block of
// one stream's values.
type StreamArray struct {
	Batch int
	Time  int
	Width int

	// Data is indexed as ((b*Time)+t)*Width + k.
	Data []float64
}

func newStreamArray(batch, time, width int) *StreamArray {
	return &StreamArray{
		Batch: batch,
		Time:  time,
		Width: width,
		Data:  make([]float64, batch*time*width),
	}
}

// At returns the frame at batch slot b and timestep t as
// a slice into Data.
func (s *StreamArray) At(b, t int) []float64 {
	start := ((b * s.Time) + t) * s.Width
	return s.Data[start : start+s.Width]
}

// A Batch is one fixed-shape training step's worth of
// windows.
type Batch struct {
	// Inputs and Targets hold one array per schema
	// stream.
	// Categorical streams are one-hot expanded.
	Inputs  map[string]*StreamArray
	Targets map[string]*StreamArray

	// Weights holds one sample weight per slot and
	// timestep, with width 1.
	// Padded cells get weight zero.
	Weights *StreamArray

	// Restarts marks slots whose window does not continue
	// the slot's window from the previous batch, so
	// recurrent state must restart there.
	Restarts []bool
}

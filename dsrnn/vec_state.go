package dsrnn

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A VecState is a State and/or StateGrad that can be
// expressed as a vector.
type VecState struct {
	Vector     anyvec.Vector
	PresentMap PresentMap
}

// NewVecState generates a VecState with the vector
// repeated n times.
func NewVecState(v anyvec.Vector, n int) *VecState {
	rep := v.Creator().MakeVector(v.Len() * n)
	anyvec.AddRepeated(rep, v)
	p := make([]bool, n)
	for i := range p {
		p[i] = true
	}
	return &VecState{
		Vector:     rep,
		PresentMap: p,
	}
}

// Present returns the PresentMap.
func (v *VecState) Present() PresentMap {
	return v.PresentMap
}

// Reduce generates a new *VecState with a subset of the
// chunks in v.
func (v *VecState) Reduce(p PresentMap) State {
	n := v.PresentMap.NumPresent()
	inc := v.Vector.Len() / n

	var chunks []anyvec.Vector
	var chunkStart, chunkSize int
	for i, pres := range p {
		if pres {
			if !v.PresentMap[i] {
				panic("argument to Reduce must be a subset")
			}
			chunkSize += inc
		} else if v.PresentMap[i] {
			if chunkSize > 0 {
				chunks = append(chunks, v.Vector.Slice(chunkStart, chunkStart+chunkSize))
				chunkStart += chunkSize
				chunkSize = 0
			}
			chunkStart += inc
		}
	}
	if chunkSize > 0 {
		chunks = append(chunks, v.Vector.Slice(chunkStart, chunkStart+chunkSize))
	}

	return &VecState{
		Vector:     v.Vector.Creator().Concat(chunks...),
		PresentMap: p,
	}
}

// Expand expands the *VecState by inserting zero chunks
// where necessary, producing a new *VecState.
func (v *VecState) Expand(p PresentMap) StateGrad {
	n := v.PresentMap.NumPresent()
	inc := v.Vector.Len() / n
	filler := v.Vector.Creator().MakeVector(inc)

	var chunks []anyvec.Vector
	var chunkStart, chunkSize int

	for i, pres := range p {
		if v.PresentMap[i] {
			if !pres {
				panic("argument to Expand must be a superset")
			}
			chunkSize += inc
		} else if pres {
			if chunkSize > 0 {
				chunks = append(chunks, v.Vector.Slice(chunkStart, chunkStart+chunkSize))
				chunkStart += chunkSize
				chunkSize = 0
			}
			chunks = append(chunks, filler)
		}
	}
	if chunkSize > 0 {
		chunks = append(chunks, v.Vector.Slice(chunkStart, chunkSize+chunkStart))
	}

	return &VecState{
		Vector:     v.Vector.Creator().Concat(chunks...),
		PresentMap: p,
	}
}

// Mask produces a new *VecState in which every flagged
// chunk is replaced by the corresponding chunk of fresh.
//
// All sequences in both states must be present.
func (v *VecState) Mask(fresh State, replace []bool) State {
	fv := fresh.(*VecState)
	v.assertAllPresent()
	fv.assertAllPresent()

	n := len(v.PresentMap)
	inc := v.Vector.Len() / n
	chunks := make([]anyvec.Vector, n)
	for i, r := range replace {
		src := v.Vector
		if r {
			src = fv.Vector
		}
		chunks[i] = src.Slice(i*inc, (i+1)*inc)
	}
	return &VecState{
		Vector:     v.Vector.Creator().Concat(chunks...),
		PresentMap: v.PresentMap,
	}
}

// Keep produces a new *VecState in which every chunk
// whose flag is false is zeroed.
//
// All sequences must be present.
func (v *VecState) Keep(flags []bool) StateGrad {
	v.assertAllPresent()

	n := len(v.PresentMap)
	inc := v.Vector.Len() / n
	filler := v.Vector.Creator().MakeVector(inc)
	chunks := make([]anyvec.Vector, n)
	for i, keep := range flags {
		if keep {
			chunks[i] = v.Vector.Slice(i*inc, (i+1)*inc)
		} else {
			chunks[i] = filler
		}
	}
	return &VecState{
		Vector:     v.Vector.Creator().Concat(chunks...),
		PresentMap: v.PresentMap,
	}
}

// PropagateStart propagates the contents of the vector,
// treated as a batched upstream gradient, through the
// variable.
//
// All sequences must be present.
func (v *VecState) PropagateStart(va *anydiff.Var, g anydiff.Grad) {
	v.assertAllPresent()
	if dest, ok := g[va]; ok {
		cols := v.Vector.Len() / len(v.PresentMap)
		dest.Add(anyvec.SumRows(v.Vector, cols))
	}
}

func (v *VecState) assertAllPresent() {
	for _, x := range v.PresentMap {
		if !x {
			panic("all sequences must be present")
		}
	}
}

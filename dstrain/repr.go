package dstrain

import "github.com/dfwarden/deepsaber/dsvocab"

// A reprSet lazily holds one side of a step's discrete
// predictions in up to three interchangeable forms:
// vocabulary ids, embedding vectors, and per-class
// scores.
//
// Construction fills in the forms the forward pass
// produced natively; the rest are derived through the
// bridge on first use and memoized, so no conversion
// runs twice within a step.
type reprSet struct {
	bridge *dsvocab.Bridge

	ids  []int
	vecs []float64

	scores     []float64
	scoreWidth int

	// probScores marks scores that are probabilities, as
	// opposed to similarities.
	probScores bool

	// tokens is the fallback source of vectors for models
	// whose discrete output lives in element streams.
	// At most limit rows of it are resolved.
	tokens []string
	limit  int
}

func (r *reprSet) empty() bool {
	return r.ids == nil && r.vecs == nil && r.scores == nil && r.tokens == nil
}

// IDs returns the vocabulary id form, deriving it if
// necessary. It returns nil when no derivation exists.
func (r *reprSet) IDs() []int {
	if r.ids != nil || r.empty() {
		return r.ids
	}
	if r.tokens != nil {
		if r.bridge == nil {
			return nil
		}
		r.ids = make([]int, len(r.tokens))
		for i, tok := range r.tokens {
			r.ids[i] = r.bridge.ID(tok)
		}
	} else if scores := r.Scores(); scores != nil {
		r.ids = argmaxRows(scores, r.scoreWidth)
	}
	return r.ids
}

// Vecs returns the embedding vector form, flattened
// row-major, deriving it if necessary.
func (r *reprSet) Vecs() []float64 {
	if r.vecs != nil || r.empty() || r.bridge == nil {
		return r.vecs
	}
	if r.tokens != nil {
		r.vecs = floatData(r.bridge.FallbackVectors(r.tokens, r.limit))
	} else if ids := r.IDs(); ids != nil {
		r.vecs = floatData(r.bridge.Vectors(ids))
	}
	return r.vecs
}

// Scores returns per-class scores, one row per prediction
// across the whole vocabulary, deriving them from the
// vector form if necessary.
func (r *reprSet) Scores() []float64 {
	if r.scores != nil || r.empty() {
		return r.scores
	}
	if r.bridge == nil {
		return nil
	}
	vecs := r.Vecs()
	if vecs == nil {
		return nil
	}
	c := r.bridge.Creator()
	queries := c.MakeVectorData(c.MakeNumericList(vecs))
	n := len(vecs) / r.bridge.Dim()
	r.scores = floatData(r.bridge.Similarity(queries, n))
	r.scoreWidth = r.bridge.Rows()
	return r.scores
}

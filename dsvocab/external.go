package dsvocab

import (
	"github.com/sirupsen/logrus"
	"github.com/unixpickle/anyvec"
)

// An ExternalLookup resolves tokens that are missing from
// the trained vocabulary to vectors in the same space,
// typically by querying a larger pre-trained word-vector
// model.
type ExternalLookup interface {
	LookupVector(token string) ([]float64, error)
}

// FallbackVectors resolves tokens to an
// [len(tokens), Dim] vector, consulting the table first
// and the External lookup for novel tokens.
//
// Only the first limit rows are resolved at all; the
// rest stay zero. A failed or missing lookup also yields
// a zero row plus a logged warning, never an error, so a
// metric pass survives a flaky external model.
// Resolved rows come back L2-normalized like table rows.
func (b *Bridge) FallbackVectors(tokens []string, limit int) anyvec.Vector {
	if limit > len(tokens) {
		limit = len(tokens)
	}
	flat := make([]float64, len(tokens)*b.dim)
	for i := 0; i < limit; i++ {
		row := flat[i*b.dim : (i+1)*b.dim]
		tok := tokens[i]
		if id, ok := b.ids[tok]; ok {
			copy(row, floatData(b.table.Slice(id*b.dim, (id+1)*b.dim)))
			continue
		}
		if b.External == nil {
			continue
		}
		vec, err := b.External.LookupVector(tok)
		if err != nil {
			b.logger().WithError(err).WithField("token", tok).
				Warn("external vector lookup failed")
			continue
		}
		if len(vec) != b.dim {
			b.logger().WithField("token", tok).
				Warnf("external vector has width %d, not %d", len(vec), b.dim)
			continue
		}
		copy(row, vec)
		normalizeRows(row, b.dim)
	}
	c := b.table.Creator()
	return c.MakeVectorData(c.MakeNumericList(flat))
}

func (b *Bridge) logger() *logrus.Logger {
	if b.Log != nil {
		return b.Log
	}
	return logrus.StandardLogger()
}

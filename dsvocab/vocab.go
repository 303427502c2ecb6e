// Package dsvocab bridges discrete token ids and a fixed
// external word-vector vocabulary.
//
// The vector table reserves row 0 for padding and row 1
// for unknown tokens. Both reserved rows are zero, so
// padded or unresolved tokens score zero similarity
// against every real row; rare tokens that miss a
// fallback lookup share that skew, which deflates vector
// metrics for them rather than failing a step.
package dsvocab

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"

	"github.com/dfwarden/deepsaber"
)

func init() {
	var b Bridge
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBridge)
}

// Reserved table rows.
const (
	PadID     = 0
	UnknownID = 1

	ReservedRows = 2
)

// A Bridge converts between discrete token ids and rows
// of an immutable vector table.
//
// A vocabulary of V tokens yields a table of V+2 rows,
// every row L2-normalized at load time.
type Bridge struct {
	// External, when set, resolves tokens outside the
	// vocabulary.
	External ExternalLookup

	// Log receives warnings about degraded lookups.
	// Nil means the logrus standard logger.
	Log *logrus.Logger

	tokens []string
	ids    map[string]int
	dim    int
	table  anyvec.Vector
}

// NewBridge builds a bridge over parallel token and
// vector lists.
// The vectors are copied and L2-normalized.
func NewBridge(c anyvec.Creator, tokens []string, vectors [][]float64) (*Bridge, error) {
	if len(tokens) == 0 {
		return nil, &deepsaber.ConfigurationError{Reason: "empty vocabulary"}
	}
	if len(tokens) != len(vectors) {
		return nil, &deepsaber.ConfigurationError{
			Reason: fmt.Sprintf("%d tokens for %d vectors", len(tokens), len(vectors)),
		}
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, &deepsaber.ConfigurationError{Reason: "zero-width vectors"}
	}
	ids := map[string]int{}
	flat := make([]float64, (len(tokens)+ReservedRows)*dim)
	for i, tok := range tokens {
		if _, ok := ids[tok]; ok {
			return nil, &deepsaber.ConfigurationError{
				Reason: fmt.Sprintf("duplicate token %q", tok),
			}
		}
		ids[tok] = i + ReservedRows
		if len(vectors[i]) != dim {
			return nil, &deepsaber.ConfigurationError{
				Reason: fmt.Sprintf("token %q: vector width %d, not %d",
					tok, len(vectors[i]), dim),
			}
		}
		copy(flat[(i+ReservedRows)*dim:], vectors[i])
	}
	normalizeRows(flat, dim)
	return &Bridge{
		tokens: append([]string{}, tokens...),
		ids:    ids,
		dim:    dim,
		table:  c.MakeVectorData(c.MakeNumericList(flat)),
	}, nil
}

// Load reads a vocabulary artifact from path.
//
// The error is a *deepsaber.MissingVocabularyError both
// for a missing file and for a corrupt one, since either
// way no vocabulary is available.
func Load(path string) (*Bridge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &deepsaber.MissingVocabularyError{Path: path, Err: err}
	}
	var res *Bridge
	if err := serializer.DeserializeAny(data, &res); err != nil {
		return nil, &deepsaber.MissingVocabularyError{Path: path, Err: err}
	}
	return res, nil
}

// Save writes the vocabulary artifact to path.
func (b *Bridge) Save(path string) error {
	data, err := serializer.SerializeAny(b)
	if err != nil {
		return essentials.AddCtx("save vocabulary", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return essentials.AddCtx("save vocabulary", err)
	}
	return nil
}

// DeserializeBridge deserializes a Bridge.
// The table rows are normalized here, so artifacts built
// by other tools need not pre-normalize.
func DeserializeBridge(d []byte) (*Bridge, error) {
	var tokenData string
	var dim serializer.Int
	var table *anyvecsave.S
	if err := serializer.DeserializeAny(d, &tokenData, &dim, &table); err != nil {
		return nil, essentials.AddCtx("deserialize Bridge", err)
	}
	var tokens []string
	if err := json.Unmarshal([]byte(tokenData), &tokens); err != nil {
		return nil, essentials.AddCtx("deserialize Bridge", err)
	}
	if dim <= 0 || table.Vector.Len() != (len(tokens)+ReservedRows)*int(dim) {
		return nil, fmt.Errorf("deserialize Bridge: table length %d for %d tokens of width %d",
			table.Vector.Len(), len(tokens), int(dim))
	}
	flat := floatData(table.Vector)
	normalizeRows(flat, int(dim))
	c := table.Vector.Creator()
	res := &Bridge{
		tokens: tokens,
		ids:    map[string]int{},
		dim:    int(dim),
		table:  c.MakeVectorData(c.MakeNumericList(flat)),
	}
	for i, tok := range tokens {
		if _, ok := res.ids[tok]; ok {
			return nil, fmt.Errorf("deserialize Bridge: duplicate token %q", tok)
		}
		res.ids[tok] = i + ReservedRows
	}
	return res, nil
}

// SerializerType returns the unique ID used to serialize
// a Bridge with the serializer package.
func (b *Bridge) SerializerType() string {
	return "github.com/dfwarden/deepsaber/dsvocab.Bridge"
}

// Serialize serializes the Bridge.
func (b *Bridge) Serialize() ([]byte, error) {
	tokenData, err := json.Marshal(b.tokens)
	if err != nil {
		return nil, err
	}
	return serializer.SerializeAny(
		string(tokenData),
		serializer.Int(b.dim),
		&anyvecsave.S{Vector: b.table},
	)
}

// Dim returns the width of every table row.
func (b *Bridge) Dim() int {
	return b.dim
}

// Rows returns the table height, the vocabulary size
// plus the two reserved rows.
func (b *Bridge) Rows() int {
	return len(b.tokens) + ReservedRows
}

// Creator returns the creator the table lives on.
func (b *Bridge) Creator() anyvec.Creator {
	return b.table.Creator()
}

// ID returns the table row for a token, or UnknownID if
// the token is not in the vocabulary.
func (b *Bridge) ID(token string) int {
	if id, ok := b.ids[token]; ok {
		return id
	}
	return UnknownID
}

// Token returns the token stored at a row, or "" for
// reserved and out-of-range rows.
func (b *Bridge) Token(id int) string {
	if id < ReservedRows || id >= b.Rows() {
		return ""
	}
	return b.tokens[id-ReservedRows]
}

// Vectors gathers the table rows for ids into one
// [len(ids), Dim] vector.
// Out-of-range ids use the unknown row.
func (b *Bridge) Vectors(ids []int) anyvec.Vector {
	rows := make([]anyvec.Vector, len(ids))
	for i, id := range ids {
		if id < 0 || id >= b.Rows() {
			id = UnknownID
		}
		rows[i] = b.table.Slice(id*b.dim, (id+1)*b.dim)
	}
	return b.table.Creator().Concat(rows...)
}

// Similarity scores n query rows against every table row
// by cosine similarity, producing an [n, Rows] matrix.
//
// Query rows are normalized here; zero rows score zero
// against everything.
func (b *Bridge) Similarity(queries anyvec.Vector, n int) anyvec.Vector {
	if n*b.dim != queries.Len() {
		panic("incorrect query size")
	}
	c := b.table.Creator()
	if n == 0 {
		return c.MakeVector(0)
	}
	flat := floatData(queries)
	normalizeRows(flat, b.dim)
	qMat := &anyvec.Matrix{
		Data: c.MakeVectorData(c.MakeNumericList(flat)),
		Rows: n,
		Cols: b.dim,
	}
	tMat := &anyvec.Matrix{Data: b.table, Rows: b.Rows(), Cols: b.dim}
	out := &anyvec.Matrix{
		Data: c.MakeVector(n * b.Rows()),
		Rows: n,
		Cols: b.Rows(),
	}
	out.Product(false, true, c.MakeNumeric(1), qMat, tMat, c.MakeNumeric(0))
	return out.Data
}

func normalizeRows(data []float64, dim int) {
	for start := 0; start+dim <= len(data); start += dim {
		var sum float64
		for _, x := range data[start : start+dim] {
			sum += x * x
		}
		if sum == 0 {
			continue
		}
		scale := 1 / math.Sqrt(sum)
		for i := start; i < start+dim; i++ {
			data[i] *= scale
		}
	}
}

func floatData(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	case []float64:
		return append([]float64{}, data...)
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", data))
	}
}

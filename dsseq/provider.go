// Package dsseq slices per-song feature streams into
// fixed-shape training batches.
//
// Batches are arranged so that batch i+1 continues batch
// i's window in every slot for as long as the underlying
// song lasts, which lets a trainer carry recurrent state
// across batches.
package dsseq

import (
	"fmt"
	"math/rand"

	"github.com/dfwarden/deepsaber"
)

// A Remainder selects how the provider fills batch cells
// left over when the window count does not divide evenly
// by the batch size.
type Remainder int

const (
	// PadRemainder fills leftover cells with zero
	// windows whose sample weight is zero.
	// It also admits entities shorter than one window:
	// they contribute a single window whose missing
	// frames are zero with zero weight.
	PadRemainder Remainder = iota

	// CycleRemainder wraps leftover cells around to the
	// head of the window list at full weight.
	// The repeated windows are slightly overweighted
	// within the pass.
	// Entities shorter than one window are rejected.
	CycleRemainder
)

// A Config describes how windows are cut and batched.
type Config struct {
	Schema *deepsaber.Schema

	// WindowLen is the number of frames per window.
	WindowLen int

	// BatchSize is the number of window slots per batch.
	BatchSize int

	// Stride is the frame distance between consecutive
	// window starts inside an entity.
	// Zero means WindowLen, i.e. no overlap.
	Stride int

	// Remainder picks the fill policy for leftover cells.
	Remainder Remainder

	// Rand orders entities.
	// Nil means a fixed seed, so two providers built from
	// equal configurations yield identical batches.
	Rand *rand.Rand
}

// A Provider cuts every entity into windows and arranges
// them into batches.
//
// Windows are laid out in columns: each of the BatchSize
// slots walks its own contiguous run of windows, so
// consecutive batches read consecutive windows per slot.
type Provider struct {
	conf     Config
	entities []*Entity
	windows  []window
	rows     int
}

type window struct {
	entity int
	start  int
}

// NewProvider validates the configuration and every
// entity, then lays out the first pass.
//
// Under PadRemainder, an entity shorter than one window
// contributes a single zero-padded window whose missing
// frames carry zero weight.
// Under CycleRemainder such entities are an error, since
// cycling never masks frames.
// Entities with no frames at all contribute nothing.
func NewProvider(conf Config, entities []*Entity) (*Provider, error) {
	if conf.Schema == nil {
		return nil, &deepsaber.ConfigurationError{Reason: "no schema"}
	}
	if err := conf.Schema.Validate(); err != nil {
		return nil, err
	}
	if conf.WindowLen <= 0 {
		return nil, &deepsaber.ConfigurationError{
			Reason: fmt.Sprintf("window length %d", conf.WindowLen),
		}
	}
	if conf.BatchSize <= 0 {
		return nil, &deepsaber.ConfigurationError{
			Reason: fmt.Sprintf("batch size %d", conf.BatchSize),
		}
	}
	if conf.Stride < 0 || conf.Stride > conf.WindowLen {
		return nil, &deepsaber.ConfigurationError{
			Reason: fmt.Sprintf("stride %d outside of (0, %d]", conf.Stride, conf.WindowLen),
		}
	}
	if conf.Stride == 0 {
		conf.Stride = conf.WindowLen
	}
	if conf.Remainder != PadRemainder && conf.Remainder != CycleRemainder {
		return nil, &deepsaber.ConfigurationError{Reason: "unknown remainder policy"}
	}
	if conf.Rand == nil {
		conf.Rand = rand.New(rand.NewSource(0))
	}
	if len(entities) == 0 {
		return nil, &deepsaber.ConfigurationError{Reason: "no entities"}
	}
	for _, e := range entities {
		if err := e.Validate(conf.Schema); err != nil {
			return nil, err
		}
		frames := e.Frames(conf.Schema)
		if conf.Remainder == CycleRemainder && frames > 0 && frames < conf.WindowLen {
			return nil, &deepsaber.ConfigurationError{
				Reason: fmt.Sprintf("window length %d exceeds entity %q with %d frames",
					conf.WindowLen, e.Name, frames),
			}
		}
	}
	p := &Provider{conf: conf, entities: append([]*Entity{}, entities...)}
	p.layout()
	if len(p.windows) == 0 {
		return nil, &deepsaber.ConfigurationError{Reason: "no entity has any frames"}
	}
	return p, nil
}

// Schema returns the schema batches are built against.
func (p *Provider) Schema() *deepsaber.Schema {
	return p.conf.Schema
}

// Len returns the number of batches in one pass.
func (p *Provider) Len() int {
	return p.rows
}

// Reshuffle re-orders the entities for a new pass.
// Batch indices refer to the new layout afterwards.
func (p *Provider) Reshuffle() {
	p.layout()
}

// Batch produces batch i of the current pass.
// It is pure: calling it twice yields equal batches.
func (p *Provider) Batch(i int) *Batch {
	if i < 0 || i >= p.rows {
		panic(fmt.Sprintf("batch index %d out of range [0, %d)", i, p.rows))
	}
	conf := p.conf
	res := &Batch{
		Inputs:   map[string]*StreamArray{},
		Targets:  map[string]*StreamArray{},
		Weights:  newStreamArray(conf.BatchSize, conf.WindowLen, 1),
		Restarts: make([]bool, conf.BatchSize),
	}
	for si := range conf.Schema.Inputs {
		spec := &conf.Schema.Inputs[si]
		res.Inputs[spec.Name] = newStreamArray(conf.BatchSize, conf.WindowLen, spec.Width)
	}
	for si := range conf.Schema.Outputs {
		spec := &conf.Schema.Outputs[si]
		res.Targets[spec.Name] = newStreamArray(conf.BatchSize, conf.WindowLen, spec.Width)
	}
	for slot := 0; slot < conf.BatchSize; slot++ {
		idx := slot*p.rows + i
		win, ok := p.cell(idx)
		if !ok {
			res.Restarts[slot] = true
			continue
		}
		res.Restarts[slot] = i == 0 || !p.follows(idx)
		e := p.entities[win.entity]
		limit := e.Frames(conf.Schema) - win.start
		if limit > conf.WindowLen {
			limit = conf.WindowLen
		}
		for t := 0; t < limit; t++ {
			res.Weights.At(slot, t)[0] = 1
		}
		for si := range conf.Schema.Inputs {
			spec := &conf.Schema.Inputs[si]
			copyStream(res.Inputs[spec.Name], slot, spec, e, win.start, limit)
		}
		for si := range conf.Schema.Outputs {
			spec := &conf.Schema.Outputs[si]
			copyStream(res.Targets[spec.Name], slot, spec, e, win.start, limit)
		}
	}
	return res
}

// layout shuffles the entity order and rebuilds the
// window list.
func (p *Provider) layout() {
	for i := 0; i < len(p.entities); i++ {
		j := i + p.conf.Rand.Intn(len(p.entities)-i)
		p.entities[i], p.entities[j] = p.entities[j], p.entities[i]
	}
	p.windows = p.windows[:0]
	for i, e := range p.entities {
		frames := e.Frames(p.conf.Schema)
		if frames > 0 && frames < p.conf.WindowLen {
			// Only reachable under PadRemainder; the tail
			// frames are masked out when the batch is built.
			p.windows = append(p.windows, window{entity: i, start: 0})
			continue
		}
		for start := 0; start+p.conf.WindowLen <= frames; start += p.conf.Stride {
			p.windows = append(p.windows, window{entity: i, start: start})
		}
	}
	p.rows = (len(p.windows) + p.conf.BatchSize - 1) / p.conf.BatchSize
}

// cell resolves the window at flat cell index idx, or
// ok=false for a padded cell.
func (p *Provider) cell(idx int) (window, bool) {
	if idx < len(p.windows) {
		return p.windows[idx], true
	}
	if p.conf.Remainder == CycleRemainder {
		return p.windows[idx%len(p.windows)], true
	}
	return window{}, false
}

// follows reports whether the window at flat index idx
// continues the window directly above it in its column.
func (p *Provider) follows(idx int) bool {
	cur, ok1 := p.cell(idx)
	prev, ok2 := p.cell(idx - 1)
	if !ok1 || !ok2 {
		return false
	}
	return cur.entity == prev.entity && cur.start == prev.start+p.conf.Stride
}

func copyStream(dst *StreamArray, slot int, spec *deepsaber.StreamSpec, e *Entity,
	start, limit int) {
	data := e.Streams[spec.Name]
	for t := 0; t < limit; t++ {
		frame := dst.At(slot, t)
		if spec.Kind == deepsaber.Categorical {
			frame[int(data[start+t])] = 1
		} else {
			base := (start + t) * spec.Width
			copy(frame, data[base:base+spec.Width])
		}
	}
}

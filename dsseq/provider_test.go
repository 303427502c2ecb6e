package dsseq

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/dfwarden/deepsaber"
)

// testWindowEntity encodes the entity id and frame index
// into every value so that batch cells can be traced back
// to their source window.
// Ids start at 1, so a decoded id of 0 means padding.
func testWindowEntity(id, frames int) *Entity {
	audio := make([]float64, frames*3)
	note := make([]float64, frames)
	for t := 0; t < frames; t++ {
		for k := 0; k < 3; k++ {
			audio[t*3+k] = float64(id*1000+t) + float64(k)/10
		}
		note[t] = float64((id + t) % 5)
	}
	return &Entity{
		Name:    string(rune('a' + id)),
		Streams: map[string][]float64{"audio": audio, "note": note},
	}
}

func decodeCell(b *Batch, slot int) (id, start int) {
	v := int(b.Inputs["audio"].At(slot, 0)[0])
	return v / 1000, v % 1000
}

func checkCellContents(t *testing.T, b *Batch, slot, id, start int) {
	audio := b.Inputs["audio"]
	note := b.Targets["note"]
	for ts := 0; ts < audio.Time; ts++ {
		frame := audio.At(slot, ts)
		for k := 0; k < 3; k++ {
			expected := float64(id*1000+start+ts) + float64(k)/10
			if math.Abs(frame[k]-expected) > 1e-9 {
				t.Errorf("slot %d time %d component %d: expected %v, got %v",
					slot, ts, k, expected, frame[k])
				return
			}
		}
		class := (id + start + ts) % 5
		for k, v := range note.At(slot, ts) {
			expected := 0.0
			if k == class {
				expected = 1
			}
			if v != expected {
				t.Errorf("slot %d time %d: bad one-hot for class %d", slot, ts, class)
				return
			}
		}
		if w := b.Weights.At(slot, ts)[0]; w != 1 {
			t.Errorf("slot %d time %d: weight %v", slot, ts, w)
			return
		}
	}
}

func TestProviderBatchCount(t *testing.T) {
	var entities []*Entity
	for i := 1; i <= 10; i++ {
		entities = append(entities, testWindowEntity(i, 64))
	}
	p, err := NewProvider(Config{
		Schema:    validationSchema(),
		WindowLen: 16,
		BatchSize: 4,
	}, entities)
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 10 {
		t.Errorf("expected 10 batches, got %d", p.Len())
	}
}

func TestProviderShapes(t *testing.T) {
	p, err := NewProvider(Config{
		Schema:    validationSchema(),
		WindowLen: 16,
		BatchSize: 4,
	}, []*Entity{testWindowEntity(1, 64)})
	if err != nil {
		t.Fatal(err)
	}
	b := p.Batch(0)
	dims := map[string][3]int{}
	for name, arr := range b.Inputs {
		dims["in:"+name] = [3]int{arr.Batch, arr.Time, arr.Width}
	}
	for name, arr := range b.Targets {
		dims["out:"+name] = [3]int{arr.Batch, arr.Time, arr.Width}
	}
	dims["weights"] = [3]int{b.Weights.Batch, b.Weights.Time, b.Weights.Width}
	expected := map[string][3]int{
		"in:audio": {4, 16, 3},
		"out:note": {4, 16, 5},
		"weights":  {4, 16, 1},
	}
	if !reflect.DeepEqual(dims, expected) {
		t.Errorf("expected dims %v, got %v", expected, dims)
	}
	if len(b.Restarts) != 4 {
		t.Errorf("expected 4 restart flags, got %d", len(b.Restarts))
	}
	for name, arr := range b.Inputs {
		if len(arr.Data) != arr.Batch*arr.Time*arr.Width {
			t.Errorf("stream %s: %d values", name, len(arr.Data))
		}
	}
}

func TestProviderContinuity(t *testing.T) {
	var entities []*Entity
	for i := 1; i <= 10; i++ {
		entities = append(entities, testWindowEntity(i, 64))
	}
	p, err := NewProvider(Config{
		Schema:    validationSchema(),
		WindowLen: 16,
		BatchSize: 4,
		Rand:      rand.New(rand.NewSource(3)),
	}, entities)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[[2]int]int{}
	last := make([][2]int, 4)
	for i := 0; i < p.Len(); i++ {
		b := p.Batch(i)
		for slot := 0; slot < 4; slot++ {
			id, start := decodeCell(b, slot)
			if id == 0 {
				t.Fatalf("batch %d slot %d: unexpected padding", i, slot)
			}
			seen[[2]int{id, start}]++
			if i == 0 {
				if !b.Restarts[slot] {
					t.Errorf("batch 0 slot %d: expected restart", slot)
				}
			} else {
				continues := id == last[slot][0] && start == last[slot][1]+16
				if continues == b.Restarts[slot] {
					t.Errorf("batch %d slot %d: restart=%v after window (%d, %d) -> (%d, %d)",
						i, slot, b.Restarts[slot], last[slot][0], last[slot][1], id, start)
				}
			}
			last[slot] = [2]int{id, start}
			checkCellContents(t, b, slot, id, start)
		}
	}
	if len(seen) != 40 {
		t.Errorf("expected 40 distinct windows, got %d", len(seen))
	}
	for pair, count := range seen {
		if count != 1 {
			t.Errorf("window %v appeared %d times", pair, count)
		}
	}
}

func TestProviderStride(t *testing.T) {
	p, err := NewProvider(Config{
		Schema:    validationSchema(),
		WindowLen: 16,
		BatchSize: 1,
		Stride:    8,
	}, []*Entity{testWindowEntity(1, 32)})
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 batches, got %d", p.Len())
	}
	for i, wantStart := range []int{0, 8, 16} {
		b := p.Batch(i)
		_, start := decodeCell(b, 0)
		if start != wantStart {
			t.Errorf("batch %d: expected start %d, got %d", i, wantStart, start)
		}
		if b.Restarts[0] != (i == 0) {
			t.Errorf("batch %d: restart=%v", i, b.Restarts[0])
		}
	}
}

func TestProviderPadRemainder(t *testing.T) {
	var entities []*Entity
	for i := 1; i <= 3; i++ {
		entities = append(entities, testWindowEntity(i, 32))
	}
	p, err := NewProvider(Config{
		Schema:    validationSchema(),
		WindowLen: 16,
		BatchSize: 4,
	}, entities)
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 2 {
		t.Fatalf("expected 2 batches, got %d", p.Len())
	}
	for i := 0; i < p.Len(); i++ {
		b := p.Batch(i)
		if !b.Restarts[3] {
			t.Errorf("batch %d: padded slot should restart", i)
		}
		for ts := 0; ts < 16; ts++ {
			if w := b.Weights.At(3, ts)[0]; w != 0 {
				t.Errorf("batch %d time %d: padded weight %v", i, ts, w)
			}
			for _, v := range b.Inputs["audio"].At(3, ts) {
				if v != 0 {
					t.Errorf("batch %d time %d: padded input %v", i, ts, v)
				}
			}
		}
		for slot := 0; slot < 3; slot++ {
			id, start := decodeCell(b, slot)
			if id == 0 {
				t.Errorf("batch %d slot %d: unexpected padding", i, slot)
				continue
			}
			checkCellContents(t, b, slot, id, start)
		}
	}
}

func TestProviderShortEntityPad(t *testing.T) {
	p, err := NewProvider(Config{
		Schema:    validationSchema(),
		WindowLen: 16,
		BatchSize: 1,
	}, []*Entity{testWindowEntity(1, 10)})
	if err != nil {
		t.Fatal(err)
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 batch, got %d", p.Len())
	}
	b := p.Batch(0)
	if !b.Restarts[0] {
		t.Error("expected a restart")
	}
	if id, start := decodeCell(b, 0); id != 1 || start != 0 {
		t.Errorf("expected window (1, 0), got (%d, %d)", id, start)
	}
	for ts := 0; ts < 16; ts++ {
		w := b.Weights.At(0, ts)[0]
		if ts < 10 {
			if w != 1 {
				t.Errorf("time %d: weight %v", ts, w)
			}
			if v := b.Inputs["audio"].At(0, ts)[0]; v != float64(1000+ts) {
				t.Errorf("time %d: expected %v, got %v", ts, float64(1000+ts), v)
			}
			continue
		}
		if w != 0 {
			t.Errorf("time %d: weight %v on a padded frame", ts, w)
		}
		for _, v := range b.Inputs["audio"].At(0, ts) {
			if v != 0 {
				t.Errorf("time %d: nonzero padded input %v", ts, v)
			}
		}
		for _, v := range b.Targets["note"].At(0, ts) {
			if v != 0 {
				t.Errorf("time %d: nonzero padded target %v", ts, v)
			}
		}
	}
}

func TestProviderCycleRemainder(t *testing.T) {
	var entities []*Entity
	for i := 1; i <= 3; i++ {
		entities = append(entities, testWindowEntity(i, 32))
	}
	p, err := NewProvider(Config{
		Schema:    validationSchema(),
		WindowLen: 16,
		BatchSize: 4,
		Remainder: CycleRemainder,
	}, entities)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < p.Len(); i++ {
		b := p.Batch(i)
		for slot := 0; slot < 4; slot++ {
			for ts := 0; ts < 16; ts++ {
				if w := b.Weights.At(slot, ts)[0]; w != 1 {
					t.Errorf("batch %d slot %d time %d: weight %v", i, slot, ts, w)
				}
			}
		}
		if b.Restarts[3] != b.Restarts[0] {
			t.Errorf("batch %d: cycled slot restart=%v, original %v",
				i, b.Restarts[3], b.Restarts[0])
		}
		for ts := 0; ts < 16; ts++ {
			a0 := b.Inputs["audio"].At(0, ts)
			a3 := b.Inputs["audio"].At(3, ts)
			if !reflect.DeepEqual(a0, a3) {
				t.Errorf("batch %d time %d: cycled slot differs", i, ts)
			}
		}
	}
	if b := p.Batch(1); b.Restarts[3] {
		t.Errorf("cycled slot should continue its own column")
	}
}

func TestProviderDeterminism(t *testing.T) {
	build := func() *Provider {
		var entities []*Entity
		for i := 1; i <= 6; i++ {
			entities = append(entities, testWindowEntity(i, 48))
		}
		p, err := NewProvider(Config{
			Schema:    validationSchema(),
			WindowLen: 16,
			BatchSize: 3,
		}, entities)
		if err != nil {
			t.Fatal(err)
		}
		return p
	}
	p1, p2 := build(), build()
	if p1.Len() != p2.Len() {
		t.Fatalf("lengths differ: %d vs %d", p1.Len(), p2.Len())
	}
	for i := 0; i < p1.Len(); i++ {
		if !reflect.DeepEqual(p1.Batch(i), p2.Batch(i)) {
			t.Errorf("batch %d differs between identical providers", i)
		}
		if !reflect.DeepEqual(p1.Batch(i), p1.Batch(i)) {
			t.Errorf("batch %d is not pure", i)
		}
	}
}

func TestProviderReshuffle(t *testing.T) {
	var entities []*Entity
	for i := 1; i <= 10; i++ {
		entities = append(entities, testWindowEntity(i, 64))
	}
	p, err := NewProvider(Config{
		Schema:    validationSchema(),
		WindowLen: 16,
		BatchSize: 4,
		Rand:      rand.New(rand.NewSource(9)),
	}, entities)
	if err != nil {
		t.Fatal(err)
	}
	collect := func() map[[2]int]int {
		res := map[[2]int]int{}
		for i := 0; i < p.Len(); i++ {
			b := p.Batch(i)
			for slot := 0; slot < 4; slot++ {
				id, start := decodeCell(b, slot)
				res[[2]int{id, start}]++
			}
		}
		return res
	}
	before := collect()
	p.Reshuffle()
	after := collect()
	if p.Len() != 10 {
		t.Errorf("length changed to %d", p.Len())
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("window coverage changed across reshuffle")
	}
}

func TestNewProviderErrors(t *testing.T) {
	schema := validationSchema()
	entities := []*Entity{testWindowEntity(1, 64)}
	good := Config{Schema: schema, WindowLen: 16, BatchSize: 4}

	cases := map[string]Config{
		"no schema":     {WindowLen: 16, BatchSize: 4},
		"bad window":    {Schema: schema, BatchSize: 4},
		"bad batch":     {Schema: schema, WindowLen: 16},
		"big stride":    {Schema: schema, WindowLen: 16, BatchSize: 4, Stride: 17},
		"neg stride":    {Schema: schema, WindowLen: 16, BatchSize: 4, Stride: -1},
		"bad remainder": {Schema: schema, WindowLen: 16, BatchSize: 4, Remainder: Remainder(3)},
	}
	var confErr *deepsaber.ConfigurationError
	for name, conf := range cases {
		if _, err := NewProvider(conf, entities); !errors.As(err, &confErr) {
			t.Errorf("%s: expected ConfigurationError, got %v", name, err)
		}
	}
	if _, err := NewProvider(good, nil); !errors.As(err, &confErr) {
		t.Errorf("no entities: expected ConfigurationError, got %v", err)
	}
	cycle := good
	cycle.Remainder = CycleRemainder
	if _, err := NewProvider(cycle, []*Entity{testWindowEntity(1, 8)}); !errors.As(err, &confErr) {
		t.Errorf("short entity without padding: expected ConfigurationError, got %v", err)
	}
	if _, err := NewProvider(good, []*Entity{testWindowEntity(1, 0)}); !errors.As(err, &confErr) {
		t.Errorf("empty entity: expected ConfigurationError, got %v", err)
	}

	bad := testWindowEntity(1, 64)
	bad.Streams["note"] = bad.Streams["note"][:63]
	var shapeErr *deepsaber.ShapeMismatchError
	if _, err := NewProvider(good, []*Entity{bad}); !errors.As(err, &shapeErr) {
		t.Errorf("ragged entity: expected ShapeMismatchError, got %v", err)
	}
}

package dstrain

import (
	"math"
	"reflect"
	"testing"
)

func TestArgmaxRows(t *testing.T) {
	rows := []float64{0.1, 0.7, 0.2, 0.9, 0.05, 0.05}
	got := argmaxRows(rows, 3)
	if !reflect.DeepEqual(got, []int{1, 0}) {
		t.Errorf("unexpected argmax: %v", got)
	}
}

func TestAccuracy(t *testing.T) {
	want := []int{1, 2, 3, 4}
	got := []int{1, 0, 3, 0}
	if v := accuracy(want, got); v != 0.5 {
		t.Errorf("accuracy %f, expected 0.5", v)
	}
}

func TestTopKAccuracy(t *testing.T) {
	want := []int{2, 0}
	scores := []float64{
		0.5, 0.3, 0.2,
		0.2, 0.5, 0.3,
	}
	if v := topKAccuracy(want, scores, 3, 1); v != 0 {
		t.Errorf("top-1 accuracy %f, expected 0", v)
	}
	if v := topKAccuracy(want, scores, 3, 2); v != 0 {
		t.Errorf("top-2 accuracy %f, expected 0", v)
	}
	if v := topKAccuracy(want, scores, 3, 3); v != 1 {
		t.Errorf("top-3 accuracy %f, expected 1", v)
	}

	// k beyond the class count clamps to the class count.
	if v := topKAccuracy(want, scores, 3, 5); v != 1 {
		t.Errorf("clamped top-k accuracy %f, expected 1", v)
	}
}

func TestPerplexity(t *testing.T) {
	want := []int{0, 1}

	perfect := []float64{1, 0, 0, 1}
	if v := perplexity(want, perfect, 2); math.Abs(v-1) > 1e-9 {
		t.Errorf("perplexity of perfect predictions: %f", v)
	}

	uniform := []float64{0.5, 0.5, 0.5, 0.5}
	if v := perplexity(want, uniform, 2); math.Abs(v-2) > 1e-9 {
		t.Errorf("perplexity of uniform predictions: %f", v)
	}

	// A zero probability must stay finite.
	zero := []float64{0, 1, 1, 0}
	v := perplexity(want, zero, 2)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		t.Errorf("perplexity of zero predictions: %f", v)
	}
	if v <= 2 {
		t.Errorf("perplexity %f should exceed the uniform case", v)
	}
}

func TestMeanErrors(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{2, 2, 1}
	if v := meanAbsError(a, b); math.Abs(v-1) > 1e-9 {
		t.Errorf("mean absolute error: %f", v)
	}
	if v := meanSqError(a, b); math.Abs(v-5.0/3) > 1e-9 {
		t.Errorf("mean squared error: %f", v)
	}
}

func TestCosineDistance(t *testing.T) {
	a := []float64{1, 0, 0, 1, 3, 4}
	if v := cosineDistance(a, a, 2); math.Abs(v) > 1e-6 {
		t.Errorf("distance of identical rows: %f", v)
	}
	if v := cosineDistance([]float64{1, 0}, []float64{-1, 0}, 2); math.Abs(v-2) > 1e-6 {
		t.Errorf("distance of opposite rows: %f", v)
	}
	if v := cosineDistance([]float64{1, 0}, []float64{0, 1}, 2); math.Abs(v-1) > 1e-6 {
		t.Errorf("distance of orthogonal rows: %f", v)
	}

	// Zero rows land at the neutral distance.
	if v := cosineDistance([]float64{0, 0}, []float64{1, 0}, 2); math.Abs(v-1) > 1e-6 {
		t.Errorf("distance of a zero row: %f", v)
	}
}

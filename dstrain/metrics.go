package dstrain

import "math"

// Metric names used in snapshots.
const (
	MetricLoss       = "loss"
	MetricCosine     = "cosine_distance"
	MetricMAE        = "mae"
	MetricMSE        = "mse"
	MetricAccuracy   = "accuracy"
	MetricTop5       = "top5_accuracy"
	MetricPerplexity = "perplexity"
)

const (
	// probFloor keeps perplexity finite when a class is
	// predicted with zero probability.
	probFloor = 1e-7

	cosineFloor = 1e-8
)

// A Snapshot holds the metric values of a single step,
// keyed by metric name.
// Metrics whose inputs were unavailable are absent.
type Snapshot map[string]float64

func argmaxRows(rows []float64, width int) []int {
	res := make([]int, len(rows)/width)
	for i := range res {
		row := rows[i*width : (i+1)*width]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		res[i] = best
	}
	return res
}

func accuracy(want, got []int) float64 {
	if len(want) == 0 {
		return 0
	}
	var hits int
	for i, w := range want {
		if got[i] == w {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

// topKAccuracy counts a row as a hit when fewer than k
// scores beat the true class's score.
func topKAccuracy(want []int, scores []float64, width, k int) float64 {
	if len(want) == 0 {
		return 0
	}
	if k > width {
		k = width
	}
	var hits int
	for i, w := range want {
		row := scores[i*width : (i+1)*width]
		var better int
		for _, v := range row {
			if v > row[w] {
				better++
			}
		}
		if better < k {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

// perplexity exponentiates the mean cross-entropy of the
// true classes under the predicted distributions.
func perplexity(want []int, probs []float64, width int) float64 {
	if len(want) == 0 {
		return 0
	}
	var total float64
	for i, w := range want {
		p := probs[i*width+w]
		if p < probFloor {
			p = probFloor
		}
		total -= math.Log(p)
	}
	return math.Exp(total / float64(len(want)))
}

func meanAbsError(a, b []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	var total float64
	for i, x := range a {
		total += math.Abs(x - b[i])
	}
	return total / float64(len(a))
}

func meanSqError(a, b []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	var total float64
	for i, x := range a {
		d := x - b[i]
		total += d * d
	}
	return total / float64(len(a))
}

// cosineDistance averages one minus the cosine similarity
// over the rows of two equally shaped matrices.
// A zero row lands at the neutral distance 1.
func cosineDistance(a, b []float64, width int) float64 {
	rows := len(a) / width
	if rows == 0 {
		return 0
	}
	var total float64
	for i := 0; i < rows; i++ {
		ra := a[i*width : (i+1)*width]
		rb := b[i*width : (i+1)*width]
		var dot, normA, normB float64
		for j, x := range ra {
			dot += x * rb[j]
			normA += x * x
			normB += rb[j] * rb[j]
		}
		total += 1 - dot/math.Sqrt(normA*normB+cosineFloor)
	}
	return total / float64(rows)
}

package dstrain

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// A History records the metric snapshots of a training
// run in step order.
type History struct {
	snaps []Snapshot
}

// Add appends a snapshot.
func (h *History) Add(s Snapshot) {
	h.snaps = append(h.snaps, s)
}

// Len returns the number of recorded snapshots.
func (h *History) Len() int {
	return len(h.snaps)
}

// Series returns a metric's recorded values in step
// order, skipping snapshots where it was absent.
func (h *History) Series(name string) []float64 {
	var res []float64
	for _, s := range h.snaps {
		if val, ok := s[name]; ok {
			res = append(res, val)
		}
	}
	return res
}

// A Summary describes the recorded values of one metric.
type Summary struct {
	Count  int
	Mean   float64
	Stddev float64
	Min    float64
	Max    float64
	Median float64
	Final  float64
}

// Summarize summarizes one metric's series.
// A metric that was never recorded yields a zero Summary.
func (h *History) Summarize(name string) Summary {
	series := h.Series(name)
	if len(series) == 0 {
		return Summary{}
	}
	mean, std := stat.MeanStdDev(series, nil)
	if len(series) < 2 {
		std = 0
	}
	sorted := append([]float64{}, series...)
	sort.Float64s(sorted)
	return Summary{
		Count:  len(series),
		Mean:   mean,
		Stddev: std,
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Final:  series[len(series)-1],
	}
}

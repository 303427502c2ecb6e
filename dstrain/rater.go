package dstrain

import "math"

// A ConstRater is a Rater which always returns a
// constant.
type ConstRater float64

// Rate returns float64(c).
func (c ConstRater) Rate(epoch float64) float64 {
	return float64(c)
}

// An AnnealRater keeps the rate flat for a number of
// epochs and then decays it along a half cosine.
type AnnealRater struct {
	// Start is the flat initial rate.
	Start float64

	// Final is the rate once the decay has finished.
	Final float64

	// FlatEpochs is how many epochs keep the Start rate.
	FlatEpochs float64

	// DecayEpochs is how many epochs the decay spans.
	// If it is 0, the rate drops straight to Final once
	// FlatEpochs have passed.
	DecayEpochs float64
}

// Rate returns the annealed rate for the given epoch.
func (a *AnnealRater) Rate(epoch float64) float64 {
	if epoch <= a.FlatEpochs {
		return a.Start
	}
	if a.DecayEpochs <= 0 || epoch >= a.FlatEpochs+a.DecayEpochs {
		return a.Final
	}
	progress := (epoch - a.FlatEpochs) / a.DecayEpochs
	blend := 0.5 * (1 + math.Cos(math.Pi*progress))
	return a.Final + (a.Start-a.Final)*blend
}

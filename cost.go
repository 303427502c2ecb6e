package deepsaber

import "github.com/unixpickle/anydiff"

// cosineStabilizer keeps the inverse norms in Cosine
// finite for zero rows.
const cosineStabilizer = 1e-8

// A Cost provides a way to measure the amount of error
// from the output of a neural network.
//
// Just like regular Layers, a Cost function is batched.
// It takes a packed batch of desired outputs and actual
// outputs, and produces a batch of costs.
type Cost interface {
	Cost(desired, actual anydiff.Res, n int) anydiff.Res
}

// DotCost computes the cost by taking the dot product of
// the desired and actual outputs, and then negating it.
//
// This is meant to be used with LogSoftmax activations.
// When you dot the output of a LogSoftmax with the
// desired probabilities, you get an unbiased measure of
// cross-entropy error.
type DotCost struct{}

// Cost takes the dot product of each actual output with
// each desired output, negates it, and uses that as the
// cost.
func (d DotCost) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	comb := anydiff.Mul(desired, actual)
	dots := sumRows(comb, n)
	return anydiff.Scale(dots, dots.Output().Creator().MakeNumeric(-1))
}

// MSE evaluates cost as the squared Euclidean distance
// between the actual and desired output.
type MSE struct{}

// Cost computes, for each output, the mean squared
// distance between the actual and desired output value.
func (m MSE) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	neg := anydiff.Scale(actual, actual.Output().Creator().MakeNumeric(-1))
	diff := anydiff.Add(desired, neg)
	sq := anydiff.Square(diff)
	numComps := sq.Output().Len() / n
	sum := sumRows(sq, n)
	normalizer := 1.0 / float64(numComps)
	return anydiff.Scale(sum, sum.Output().Creator().MakeNumeric(normalizer))
}

// Cosine evaluates cost as one minus the cosine
// similarity of the actual and desired output, so that
// identical directions cost 0 and opposite directions
// cost 2.
type Cosine struct{}

// Cost computes, for each output, one minus the cosine of
// the angle between the actual and desired vectors.
func (c Cosine) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	cr := actual.Output().Creator()
	stab := cr.MakeNumeric(cosineStabilizer)
	negHalf := cr.MakeNumeric(-0.5)
	return anydiff.Pool(desired, func(desired anydiff.Res) anydiff.Res {
		return anydiff.Pool(actual, func(actual anydiff.Res) anydiff.Res {
			dots := sumRows(anydiff.Mul(desired, actual), n)
			dNorm := anydiff.Pow(anydiff.AddScalar(sumRows(anydiff.Square(desired), n),
				stab), negHalf)
			aNorm := anydiff.Pow(anydiff.AddScalar(sumRows(anydiff.Square(actual), n),
				stab), negHalf)
			cos := anydiff.Mul(anydiff.Mul(dots, dNorm), aNorm)
			return anydiff.AddScalar(anydiff.Scale(cos, cr.MakeNumeric(-1)),
				cr.MakeNumeric(1))
		})
	})
}

func sumRows(in anydiff.Res, n int) anydiff.Res {
	return anydiff.SumCols(&anydiff.Matrix{
		Data: in,
		Rows: n,
		Cols: in.Output().Len() / n,
	})
}

package dstrain

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

func copyGrad(g anydiff.Grad) anydiff.Grad {
	res := anydiff.Grad{}
	for v, x := range g {
		res[v] = x.Copy()
	}
	return res
}

func scaleGrad(g anydiff.Grad, s float64) {
	for _, x := range g {
		x.Scale(x.Creator().MakeNumeric(s))
	}
}

func valueOrDefault(val, def float64) float64 {
	if val != 0 {
		return val
	}
	return def
}

// floatData copies a vector's contents into a []float64.
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

func numericToFloat(num anyvec.Numeric) float64 {
	switch x := num.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	default:
		panic(fmt.Sprintf("unsupported numeric type: %T", num))
	}
}

// Package dstrain implements stochastic gradient descent
// over windowed beatmap batches.
//
// Each training step runs in two phases. The first phase
// computes the loss and gradient for a batch; the second
// phase derives whatever output representations the
// metric bank still needs and updates the metrics,
// reusing the forward pass from the first phase.
package dstrain

import (
	"github.com/dfwarden/deepsaber/dsseq"
	"github.com/unixpickle/anydiff"
)

// A Gradienter computes a gradient for a batch of
// windows.
//
// The same Gradienter is used for an entire training
// session, so it may carry state from batch to batch.
type Gradienter interface {
	Gradient(b *dsseq.Batch) anydiff.Grad
}

// A MetricGradienter is a Gradienter which finishes each
// step with a metric pass once the weights have been
// updated.
type MetricGradienter interface {
	Gradienter
	Metrics() Snapshot
}

// A Transformer transforms gradients.
// For example, pre-conditioning could be implemented as a
// transformer.
//
// After its first call, a Transformer expects to see
// gradients of the same form (i.e. containing the same
// variables).
//
// A Transformer may modify its own input and return the
// same gradient as an output.
//
// A Transformer's output is only guaranteed to be valid
// until the next time Transform is called.
type Transformer interface {
	Transform(g anydiff.Grad) anydiff.Grad
}

// A Rater determines the learning rate given the epoch
// number.
// An "epoch" is a full pass over the batch source, so
// fractional epochs are possible.
type Rater interface {
	Rate(epoch float64) float64
}

// A BatchSource enumerates the batches of one training
// pass.
//
// dsseq.Provider implements BatchSource.
type BatchSource interface {
	// Len returns the number of batches in a pass.
	Len() int

	// Batch builds the i-th batch of the current pass.
	// It must be a pure read, so that the next batch can
	// be prefetched while a training step runs.
	Batch(i int) *dsseq.Batch

	// Reshuffle rearranges the source for the next pass.
	Reshuffle()
}

// SGD performs stochastic gradient descent, looping over
// a BatchSource pass after pass.
type SGD struct {
	// Gradienter computes the gradient for each batch.
	Gradienter Gradienter

	// Source yields the training batches.
	Source BatchSource

	// Rater determines the step sizes.
	Rater Rater

	// Transformer, if non-nil, is used to transform every
	// gradient before a step is taken.
	Transformer Transformer

	// StatusFunc, if non-nil, is called after every step.
	// The snapshot is nil unless the Gradienter is a
	// MetricGradienter.
	StatusFunc func(snap Snapshot)

	// NumProcessed counts the batches consumed so far and
	// determines the epoch passed to the Rater.
	// Most of the time, this should start at 0.
	NumProcessed int
}

// Run runs SGD until the stop channel is closed.
//
// Batches are prefetched one step ahead of the training
// loop. The stop channel is only checked between steps,
// so a stop never leaves a partial weight update behind.
func (s *SGD) Run(stop <-chan struct{}) {
	if s.Source.Len() == 0 {
		panic("cannot run SGD with an empty batch source")
	}
	passSize := s.Source.Len()

	// The producer owns the source: Reshuffle may mutate
	// it, so Batch is never called concurrently with it.
	done := make(chan struct{})
	batches := make(chan *dsseq.Batch, 1)
	defer func() {
		close(done)
		for range batches {
		}
	}()
	go func() {
		defer close(batches)
		for {
			for i := 0; i < s.Source.Len(); i++ {
				select {
				case batches <- s.Source.Batch(i):
				case <-done:
					return
				}
			}
			s.Source.Reshuffle()
		}
	}()

	for batch := range batches {
		select {
		case <-stop:
			return
		default:
		}

		grad := s.Gradienter.Gradient(batch)
		if s.Transformer != nil {
			grad = s.Transformer.Transform(grad)
		}

		epoch := float64(s.NumProcessed) / float64(passSize)
		scaleGrad(grad, -s.Rater.Rate(epoch))
		grad.AddToVars()
		s.NumProcessed++

		var snap Snapshot
		if m, ok := s.Gradienter.(MetricGradienter); ok {
			snap = m.Metrics()
		}
		if s.StatusFunc != nil {
			s.StatusFunc(snap)
		}
	}
}

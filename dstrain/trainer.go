package dstrain

import (
	"fmt"
	"math"

	"github.com/dfwarden/deepsaber"
	"github.com/dfwarden/deepsaber/dsmodel"
	"github.com/dfwarden/deepsaber/dsrnn"
	"github.com/dfwarden/deepsaber/dsseq"
	"github.com/dfwarden/deepsaber/dsvocab"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anyvec"
)

// Config configures a Trainer.
type Config struct {
	// Model is the model whose parameters are trained.
	Model *dsmodel.Model

	// Bridge resolves vocabulary ids and embedding
	// vectors during the metric pass.
	// It is ignored when ProxyRatio is 0.
	Bridge *dsvocab.Bridge

	// ProxyRatio, in [0, 1], bounds the share of a batch's
	// rows that may go through the bridge's external
	// fallback lookup per step.
	// The bound is int(ProxyRatio*rows) + 1.
	//
	// A zero ratio disables the vocabulary entirely: the
	// bridge is never consulted and metrics that need it
	// are skipped.
	ProxyRatio float64

	// Tokenizer assembles a vocabulary token from one
	// timestep's element classes, keyed by stream name.
	// It enables embedding metrics for schemas whose
	// discrete output is spread over element streams
	// instead of a word_id or word_vec stream.
	Tokenizer func(classes map[string]int) string

	// Average, if set, divides the loss by the total
	// sample weight instead of summing it.
	Average bool
}

// A Trainer runs two-phase training steps for a model.
//
// The first phase (Gradient) runs the forward pass and
// back-propagation for a batch. The second phase
// (Metrics) derives the output representations the
// metric bank needs from that same forward pass and
// updates the metrics. SGD applies the weight update in
// between, so metrics always describe the predictions
// the step was taken on.
//
// A Trainer carries recurrent state from one batch to
// the next. Slots whose window restarts are reset to the
// model's learned start state; slots that continue keep
// the final state of the previous batch, truncating
// back-propagation at the batch boundary.
type Trainer struct {
	// History, if non-nil, records every snapshot
	// produced by Metrics.
	History *History

	// LastCost is the cost computed by the last call to
	// Gradient.
	LastCost anyvec.Numeric

	conf   Config
	params []*anydiff.Var

	state   dsrnn.State
	pending *stepOutputs
}

// stepOutputs carries one forward pass from the gradient
// phase to the metric phase.
type stepOutputs struct {
	batch *dsseq.Batch

	// outs[i] holds head i's output rows, flattened in
	// time-major order.
	outs [][]float64

	// weights holds the matching flattened sample
	// weights.
	weights []float64

	loss float64
}

// NewTrainer validates a configuration and builds a
// Trainer for it.
//
// All vocabulary checks happen here, so a misconfigured
// metric pass fails before training starts rather than
// in the middle of a run.
func NewTrainer(conf Config) (*Trainer, error) {
	if conf.Model == nil || conf.Model.Schema == nil {
		return nil, &deepsaber.ConfigurationError{Reason: "missing model"}
	}
	if err := conf.Model.Schema.Validate(); err != nil {
		return nil, err
	}
	if conf.ProxyRatio < 0 || conf.ProxyRatio > 1 {
		return nil, &deepsaber.ConfigurationError{
			Reason: fmt.Sprintf("proxy ratio %v outside of [0, 1]", conf.ProxyRatio),
		}
	}
	if conf.ProxyRatio > 0 {
		if conf.Bridge == nil {
			return nil, &deepsaber.VocabularyUnavailableError{
				Reason: fmt.Sprintf("proxy ratio %v requires a vocabulary bridge",
					conf.ProxyRatio),
			}
		}
		if spec, ok := conf.Model.Schema.Output(deepsaber.WordVec); ok &&
			spec.Width != conf.Bridge.Dim() {
			return nil, &deepsaber.ConfigurationError{
				Reason: fmt.Sprintf("word_vec width %d does not match vocabulary "+
					"dimension %d", spec.Width, conf.Bridge.Dim()),
			}
		}
		if spec, ok := conf.Model.Schema.Output(deepsaber.WordID); ok &&
			spec.Width != conf.Bridge.Rows() {
			return nil, &deepsaber.ConfigurationError{
				Reason: fmt.Sprintf("word_id width %d does not match vocabulary "+
					"size %d", spec.Width, conf.Bridge.Rows()),
			}
		}
	}
	return &Trainer{conf: conf, params: conf.Model.Parameters()}, nil
}

// Gradient computes the gradient of the batch's loss with
// respect to the model parameters.
// It also sets t.LastCost and stashes the forward pass
// for the metric phase.
func (t *Trainer) Gradient(b *dsseq.Batch) anydiff.Grad {
	res := anydiff.NewGrad(t.params...)

	cost, out := t.forward(b)
	t.LastCost = anyvec.Sum(cost.Output())
	out.loss = numericToFloat(t.LastCost)
	t.pending = out

	c := cost.Output().Creator()
	data := c.MakeNumericList([]float64{1})
	upstream := c.MakeVectorData(data)
	cost.Propagate(upstream, res)

	return res
}

// Metrics runs the metric phase for the last Gradient
// call. It returns nil when no forward pass is pending.
func (t *Trainer) Metrics() Snapshot {
	if t.pending == nil {
		return nil
	}
	out := t.pending
	t.pending = nil
	snap := t.metricSnapshot(out)
	if t.History != nil {
		t.History.Add(snap)
	}
	return snap
}

// Evaluate runs the forward and metric passes over every
// batch of a source without updating any weights, and
// averages the resulting snapshots.
//
// The carried training state is saved and restored, so an
// evaluation can run between training steps. Evaluation
// itself starts from the model's learned start state.
func (t *Trainer) Evaluate(source BatchSource) Snapshot {
	savedState, savedPending := t.state, t.pending
	t.state = nil
	defer func() {
		t.state, t.pending = savedState, savedPending
	}()

	sums := Snapshot{}
	counts := map[string]int{}
	for i := 0; i < source.Len(); i++ {
		cost, out := t.forward(source.Batch(i))
		out.loss = numericToFloat(anyvec.Sum(cost.Output()))
		for name, val := range t.metricSnapshot(out) {
			sums[name] += val
			counts[name]++
		}
	}
	for name := range sums {
		sums[name] /= float64(counts[name])
	}
	return sums
}

// Reset drops the carried recurrent state, so the next
// batch starts every slot from the learned start state.
func (t *Trainer) Reset() {
	t.state = nil
	t.pending = nil
}

// forward runs the shared forward pass, returning the
// total weighted cost and the stashed head outputs.
func (t *Trainer) forward(b *dsseq.Batch) (anydiff.Res, *stepOutputs) {
	m := t.conf.Model
	n := len(b.Restarts)

	if t.state != nil && len(t.state.Present()) != n {
		t.state = nil
	}
	flags := b.Restarts
	start := m.Body.Start(n)
	if t.state == nil {
		flags = make([]bool, n)
		for i := range flags {
			flags[i] = true
		}
	} else {
		start = t.state.Mask(start, b.Restarts)
	}

	body := dsrnn.MapWithStart(t.inputSeq(b), m.Body, start,
		func(sg dsrnn.StateGrad, g anydiff.Grad) {
			m.Body.PropagateStart(sg.Keep(flags), g)
		})
	t.state = dsrnn.TailState(body)

	heads := m.HeadOutputs(body)
	out := &stepOutputs{
		batch:   b,
		outs:    make([][]float64, len(heads)),
		weights: timeMajor(b.Weights),
	}

	var total anydiff.Res
	for i := range m.Schema.Outputs {
		spec := &m.Schema.Outputs[i]
		out.outs[i] = packedRows(heads[i].Output())
		cost := t.streamCost(heads[i], b, spec)
		if total == nil {
			total = cost
		} else {
			total = anydiff.Add(total, cost)
		}
	}

	if t.conf.Average {
		var weightSum float64
		for _, w := range out.weights {
			weightSum += w
		}
		if weightSum > 0 {
			c := total.Output().Creator()
			total = anydiff.Scale(total, c.MakeNumeric(1/weightSum))
		}
	}
	return total, out
}

// streamCost computes the weighted cost of one output
// stream, summed over every slot and timestep.
func (t *Trainer) streamCost(pred anyseq.Seq, b *dsseq.Batch,
	spec *deepsaber.StreamSpec) anydiff.Res {
	c := t.conf.Model.Creator()
	tgt := b.Targets[spec.Name]
	cost := costForKind(spec.Kind)

	var ts int
	costs := anyseq.Map(pred, func(a anydiff.Res, n int) anydiff.Res {
		desired := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(timeRow(tgt, ts))))
		wRow := anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(timeRow(b.Weights, ts))))
		ts++
		return anydiff.Mul(cost.Cost(desired, a, n), wRow)
	})
	return anydiff.Sum(anyseq.Sum(costs))
}

func costForKind(kind deepsaber.StreamKind) deepsaber.Cost {
	if kind == deepsaber.Categorical {
		return deepsaber.DotCost{}
	}
	return deepsaber.MSE{}
}

// inputSeq packs a batch's input streams into a constant
// sequence, one packed vector per timestep.
func (t *Trainer) inputSeq(b *dsseq.Batch) anyseq.Seq {
	m := t.conf.Model
	c := m.Creator()
	n := len(b.Restarts)
	steps := b.Weights.Time

	present := make([]bool, n)
	for i := range present {
		present[i] = true
	}
	batches := make([]*anyseq.Batch, steps)
	for ts := 0; ts < steps; ts++ {
		row := make([]float64, 0, n*m.Schema.InputWidth())
		for slot := 0; slot < n; slot++ {
			for i := range m.Schema.Inputs {
				row = append(row, b.Inputs[m.Schema.Inputs[i].Name].At(slot, ts)...)
			}
		}
		batches[ts] = &anyseq.Batch{
			Packed:  c.MakeVectorData(c.MakeNumericList(row)),
			Present: present,
		}
	}
	return anyseq.ConstSeq(batches)
}

// metricSnapshot computes the metric bank for one stashed
// forward pass.
func (t *Trainer) metricSnapshot(out *stepOutputs) Snapshot {
	snap := Snapshot{MetricLoss: out.loss}

	targets, preds := t.reprSets(out)
	if targets == nil {
		return snap
	}

	if tv, pv := targets.Vecs(), preds.Vecs(); tv != nil && pv != nil && len(tv) == len(pv) {
		dim := t.vecWidth()
		if dim > 0 {
			snap[MetricCosine] = cosineDistance(tv, pv, dim)
			snap[MetricMAE] = meanAbsError(tv, pv)
			snap[MetricMSE] = meanSqError(tv, pv)
		}
	}
	if ti, pi := targets.IDs(), preds.IDs(); ti != nil && pi != nil && len(ti) == len(pi) {
		snap[MetricAccuracy] = accuracy(ti, pi)
		if scores := preds.Scores(); scores != nil {
			snap[MetricTop5] = topKAccuracy(ti, scores, preds.scoreWidth, 5)
			if preds.probScores {
				snap[MetricPerplexity] = perplexity(ti, scores, preds.scoreWidth)
			}
		}
	}
	return snap
}

// vecWidth returns the embedding width used by the metric
// pass: the bridge's dimension when one is in play, or
// the word_vec stream's width.
func (t *Trainer) vecWidth() int {
	if t.conf.ProxyRatio > 0 && t.conf.Bridge != nil {
		return t.conf.Bridge.Dim()
	}
	if spec, ok := t.conf.Model.Schema.Output(deepsaber.WordVec); ok {
		return spec.Width
	}
	return 0
}

// reprSets builds the target and prediction
// representation sets for the metric pass, filtered to
// rows with non-zero sample weight.
// Both are nil when every row of the batch was padding.
func (t *Trainer) reprSets(out *stepOutputs) (targets, preds *reprSet) {
	schema := t.conf.Model.Schema
	keep := keptRows(out.weights)
	if len(keep) == 0 {
		return nil, nil
	}

	var bridge *dsvocab.Bridge
	if t.conf.ProxyRatio > 0 {
		bridge = t.conf.Bridge
	}
	targets = &reprSet{bridge: bridge}
	preds = &reprSet{bridge: bridge}

	elemTargets := map[string][]int{}
	elemPreds := map[string][]int{}

	for i := range schema.Outputs {
		spec := &schema.Outputs[i]
		predRows := filterRows(out.outs[i], spec.Width, keep)
		tgtRows := filterRows(timeMajor(out.batch.Targets[spec.Name]), spec.Width, keep)
		switch {
		case spec.Name == deepsaber.WordID:
			preds.scores = expRows(predRows)
			preds.scoreWidth = spec.Width
			preds.probScores = true
			targets.scores = tgtRows
			targets.scoreWidth = spec.Width
		case spec.Name == deepsaber.WordVec:
			preds.vecs = predRows
			targets.vecs = tgtRows
		case spec.Kind == deepsaber.Categorical:
			elemPreds[spec.Name] = argmaxRows(predRows, spec.Width)
			elemTargets[spec.Name] = argmaxRows(tgtRows, spec.Width)
		}
	}

	if t.conf.Tokenizer != nil && bridge != nil && len(elemTargets) > 0 {
		limit := int(t.conf.ProxyRatio*float64(len(keep))) + 1
		if targets.empty() {
			targets.tokens = assembleTokens(t.conf.Tokenizer, elemTargets, len(keep))
			targets.limit = limit
		}
		if preds.empty() {
			preds.tokens = assembleTokens(t.conf.Tokenizer, elemPreds, len(keep))
			preds.limit = limit
		}
	}
	return targets, preds
}

// keptRows lists the flattened row indices whose sample
// weight is non-zero.
func keptRows(weights []float64) []int {
	var res []int
	for i, w := range weights {
		if w != 0 {
			res = append(res, i)
		}
	}
	return res
}

// filterRows gathers the given rows of a flattened
// matrix.
func filterRows(data []float64, width int, rows []int) []float64 {
	res := make([]float64, 0, len(rows)*width)
	for _, r := range rows {
		res = append(res, data[r*width:(r+1)*width]...)
	}
	return res
}

func expRows(logProbs []float64) []float64 {
	res := make([]float64, len(logProbs))
	for i, x := range logProbs {
		res[i] = math.Exp(x)
	}
	return res
}

// assembleTokens runs the tokenizer once per row.
func assembleTokens(tok func(map[string]int) string, classes map[string][]int,
	rows int) []string {
	res := make([]string, rows)
	for i := range res {
		byRow := make(map[string]int, len(classes))
		for name, ids := range classes {
			byRow[name] = ids[i]
		}
		res[i] = tok(byRow)
	}
	return res
}

// packedRows flattens a sequence's packed outputs in
// time-major order.
func packedRows(batches []*anyseq.Batch) []float64 {
	var res []float64
	for _, b := range batches {
		res = append(res, floatData(b.Packed)...)
	}
	return res
}

// timeMajor flattens a stream array in the same time,
// then slot order that packed sequence batches use.
func timeMajor(arr *dsseq.StreamArray) []float64 {
	res := make([]float64, 0, len(arr.Data))
	for ts := 0; ts < arr.Time; ts++ {
		for slot := 0; slot < arr.Batch; slot++ {
			res = append(res, arr.At(slot, ts)...)
		}
	}
	return res
}

// timeRow gathers one timestep's rows across all slots.
func timeRow(arr *dsseq.StreamArray, ts int) []float64 {
	res := make([]float64, 0, arr.Batch*arr.Width)
	for slot := 0; slot < arr.Batch; slot++ {
		res = append(res, arr.At(slot, ts)...)
	}
	return res
}

package models

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/HatiCode/lagcast/pkg/scoring"
)

const (
	gossTopRate   = 0.2
	gossOtherRate = 0.1
)

// GBRT is a gradient-boosted regression tree ensemble trained on squared
// error. Trees grow leaf-wise: each step splits the leaf with the largest
// gain until NumLeaves is reached or no split improves the loss.
//
// With boosting type goss, rows with large gradients are always kept and a
// weighted random sample of the rest is used for each tree, after the first
// 1/LearningRate rounds.
//
// Missing values (NaN) always follow the left branch.
type GBRT struct {
	params   Params
	features []string
	base     float64
	trees    []tree
	best     int
}

// NewGBRT returns an untrained model.
func NewGBRT(p Params) (*GBRT, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.BoostingType = strings.ToLower(p.BoostingType)
	return &GBRT{params: p}, nil
}

// GBRTFactory is the Factory for GBRT.
func GBRTFactory(p Params) (Regressor, error) {
	return NewGBRT(p)
}

// Name implements Regressor.
func (m *GBRT) Name() string {
	return "gbrt"
}

// Params returns the hyperparameters.
func (m *GBRT) Params() Params {
	return m.params
}

// Trees returns the number of trees kept after early stopping.
func (m *GBRT) Trees() int {
	return len(m.trees)
}

// BestIteration returns the 1-based round with the best evaluation score, or
// 0 if training ran without an evaluation set.
func (m *GBRT) BestIteration() int {
	return m.best
}

// Fit implements Regressor.
func (m *GBRT) Fit(ctx context.Context, X [][]float64, y []float64, opts FitOptions) error {
	n := len(X)
	if n == 0 {
		return fmt.Errorf("gbrt: training set is empty")
	}
	if len(y) != n {
		return fmt.Errorf("gbrt: %d rows and %d targets", n, len(y))
	}
	nFeatures := len(X[0])
	for i, row := range X {
		if len(row) != nFeatures {
			return fmt.Errorf("gbrt: row %d has %d features, want %d", i, len(row), nFeatures)
		}
	}
	evaluate := len(opts.EvalX) > 0 && opts.Metric != nil
	if evaluate && len(opts.EvalX) != len(opts.EvalY) {
		return fmt.Errorf("gbrt: eval set has %d rows and %d targets", len(opts.EvalX), len(opts.EvalY))
	}

	p := m.params
	rng := rand.New(rand.NewSource(p.Seed))

	m.features = opts.Features
	m.base = stat.Mean(y, nil)
	m.trees = m.trees[:0]
	m.best = 0

	order := presort(X, nFeatures)
	pred := make([]float64, n)
	floats.AddConst(m.base, pred)

	var evalPred []float64
	if evaluate {
		evalPred = make([]float64, len(opts.EvalX))
		floats.AddConst(m.base, evalPred)
	}

	grad := make([]float64, n)
	hess := make([]float64, n)
	var best scoring.Result
	sinceBest := 0

	for iter := 0; iter < p.NEstimators; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		floats.SubTo(grad, pred, y)
		for i := range hess {
			hess[i] = 1
		}
		rows := m.sampleRows(rng, iter, grad, hess)
		cols := sampleColumns(rng, nFeatures, p.ColsampleByTree)

		t := growTree(X, order, rows, cols, grad, hess, p)
		m.trees = append(m.trees, t)

		for i, row := range X {
			pred[i] += t.predict(row)
		}

		if !evaluate {
			continue
		}
		for i, row := range opts.EvalX {
			evalPred[i] += t.predict(row)
		}
		res, err := opts.Metric(opts.EvalY, evalPred)
		if err != nil {
			return fmt.Errorf("gbrt: evaluate round %d: %w", iter+1, err)
		}
		if m.best == 0 || res.Better(best) {
			best = res
			m.best = iter + 1
			sinceBest = 0
			continue
		}
		sinceBest++
		if opts.EarlyStoppingRounds > 0 && sinceBest >= opts.EarlyStoppingRounds {
			break
		}
	}

	if m.best > 0 && opts.EarlyStoppingRounds > 0 {
		m.trees = m.trees[:m.best]
	}
	return nil
}

// Predict implements Regressor.
func (m *GBRT) Predict(ctx context.Context, X [][]float64) ([]float64, error) {
	if m.trees == nil {
		return nil, fmt.Errorf("gbrt: model is not trained")
	}
	out := make([]float64, len(X))
	for i, row := range X {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		v := m.base
		for _, t := range m.trees {
			v += t.predict(row)
		}
		out[i] = v
	}
	return out, nil
}

// sampleRows returns the rows used to grow the next tree. For goss, the
// gradients and hessians of sampled small-gradient rows are scaled up.
func (m *GBRT) sampleRows(rng *rand.Rand, iter int, grad, hess []float64) []int {
	n := len(grad)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	if m.params.BoostingType != BoostingGOSS || iter < int(1/m.params.LearningRate) {
		return all
	}

	topN := int(gossTopRate * float64(n))
	otherN := int(gossOtherRate * float64(n))
	if topN < 1 || otherN < 1 {
		return all
	}

	sort.SliceStable(all, func(a, b int) bool {
		return math.Abs(grad[all[a]]) > math.Abs(grad[all[b]])
	})
	rows := append([]int(nil), all[:topN]...)
	rest := all[topN:]
	weight := (1 - gossTopRate) / gossOtherRate
	for _, k := range rng.Perm(len(rest))[:otherN] {
		i := rest[k]
		grad[i] *= weight
		hess[i] *= weight
		rows = append(rows, i)
	}
	return rows
}

func sampleColumns(rng *rand.Rand, nFeatures int, fraction float64) []int {
	if nFeatures == 0 {
		return nil
	}
	k := int(math.Round(fraction * float64(nFeatures)))
	if k < 1 {
		k = 1
	}
	if k >= nFeatures {
		cols := make([]int, nFeatures)
		for i := range cols {
			cols[i] = i
		}
		return cols
	}
	cols := rng.Perm(nFeatures)[:k]
	sort.Ints(cols)
	return cols
}

// presort returns, per feature, the row indices ordered by value with NaN
// first.
func presort(X [][]float64, nFeatures int) [][]int {
	order := make([][]int, nFeatures)
	for j := range order {
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			va, vb := X[idx[a]][j], X[idx[b]][j]
			if math.IsNaN(va) {
				return !math.IsNaN(vb)
			}
			return !math.IsNaN(vb) && va < vb
		})
		order[j] = idx
	}
	return order
}

type node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Leaf      bool    `json:"leaf"`
}

type tree struct {
	Nodes []node `json:"nodes"`
}

func (t tree) predict(x []float64) float64 {
	i := 0
	for !t.Nodes[i].Leaf {
		n := t.Nodes[i]
		v := x[n.Feature]
		if math.IsNaN(v) || v <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return t.Nodes[i].Value
}

type candidate struct {
	feature   int
	threshold float64
	gain      float64
	ok        bool
}

type leaf struct {
	node  int
	depth int
	g, h  float64
	count int
	best  candidate
}

// growTree builds one tree leaf-wise over rows and returns it with shrinkage
// applied to the leaf values.
func growTree(X [][]float64, order [][]int, rows, cols []int, grad, hess []float64, p Params) tree {
	owner := make([]int, len(X))
	for i := range owner {
		owner[i] = -1
	}

	t := tree{Nodes: []node{{Leaf: true}}}
	root := &leaf{node: 0, count: len(rows)}
	for _, i := range rows {
		owner[i] = 0
		root.g += grad[i]
		root.h += hess[i]
	}
	root.best = bestSplit(X, order, owner, cols, grad, hess, root, p)
	leaves := []*leaf{root}

	for len(leaves) < p.NumLeaves {
		pick := -1
		for k, l := range leaves {
			if !l.best.ok || (p.MaxDepth > 0 && l.depth >= p.MaxDepth) {
				continue
			}
			if pick < 0 || l.best.gain > leaves[pick].best.gain {
				pick = k
			}
		}
		if pick < 0 {
			break
		}

		parent := leaves[pick]
		s := parent.best
		leftID, rightID := len(t.Nodes), len(t.Nodes)+1
		t.Nodes[parent.node] = node{Feature: s.feature, Threshold: s.threshold, Left: leftID, Right: rightID}
		t.Nodes = append(t.Nodes, node{Leaf: true}, node{Leaf: true})

		left := &leaf{node: leftID, depth: parent.depth + 1}
		right := &leaf{node: rightID, depth: parent.depth + 1}
		for _, i := range rows {
			if owner[i] != parent.node {
				continue
			}
			v := X[i][s.feature]
			child := right
			if math.IsNaN(v) || v <= s.threshold {
				child = left
			}
			owner[i] = child.node
			child.g += grad[i]
			child.h += hess[i]
			child.count++
		}
		left.best = bestSplit(X, order, owner, cols, grad, hess, left, p)
		right.best = bestSplit(X, order, owner, cols, grad, hess, right, p)

		leaves[pick] = left
		leaves = append(leaves, right)
	}

	for _, l := range leaves {
		t.Nodes[l.node].Value = p.LearningRate * leafValue(l.g, l.h, p)
	}
	return t
}

// bestSplit scans every sampled feature in value order and returns the split
// of l with the largest positive gain.
func bestSplit(X [][]float64, order [][]int, owner, cols []int, grad, hess []float64, l *leaf, p Params) candidate {
	var best candidate
	if l.count < 2*max(p.MinChildSamples, 1) {
		return best
	}
	parentScore := leafScore(l.g, l.h, p)

	for _, j := range cols {
		var gl, hl float64
		cl := 0
		prev := math.NaN()
		for _, i := range order[j] {
			if owner[i] != l.node {
				continue
			}
			v := X[i][j]
			if cl > 0 && !math.IsNaN(v) && (math.IsNaN(prev) || v > prev) {
				if s, ok := evalSplit(gl, hl, cl, l, parentScore, p); ok && s > best.gain {
					best = candidate{feature: j, threshold: threshold(prev, v), gain: s, ok: true}
				}
			}
			gl += grad[i]
			hl += hess[i]
			cl++
			prev = v
		}
	}
	return best
}

func evalSplit(gl, hl float64, cl int, l *leaf, parentScore float64, p Params) (float64, bool) {
	gr, hr, cr := l.g-gl, l.h-hl, l.count-cl
	if cl < p.MinChildSamples || cr < p.MinChildSamples {
		return 0, false
	}
	if hl < p.MinChildWeight || hr < p.MinChildWeight {
		return 0, false
	}
	gain := leafScore(gl, hl, p) + leafScore(gr, hr, p) - parentScore
	return gain, gain > 0
}

// threshold returns a cut between lo and hi. A NaN lo separates the missing
// values from everything else.
func threshold(lo, hi float64) float64 {
	if math.IsNaN(lo) {
		return -math.MaxFloat64
	}
	t := lo + (hi-lo)/2
	if t >= hi {
		return lo
	}
	return t
}

func thresholdL1(g, alpha float64) float64 {
	switch {
	case g > alpha:
		return g - alpha
	case g < -alpha:
		return g + alpha
	default:
		return 0
	}
}

func leafScore(g, h float64, p Params) float64 {
	t := thresholdL1(g, p.RegAlpha)
	return t * t / (h + p.RegLambda)
}

func leafValue(g, h float64, p Params) float64 {
	if h+p.RegLambda == 0 {
		return 0
	}
	return -thresholdL1(g, p.RegAlpha) / (h + p.RegLambda)
}

type gbrtState struct {
	Params   Params   `json:"params"`
	Features []string `json:"features,omitempty"`
	Base     float64  `json:"base"`
	Best     int      `json:"best_iteration"`
	Trees    []tree   `json:"trees"`
}

// MarshalJSON encodes the trained model.
func (m *GBRT) MarshalJSON() ([]byte, error) {
	return json.Marshal(gbrtState{
		Params:   m.params,
		Features: m.features,
		Base:     m.base,
		Best:     m.best,
		Trees:    m.trees,
	})
}

// UnmarshalJSON restores a model encoded by MarshalJSON.
func (m *GBRT) UnmarshalJSON(data []byte) error {
	var s gbrtState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("gbrt: decode: %w", err)
	}
	for k, t := range s.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("gbrt: tree %d has no nodes", k)
		}
	}
	*m = GBRT{params: s.Params, features: s.Features, base: s.Base, best: s.Best, trees: s.Trees}
	if m.trees == nil {
		m.trees = []tree{}
	}
	return nil
}

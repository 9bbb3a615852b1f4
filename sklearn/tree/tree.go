// Package tree implements histogram-based regression trees.
//
// Features are first bucketed by a FeatureBinner; split search then scans
// per-node gradient histograms instead of sorted values. The same grower
// backs DecisionTreeRegressor (gradient = -y, hessian = 1, so leaves hold the
// mean target) and the boosting stages in sklearn/ensemble.
package tree

import (
	"math"

	"github.com/YuminosukeSato/bikedemand/core/parallel"
)

// Params controls tree growth.
type Params struct {
	MaxDepth       int     // 0 means unlimited
	MinSamplesLeaf int     // minimum rows in each child
	MinGainToSplit float64 // splits with a smaller gain become leaves
	Lambda         float64 // L2 regularization on leaf values
}

// Node is one node of a fitted tree. Rows with value <= Threshold (bin <= Bin)
// go to Left.
type Node struct {
	Feature   int
	Bin       int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	Gain      float64
	Count     int
	Leaf      bool
}

// Tree is a flat, index-linked binary tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node
}

// PredictRow evaluates the tree on raw feature values.
func (t *Tree) PredictRow(row []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		// NaN compares false and goes right, matching the last-bin rule.
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// PredictBinnedRow evaluates the tree on row i of a binned matrix.
func (t *Tree) PredictBinnedRow(b *BinnedMatrix, i int) float64 {
	k := 0
	for {
		n := &t.Nodes[k]
		if n.Leaf {
			return n.Value
		}
		if b.At(i, n.Feature) <= n.Bin {
			k = n.Left
		} else {
			k = n.Right
		}
	}
}

// NumLeaves returns the number of leaf nodes.
func (t *Tree) NumLeaves() int {
	var n int
	for _, node := range t.Nodes {
		if node.Leaf {
			n++
		}
	}
	return n
}

// Depth returns the depth of the deepest leaf (a lone root has depth 0).
func (t *Tree) Depth() int {
	var walk func(i, d int) int
	walk = func(i, d int) int {
		n := t.Nodes[i]
		if n.Leaf {
			return d
		}
		return max(walk(n.Left, d+1), walk(n.Right, d+1))
	}
	return walk(0, 0)
}

type histBin struct {
	grad, hess float64
	count      int
}

type splitInfo struct {
	feature int
	bin     int
	gain    float64
}

type grower struct {
	binner *FeatureBinner
	data   *BinnedMatrix
	grad   []float64
	hess   []float64
	params Params
	tree   *Tree
}

// Grow fits one tree to the given gradients and hessians over the rows in
// indices. Leaf values are -G/(H+lambda).
func Grow(binner *FeatureBinner, data *BinnedMatrix, grad, hess []float64, indices []int, p Params) *Tree {
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	g := &grower{binner: binner, data: data, grad: grad, hess: hess, params: p, tree: &Tree{}}
	g.build(indices, 0)
	return g.tree
}

func (g *grower) leafValue(sumGrad, sumHess float64) float64 {
	denom := sumHess + g.params.Lambda
	if denom < 1e-12 {
		return 0
	}
	return -sumGrad / denom
}

func (g *grower) score(sumGrad, sumHess float64) float64 {
	denom := sumHess + g.params.Lambda
	if denom < 1e-12 {
		return 0
	}
	return sumGrad * sumGrad / denom
}

func (g *grower) build(indices []int, depth int) int {
	var sumGrad, sumHess float64
	for _, i := range indices {
		sumGrad += g.grad[i]
		sumHess += g.hess[i]
	}

	nodeIdx := len(g.tree.Nodes)
	g.tree.Nodes = append(g.tree.Nodes, Node{
		Leaf:  true,
		Value: g.leafValue(sumGrad, sumHess),
		Count: len(indices),
		Left:  -1,
		Right: -1,
	})

	if (g.params.MaxDepth > 0 && depth >= g.params.MaxDepth) || len(indices) < 2*g.params.MinSamplesLeaf {
		return nodeIdx
	}

	best := g.findBestSplit(indices, sumGrad, sumHess)
	if best.feature < 0 || best.gain <= g.params.MinGainToSplit {
		return nodeIdx
	}

	var left, right []int
	for _, i := range indices {
		if g.data.At(i, best.feature) <= best.bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := g.build(left, depth+1)
	r := g.build(right, depth+1)

	n := &g.tree.Nodes[nodeIdx]
	n.Leaf = false
	n.Feature = best.feature
	n.Bin = best.bin
	n.Threshold = g.binner.Threshold(best.feature, best.bin)
	n.Gain = best.gain
	n.Left = l
	n.Right = r
	return nodeIdx
}

// findBestSplit builds one gradient histogram per feature and scans its bin
// boundaries. Ties keep the lowest feature and bin so fits are deterministic.
func (g *grower) findBestSplit(indices []int, sumGrad, sumHess float64) splitInfo {
	cols := g.data.Cols
	perFeature := make([]splitInfo, cols)
	parent := g.score(sumGrad, sumHess)

	parallel.ParallelizeWithThreshold(cols, 4, func(start, end int) {
		for j := start; j < end; j++ {
			perFeature[j] = g.bestSplitForFeature(j, indices, sumGrad, sumHess, parent)
		}
	})

	best := splitInfo{feature: -1, gain: math.Inf(-1)}
	for _, s := range perFeature {
		if s.feature >= 0 && s.gain > best.gain {
			best = s
		}
	}
	return best
}

func (g *grower) bestSplitForFeature(j int, indices []int, sumGrad, sumHess, parent float64) splitInfo {
	hist := make([]histBin, g.binner.NumBins(j))
	for _, i := range indices {
		h := &hist[g.data.At(i, j)]
		h.grad += g.grad[i]
		h.hess += g.hess[i]
		h.count++
	}

	best := splitInfo{feature: -1, gain: math.Inf(-1)}
	var leftGrad, leftHess float64
	leftCount := 0
	for b := 0; b < len(hist)-1; b++ {
		leftGrad += hist[b].grad
		leftHess += hist[b].hess
		leftCount += hist[b].count
		rightCount := len(indices) - leftCount

		if leftCount < g.params.MinSamplesLeaf {
			continue
		}
		if rightCount < g.params.MinSamplesLeaf {
			break
		}

		gain := 0.5 * (g.score(leftGrad, leftHess) + g.score(sumGrad-leftGrad, sumHess-leftHess) - parent)
		if gain > best.gain {
			best = splitInfo{feature: j, bin: b, gain: gain}
		}
	}
	return best
}

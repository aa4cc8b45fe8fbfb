package explain

import "github.com/churnsight/churnsight/internal/ensemble"

// This file implements the polynomial-time SHAP algorithm for a single
// decision tree (Lundberg et al., "Consistent Individualized Feature
// Attribution for Tree Ensembles", Algorithm 2).
//
// The walk maintains a path of unique features encountered from the root,
// each with the fraction of "zero" paths (feature unknown, both branches
// taken cover-weighted) and "one" paths (feature known, hot branch taken)
// that flow through it, plus a permutation weight. At each leaf the path is
// unwound once per feature to read off that feature's weight in the leaf's
// contribution.
//
// Each recursion level copies the path before mutating it, so concurrent
// calls over the same shared tree never touch shared scratch.

type pathElem struct {
	feature int
	zero    float64
	one     float64
	pweight float64
}

// treeShap accumulates one tree's SHAP values for x into phi.
// scale folds in the ensemble's per-tree weight (1/N for forests).
func treeShap(t *ensemble.Tree, x []float64, phi []float64, scale float64) {
	shapRecurse(t, x, phi, scale, 0, nil, 1, 1, -1)
}

func shapRecurse(t *ensemble.Tree, x []float64, phi []float64, scale float64,
	node int, parent []pathElem, zeroFraction, oneFraction float64, featureIndex int) {

	path := extendPath(parent, zeroFraction, oneFraction, featureIndex)

	if t.Left[node] == -1 {
		for i := 1; i < len(path); i++ {
			w := unwoundSum(path, i)
			phi[path[i].feature] += w * (path[i].one - path[i].zero) * t.Value[node] * scale
		}
		return
	}

	split := t.SplitFeature[node]
	hot, cold := t.Left[node], t.Right[node]
	if !(x[split] < t.Threshold[node]) {
		hot, cold = cold, hot
	}

	incomingZero, incomingOne := 1.0, 1.0
	for i := 1; i < len(path); i++ {
		if path[i].feature == split {
			// Features repeat along a path; fold the earlier split's
			// fractions into this one and drop it from the path.
			incomingZero, incomingOne = path[i].zero, path[i].one
			path = unwindPath(path, i)
			break
		}
	}

	cover := t.Cover[node]
	shapRecurse(t, x, phi, scale, hot, path, incomingZero*t.Cover[hot]/cover, incomingOne, split)
	shapRecurse(t, x, phi, scale, cold, path, incomingZero*t.Cover[cold]/cover, 0, split)
}

// extendPath returns a fresh path with a new element appended and the
// permutation weights updated for the larger subset size.
func extendPath(parent []pathElem, zeroFraction, oneFraction float64, featureIndex int) []pathElem {
	l := len(parent)
	path := make([]pathElem, l+1)
	copy(path, parent)
	path[l] = pathElem{feature: featureIndex, zero: zeroFraction, one: oneFraction}
	if l == 0 {
		path[l].pweight = 1
	}
	for i := l - 1; i >= 0; i-- {
		path[i+1].pweight += oneFraction * path[i].pweight * float64(i+1) / float64(l+1)
		path[i].pweight = zeroFraction * path[i].pweight * float64(l-i) / float64(l+1)
	}
	return path
}

// unwindPath removes element index from the path, reversing the weight
// updates extendPath applied for it. Mutates and reslices path in place;
// callers own their copy.
func unwindPath(path []pathElem, index int) []pathElem {
	d := len(path) - 1
	one := path[index].one
	zero := path[index].zero

	next := path[d].pweight
	for i := d - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].pweight
			path[i].pweight = next * float64(d+1) / (float64(i+1) * one)
			next = tmp - path[i].pweight*zero*float64(d-i)/float64(d+1)
		} else {
			path[i].pweight = path[i].pweight * float64(d+1) / (zero * float64(d-i))
		}
	}
	for i := index; i < d; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
	return path[:d]
}

// unwoundSum computes the total permutation weight the path would have
// without element index, without actually modifying the path.
func unwoundSum(path []pathElem, index int) float64 {
	d := len(path) - 1
	one := path[index].one
	zero := path[index].zero

	total := 0.0
	if one != 0 {
		next := path[d].pweight
		for i := d - 1; i >= 0; i-- {
			tmp := next * float64(d+1) / (float64(i+1) * one)
			total += tmp
			next = path[i].pweight - tmp*zero*float64(d-i)/float64(d+1)
		}
	} else {
		for i := d - 1; i >= 0; i-- {
			total += path[i].pweight * float64(d+1) / (zero * float64(d-i))
		}
	}
	return total
}

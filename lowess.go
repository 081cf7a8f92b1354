// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"math"
	"sort"
)

// lowessSmooth fits a tricube-weighted local linear regression of y
// on x and returns the fitted value at each xout point. span is the
// fraction of points making up each local window.
func lowessSmooth(x, y, xout []float64, span float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	ord := make([]int, n)
	for i := range ord {
		ord[i] = i
	}
	sort.Slice(ord, func(a, b int) bool { return x[ord[a]] < x[ord[b]] })
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, o := range ord {
		xs[i], ys[i] = x[o], y[o]
	}
	k := int(math.Ceil(span * float64(n)))
	if k < 2 {
		k = 2
	}
	if k > n {
		k = n
	}
	out := make([]float64, len(xout))
	for q, x0 := range xout {
		// widen from the insertion point until the window holds
		// the k nearest neighbors
		lo := sort.SearchFloat64s(xs, x0)
		hi := lo
		for hi-lo < k {
			switch {
			case lo == 0:
				hi++
			case hi == n:
				lo--
			case x0-xs[lo-1] <= xs[hi]-x0:
				lo--
			default:
				hi++
			}
		}
		h := math.Max(x0-xs[lo], xs[hi-1]-x0)
		var sw, swx, swy, swxx, swxy float64
		for i := lo; i < hi; i++ {
			d := math.Abs(xs[i] - x0)
			var w float64
			if h <= 0 {
				w = 1
			} else if d < h {
				t := 1 - (d/h)*(d/h)*(d/h)
				w = t * t * t
			}
			dx := xs[i] - x0
			sw += w
			swx += w * dx
			swy += w * ys[i]
			swxx += w * dx * dx
			swxy += w * dx * ys[i]
		}
		if sw <= 0 {
			s := 0.0
			for i := lo; i < hi; i++ {
				s += ys[i]
			}
			out[q] = s / float64(hi-lo)
			continue
		}
		denom := sw*swxx - swx*swx
		if swxx == 0 || math.Abs(denom) <= 1e-12*sw*swxx {
			out[q] = swy / sw
		} else {
			out[q] = (swxx*swy - swx*swxy) / denom
		}
	}
	return out
}

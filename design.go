// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// design encodes the one-way treatment layout: one indicator column
// per group, one row per sample, no intercept, so every group gets
// an explicit mean coefficient.
type design struct {
	levels []string // distinct group labels, in first-appearance order
	groups []int    // level index per sample
}

func newDesign(groups []string) (*design, error) {
	d := &design{}
	idx := map[string]int{}
	for i, g := range groups {
		if g == "" {
			return nil, fmt.Errorf("sample %d has an empty group label", i)
		}
		lv, ok := idx[g]
		if !ok {
			lv = len(d.levels)
			idx[g] = lv
			d.levels = append(d.levels, g)
		}
		d.groups = append(d.groups, lv)
	}
	if len(d.groups) == 0 {
		return nil, errors.New("no samples")
	}
	return d, nil
}

func (d *design) nsamples() int { return len(d.groups) }
func (d *design) nlevels() int  { return len(d.levels) }

// matrix returns the nsamples x nlevels indicator matrix.
func (d *design) matrix() *mat.Dense {
	X := mat.NewDense(len(d.groups), len(d.levels), nil)
	for i, g := range d.groups {
		X.Set(i, g, 1)
	}
	return X
}

// sizes returns the per-group sample counts, i.e. the design matrix
// column sums.
func (d *design) sizes() []int {
	n := make([]int, len(d.levels))
	for _, g := range d.groups {
		n[g]++
	}
	return n
}

// minGroupSize returns the smallest group size. Every level has at
// least one sample by construction.
func (d *design) minGroupSize() int {
	min := len(d.groups)
	for _, n := range d.sizes() {
		if n < min {
			min = n
		}
	}
	return min
}

func (d *design) levelIndex(name string) int {
	for i, l := range d.levels {
		if l == name {
			return i
		}
	}
	return -1
}

// contrast is a linear combination over the design's group
// coefficients, e.g. OMKO1 minus Untreated.
type contrast struct {
	name string // "A_vs_B", used in output file names
	a, b string
	coef []float64 // one entry per design level
}

// parseContrast parses a "GroupA-GroupB" argument against the
// design's levels.
func (d *design) parseContrast(s string) (contrast, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return contrast{}, fmt.Errorf("cannot parse contrast %q: want \"GroupA-GroupB\"", s)
	}
	a, b := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	ia := d.levelIndex(a)
	if ia < 0 {
		return contrast{}, fmt.Errorf("contrast %q: group %q does not appear in the sample metadata", s, a)
	}
	ib := d.levelIndex(b)
	if ib < 0 {
		return contrast{}, fmt.Errorf("contrast %q: group %q does not appear in the sample metadata", s, b)
	}
	if ia == ib {
		return contrast{}, fmt.Errorf("contrast %q compares a group with itself", s)
	}
	coef := make([]float64, len(d.levels))
	coef[ia], coef[ib] = 1, -1
	return contrast{name: a + "_vs_" + b, a: a, b: b, coef: coef}, nil
}

// contrastsVersus returns one contrast per non-control level against
// control, in level order.
func (d *design) contrastsVersus(control string) ([]contrast, error) {
	if d.levelIndex(control) < 0 {
		return nil, fmt.Errorf("control group %q does not appear in the sample metadata", control)
	}
	var cons []contrast
	for _, l := range d.levels {
		if l == control {
			continue
		}
		con, err := d.parseContrast(l + "-" + control)
		if err != nil {
			return nil, err
		}
		cons = append(cons, con)
	}
	if len(cons) == 0 {
		return nil, fmt.Errorf("all samples are in the control group %q", control)
	}
	return cons, nil
}

// nullDesign reparameterizes the design so the contrast direction is
// removed: a Householder reflection maps the normalized contrast
// onto the first coordinate axis, and the remaining columns span the
// orthogonal complement. A GLM fitted on the returned matrix is the
// reduced model for the likelihood-ratio test of c.
func (d *design) nullDesign(c contrast) *mat.Dense {
	p := len(d.levels)
	u := make([]float64, p)
	norm := 0.0
	for i, v := range c.coef {
		u[i] = v
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range u {
		u[i] /= norm
	}
	v := make([]float64, p)
	copy(v, u)
	if v[0] >= 0 {
		v[0]++
	} else {
		v[0]--
	}
	vv := 0.0
	for _, x := range v {
		vv += x * x
	}
	H := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			h := -2 * v[i] * v[j] / vv
			if i == j {
				h++
			}
			H.Set(i, j, h)
		}
	}
	var rot mat.Dense
	rot.Mul(d.matrix(), H)
	X0 := mat.NewDense(len(d.groups), p-1, nil)
	for i := 0; i < len(d.groups); i++ {
		for j := 1; j < p; j++ {
			X0.Set(i, j-1, rot.At(i, j))
		}
	}
	return X0
}

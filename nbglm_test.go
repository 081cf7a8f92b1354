// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type nbglmSuite struct{}

var _ = check.Suite(&nbglmSuite{})

func (s *nbglmSuite) TestFitGroupMeans(c *check.C) {
	dsn, err := newDesign([]string{"a", "a", "a", "b", "b", "b"})
	c.Assert(err, check.IsNil)
	X := dsn.matrix()
	y := []float64{10, 20, 30, 100, 110, 120}
	offset := make([]float64, 6)
	for i := range offset {
		offset[i] = math.Log(1000)
	}

	fit := fitNBGLM(y, X, offset, 0.1)
	c.Assert(fit.ok, check.Equals, true)
	c.Assert(fit.coef, check.HasLen, 2)
	c.Assert(fit.mu, check.HasLen, 6)

	// with a one-way design the fitted means are the group means
	for i, want := range []float64{20, 20, 20, 110, 110, 110} {
		c.Check(math.Abs(fit.mu[i]-want) < 0.01, check.Equals, true, check.Commentf("mu[%d] = %v", i, fit.mu[i]))
	}
	c.Check(math.Abs(math.Exp(fit.coef[1]-fit.coef[0])-5.5) < 0.01, check.Equals, true)

	// the optimum beats an arbitrary constant fit
	flat := []float64{65, 65, 65, 65, 65, 65}
	c.Check(fit.ll > nbLogLik(y, flat, 0.1), check.Equals, true)
}

func (s *nbglmSuite) TestNBLogLik(c *check.C) {
	got := nbLogLik([]float64{3}, []float64{2.5}, 0.5)
	c.Check(math.Abs(got-(-1.9989260660191)) < 1e-9, check.Equals, true, check.Commentf("%v", got))

	// tiny dispersion approaches the Poisson log-likelihood
	got = nbLogLik([]float64{3}, []float64{2.5}, 1e-8)
	poisson := 3*math.Log(2.5) - 2.5 - math.Log(6)
	c.Check(math.Abs(got-poisson) < 1e-4, check.Equals, true, check.Commentf("%v vs %v", got, poisson))

	// zero means are clamped, not fatal
	got = nbLogLik([]float64{0}, []float64{0}, 0.5)
	c.Check(math.IsNaN(got), check.Equals, false)
	c.Check(math.IsInf(got, 0), check.Equals, false)
}

func (s *nbglmSuite) TestCoxReidAdj(c *check.C) {
	X := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	mu := []float64{10, 10, 10, 10}
	// weights are mu/(1+d*mu) = 5, so X'WX = [20]
	got := coxReidAdj(X, mu, 0.1)
	want := 0.5 * math.Log(20)
	c.Check(math.Abs(got-want) < 1e-12, check.Equals, true, check.Commentf("%v vs %v", got, want))

	// collinear design: no Cholesky factor
	X2 := mat.NewDense(4, 2, []float64{1, 1, 1, 1, 1, 1, 1, 1})
	c.Check(math.IsInf(coxReidAdj(X2, mu, 0.1), 1), check.Equals, true)
}

func (s *nbglmSuite) TestSingularFit(c *check.C) {
	X := mat.NewDense(4, 2, []float64{1, 1, 1, 1, 1, 1, 1, 1})
	y := []float64{5, 6, 7, 8}
	offset := make([]float64, 4)

	fit := fitNBGLM(y, X, offset, 0.1)
	c.Check(fit.ok, check.Equals, false)
	c.Check(math.IsNaN(adjustedProfileLik(y, X, offset, 0.1)), check.Equals, true)
}

func (s *nbglmSuite) TestAdjustedProfileLik(c *check.C) {
	dsn, err := newDesign([]string{"a", "a", "b", "b"})
	c.Assert(err, check.IsNil)
	X := dsn.matrix()
	y := []float64{10, 12, 30, 35}
	offset := make([]float64, 4)
	for i := range offset {
		offset[i] = math.Log(100)
	}

	apl := adjustedProfileLik(y, X, offset, 0.1)
	c.Check(math.IsNaN(apl), check.Equals, false)
	c.Check(math.IsInf(apl, 0), check.Equals, false)

	fit := fitNBGLM(y, X, offset, 0.1)
	c.Assert(fit.ok, check.Equals, true)
	c.Check(apl, check.Equals, fit.ll-coxReidAdj(X, fit.mu, 0.1))
}
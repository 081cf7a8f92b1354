// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/mat"
)

// nbFit is one negative binomial GLM fit for one gene at a fixed
// dispersion: coefficients per design column, fitted means per
// sample, and the NB log-likelihood at the optimum. ok is false when
// IRLS failed (typically a singular weighted design).
type nbFit struct {
	coef []float64
	mu   []float64
	ll   float64
	ok   bool
}

// fitNBGLM fits a log-link negative binomial GLM of the counts y on
// the covariate columns of X, with per-sample offsets (log effective
// library sizes) and fixed dispersion disp.
func fitNBGLM(y []float64, X *mat.Dense, offset []float64, disp float64) (fit nbFit) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			fit = nbFit{}
		}
	}()
	if disp < 1e-8 {
		disp = 1e-8
	}
	nobs, p := X.Dims()
	data := make([][]statmodel.Dtype, 0, p+2)
	names := make([]string, 0, p+2)
	ycol := make([]statmodel.Dtype, nobs)
	for i, v := range y {
		ycol[i] = v
	}
	data = append(data, ycol)
	names = append(names, "y")
	off := make([]statmodel.Dtype, nobs)
	for i, v := range offset {
		off[i] = v
	}
	data = append(data, off)
	names = append(names, "off")
	for k := 0; k < p; k++ {
		col := make([]statmodel.Dtype, nobs)
		for i := range col {
			col[i] = X.At(i, k)
		}
		data = append(data, col)
		names = append(names, fmt.Sprintf("x%d", k))
	}
	dataset := statmodel.NewDataset(data, names)

	config := &glm.Config{
		Family:         glm.NewNegBinomFamily(disp, glm.NewLink(glm.LogLink)),
		FitMethod:      "IRLS",
		ConcurrentIRLS: 1000,
		OffsetVar:      "off",
		Log:            log.New(io.Discard, "", 0),
	}
	model, err := glm.NewGLM(dataset, "y", names[2:], config)
	if err != nil {
		return nbFit{}
	}
	result := model.Fit()
	coef := append([]float64(nil), result.Params()...)
	for _, b := range coef {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return nbFit{}
		}
	}
	mu := make([]float64, nobs)
	for i := 0; i < nobs; i++ {
		eta := offset[i]
		for k := 0; k < p; k++ {
			eta += coef[k] * X.At(i, k)
		}
		mu[i] = math.Exp(eta)
	}
	return nbFit{coef: coef, mu: mu, ll: nbLogLik(y, mu, disp), ok: true}
}

// nbLogLik is the full negative binomial log-likelihood of counts y
// around means mu at dispersion d (size parameter 1/d).
func nbLogLik(y, mu []float64, d float64) float64 {
	r := 1 / d
	ll := 0.0
	for i, yi := range y {
		m := mu[i]
		if m < 1e-10 {
			m = 1e-10
		}
		lgyr, _ := math.Lgamma(yi + r)
		lgr, _ := math.Lgamma(r)
		lgy1, _ := math.Lgamma(yi + 1)
		ll += lgyr - lgr - lgy1 + yi*math.Log(d*m/(1+d*m)) - r*math.Log1p(d*m)
	}
	return ll
}

// coxReidAdj is half the log determinant of the Fisher information
// XᵀWX with IRLS weights W = diag(mu/(1+d·mu)), the Cox-Reid
// correction for estimating the design coefficients.
func coxReidAdj(X *mat.Dense, mu []float64, d float64) float64 {
	n, p := X.Dims()
	xtwx := mat.NewSymDense(p, nil)
	for k := 0; k < p; k++ {
		for l := k; l < p; l++ {
			s := 0.0
			for i := 0; i < n; i++ {
				w := mu[i] / (1 + d*mu[i])
				s += w * X.At(i, k) * X.At(i, l)
			}
			xtwx.SetSym(k, l, s)
		}
	}
	var ch mat.Cholesky
	if !ch.Factorize(xtwx) {
		return math.Inf(1)
	}
	return 0.5 * ch.LogDet()
}

// adjustedProfileLik evaluates the Cox-Reid adjusted profile
// log-likelihood of dispersion d for one gene: the NB log-likelihood
// maximized over the design coefficients, minus the adjustment for
// having estimated them. NaN when the fit fails.
func adjustedProfileLik(y []float64, X *mat.Dense, offset []float64, d float64) float64 {
	fit := fitNBGLM(y, X, offset, d)
	if !fit.ok {
		return math.NaN()
	}
	return fit.ll - coxReidAdj(X, fit.mu, d)
}

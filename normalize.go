// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// normalizer computes per-sample scaling factors that correct for
// composition bias between libraries. Effective library size is
// LibSize * factor; the factors are scaled so their product is 1.
type normalizer struct {
	Method string
	P      float64
}

func (n *normalizer) Flags(flags *flag.FlagSet) {
	flags.StringVar(&n.Method, "method", "tmm", "normalization `method` (tmm, rle, upperquartile, none)")
	flags.Float64Var(&n.P, "p", 0.75, "count `quantile` used by the upperquartile method")
}

func (n *normalizer) Factors(ds *DataSet) ([]float64, error) {
	if ds.NGenes() == 0 {
		return nil, errors.New("dataset has no genes")
	}
	lib := ds.LibSize
	for j, l := range lib {
		if l <= 0 {
			return nil, fmt.Errorf("sample %s has zero total count", ds.Samples[j])
		}
	}
	var f []float64
	var err error
	switch n.Method {
	case "tmm":
		f, err = tmmFactors(ds)
	case "rle":
		f, err = rleFactors(ds, lib)
	case "upperquartile":
		f = factorQuantile(ds, lib, n.P)
		for _, v := range f {
			if v <= 0 {
				err = fmt.Errorf("the %v count quantile is zero for at least one sample; filter low-expression genes first or raise -p", n.P)
				break
			}
		}
	case "none":
		f = make([]float64, ds.NSamples())
		for j := range f {
			f[j] = 1
		}
	default:
		err = fmt.Errorf("unknown normalization method %q", n.Method)
	}
	if err != nil {
		return nil, err
	}
	// Factors multiply to 1 so they redistribute, rather than
	// change, the total sequencing depth.
	slog := 0.0
	for _, v := range f {
		slog += math.Log(v)
	}
	gm := math.Exp(slog / float64(len(f)))
	for j := range f {
		f[j] /= gm
	}
	return f, nil
}

// factorQuantile returns, for each sample, the p-quantile of its
// counts divided by its library size.
func factorQuantile(ds *DataSet, lib []float64, p float64) []float64 {
	f := make([]float64, ds.NSamples())
	for j := range f {
		col := ds.Col(j)
		sort.Float64s(col)
		f[j] = stat.Quantile(p, stat.LinInterp, col, nil) / lib[j]
	}
	return f
}

// tmmFactors implements trimmed mean of M-values: each sample is
// compared against a reference sample, log ratios are trimmed 30%
// on each side by M and 5% by A, and the surviving ratios are
// averaged with inverse-variance weights.
func tmmFactors(ds *DataSet) ([]float64, error) {
	ns := ds.NSamples()
	lib := ds.LibSize
	f75 := factorQuantile(ds, lib, 0.75)
	med, err := stats.Median(f75)
	if err != nil {
		return nil, err
	}
	ref := 0
	if med < 1e-20 {
		// Degenerate upper quartiles; fall back to the sample
		// with the largest sum of root counts.
		best := math.Inf(-1)
		for j := 0; j < ns; j++ {
			s := 0.0
			for g := 0; g < ds.NGenes(); g++ {
				s += math.Sqrt(ds.Counts[g*ns+j])
			}
			if s > best {
				best, ref = s, j
			}
		}
	} else {
		mean := stat.Mean(f75, nil)
		bestd := math.Inf(1)
		for j, v := range f75 {
			if d := math.Abs(v - mean); d < bestd {
				bestd, ref = d, j
			}
		}
	}
	refcol := ds.Col(ref)
	f := make([]float64, ns)
	for j := 0; j < ns; j++ {
		f[j] = tmmPair(ds.Col(j), refcol, lib[j], lib[ref])
	}
	return f, nil
}

// tmmPair computes the TMM factor of one sample against the
// reference sample. Genes with a zero count in either sample drop
// out, matching the log scale.
func tmmPair(obs, ref []float64, nO, nR float64) float64 {
	var logR, absE, v []float64
	for g := range obs {
		o, r := obs[g], ref[g]
		if o <= 0 || r <= 0 {
			continue
		}
		po, pr := o/nO, r/nR
		lr := math.Log2(po / pr)
		ae := (math.Log2(po) + math.Log2(pr)) / 2
		if math.IsInf(lr, 0) || math.IsNaN(lr) || math.IsInf(ae, 0) {
			continue
		}
		logR = append(logR, lr)
		absE = append(absE, ae)
		v = append(v, (nO-o)/(nO*o)+(nR-r)/(nR*r))
	}
	if len(logR) == 0 {
		return 1
	}
	maxAbs := 0.0
	for _, lr := range logR {
		if a := math.Abs(lr); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs < 1e-6 {
		return 1
	}
	n := len(logR)
	loL := math.Floor(float64(n)*0.3) + 1
	hiL := float64(n+1) - loL
	loS := math.Floor(float64(n)*0.05) + 1
	hiS := float64(n+1) - loS
	rankR := averageRanks(logR)
	rankA := averageRanks(absE)
	sumWM, sumW := 0.0, 0.0
	for i := range logR {
		if rankR[i] >= loL && rankR[i] <= hiL && rankA[i] >= loS && rankA[i] <= hiS {
			sumWM += logR[i] / v[i]
			sumW += 1 / v[i]
		}
	}
	if sumW == 0 {
		return 1
	}
	f := sumWM / sumW
	if math.IsNaN(f) {
		f = 0
	}
	return math.Pow(2, f)
}

// rleFactors implements relative log expression: each sample's
// factor is the median ratio of its counts to the per-gene
// geometric means, using only genes expressed in every sample.
func rleFactors(ds *DataSet, lib []float64) ([]float64, error) {
	ng, ns := ds.NGenes(), ds.NSamples()
	geo := make([]float64, ng)
	for g := 0; g < ng; g++ {
		s, pos := 0.0, true
		for _, y := range ds.Row(g) {
			if y <= 0 {
				pos = false
				break
			}
			s += math.Log(y)
		}
		if pos {
			geo[g] = math.Exp(s / float64(ns))
		}
	}
	f := make([]float64, ns)
	ratios := make([]float64, 0, ng)
	for j := 0; j < ns; j++ {
		ratios = ratios[:0]
		for g := 0; g < ng; g++ {
			if geo[g] > 0 {
				ratios = append(ratios, ds.Counts[g*ns+j]/geo[g])
			}
		}
		if len(ratios) == 0 {
			return nil, errors.New("no gene is expressed in every sample; cannot compute rle factors")
		}
		med, err := stats.Median(ratios)
		if err != nil {
			return nil, err
		}
		f[j] = med / lib[j]
	}
	return f, nil
}

// averageRanks returns 1-based ranks, averaging over ties.
func averageRanks(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })
	ranks := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		avg := float64(i+j+2) / 2
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

type normalizecmd struct {
	normalizer
}

func (cmd *normalizecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input dataset `file`")
	outputFilename := flags.String("o", "-", "output dataset `file`")
	cmd.normalizer.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	ds, err := loadDataSet(*inputFilename, stdin)
	if err != nil {
		return 1
	}
	factors, err := cmd.Factors(ds)
	if err != nil {
		return 1
	}
	ds.NormFactors = factors
	for j, f := range factors {
		log.WithFields(log.Fields{
			"sample": ds.Samples[j],
			"factor": f,
		}).Info("normalization factor")
	}
	err = saveDataSet(ds, *outputFilename, stdout)
	if err != nil {
		return 1
	}
	return 0
}

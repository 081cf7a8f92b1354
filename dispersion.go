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
	"runtime"
	"sort"

	log "github.com/sirupsen/logrus"
)

// dispersionEstimator estimates how much gene-level variability
// exceeds Poisson noise. It profiles the Cox-Reid adjusted
// likelihood of each gene over a log-spaced dispersion grid and
// derives three estimates: one common value, a trend over abundance,
// and per-gene values shrunk toward the trend.
type dispersionEstimator struct {
	GridPoints int
	GridMin    float64
	GridMax    float64
	Span       float64
	PriorDF    float64
	PriorCount float64
}

func (e *dispersionEstimator) Flags(flags *flag.FlagSet) {
	flags.IntVar(&e.GridPoints, "grid-points", 15, "`number` of dispersion grid points")
	flags.Float64Var(&e.GridMin, "grid-min", 1e-4, "`smallest` dispersion considered")
	flags.Float64Var(&e.GridMax, "grid-max", 4, "`largest` dispersion considered")
	flags.Float64Var(&e.Span, "span", 0.3, "lowess `span` for the dispersion trend")
	flags.Float64Var(&e.PriorDF, "prior-df", 10, "prior degrees of `freedom` pulling per-gene dispersions toward the trend")
	flags.Float64Var(&e.PriorCount, "prior-count", 2, "`prior` count for average-abundance calculation")
}

// Estimate fills in AveLogCPM, CommonDisp, TrendedDisp, and
// TagwiseDisp on ds.
func (e *dispersionEstimator) Estimate(ds *DataSet, dsn *design) error {
	ng := ds.NGenes()
	if ng == 0 {
		return errors.New("dataset has no genes")
	}
	if e.GridMin <= 0 || e.GridMax <= e.GridMin {
		return fmt.Errorf("bad dispersion grid [%g, %g]", e.GridMin, e.GridMax)
	}
	dfRes := float64(dsn.nsamples() - dsn.nlevels())
	if dfRes < 1 {
		return fmt.Errorf("no residual degrees of freedom: %d samples, %d groups", dsn.nsamples(), dsn.nlevels())
	}
	X := dsn.matrix()
	offset := make([]float64, ds.NSamples())
	for j, l := range ds.EffectiveLibSize() {
		offset[j] = math.Log(l)
	}
	ds.AveLogCPM = aveLogCPM(ds, e.PriorCount)

	grid := e.grid()
	logd := make([]float64, len(grid))
	for k, d := range grid {
		logd[k] = math.Log(d)
	}

	log.Printf("profiling %d genes over %d dispersions", ng, len(grid))
	apl := make([][]float64, ng)
	th := newThrottle(runtime.GOMAXPROCS(0))
	for g := 0; g < ng; g++ {
		g := g
		th.Go(func() error {
			row := make([]float64, len(grid))
			for k, d := range grid {
				row[k] = adjustedProfileLik(ds.Row(g), X, offset, d)
			}
			apl[g] = row
			return nil
		})
	}
	if err := th.Wait(); err != nil {
		return err
	}

	// Common dispersion: maximize the profile likelihood summed
	// over genes.
	sum := make([]float64, len(grid))
	for _, row := range apl {
		for k, v := range row {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				sum[k] += v
			}
		}
	}
	ds.CommonDisp = math.Exp(maximizeGrid(logd, sum))

	// Trend: smooth the APL rows across genes ordered by
	// abundance, maximize per gene, then smooth the maximizers
	// against abundance.
	ord := make([]int, ng)
	for i := range ord {
		ord[i] = i
	}
	sort.Slice(ord, func(a, b int) bool { return ds.AveLogCPM[ord[a]] < ds.AveLogCPM[ord[b]] })
	win := ng / 10
	if win < 50 {
		win = 50
	}
	if win > ng {
		win = ng
	}
	smoothed := movingAverageRows(apl, ord, win)
	var xs, ys []float64
	for g := 0; g < ng; g++ {
		v := maximizeGrid(logd, smoothed[g])
		if !math.IsNaN(v) {
			xs = append(xs, ds.AveLogCPM[g])
			ys = append(ys, v)
		}
	}
	ds.TrendedDisp = make([]float64, ng)
	if len(xs) == 0 {
		log.Warn("dispersion trend unavailable; falling back to the common dispersion")
		for g := range ds.TrendedDisp {
			ds.TrendedDisp[g] = ds.CommonDisp
		}
	} else {
		for g, v := range lowessSmooth(xs, ys, ds.AveLogCPM, e.Span) {
			ds.TrendedDisp[g] = math.Exp(v)
		}
	}

	// Tagwise: each gene's own maximizer, shrunk toward the trend
	// on the log scale with prior.df worth of extra observations.
	ds.TagwiseDisp = make([]float64, ng)
	nfail := 0
	for g := 0; g < ng; g++ {
		raw := maximizeGrid(logd, apl[g])
		if math.IsNaN(raw) {
			ds.TagwiseDisp[g] = ds.TrendedDisp[g]
			nfail++
			continue
		}
		ds.TagwiseDisp[g] = math.Exp((dfRes*raw + e.PriorDF*math.Log(ds.TrendedDisp[g])) / (dfRes + e.PriorDF))
	}
	if nfail > 0 {
		log.Warnf("%d genes could not be profiled; using the trended dispersion for them", nfail)
	}
	return nil
}

func (e *dispersionEstimator) grid() []float64 {
	n := e.GridPoints
	if n < 2 {
		n = 2
	}
	ratio := math.Log(e.GridMax / e.GridMin)
	g := make([]float64, n)
	for k := range g {
		g[k] = e.GridMin * math.Exp(ratio*float64(k)/float64(n-1))
	}
	return g
}

// maximizeGrid returns the position of the maximum of a
// grid-evaluated function, refined by the vertex of a parabola
// through the best point and its neighbors. Positions (and the
// return value) are log dispersions; interior refinement never
// leaves the surrounding grid cell pair.
func maximizeGrid(logd, apl []float64) float64 {
	best := -1
	for k, v := range apl {
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v > apl[best] {
			best = k
		}
	}
	if best < 0 {
		return math.NaN()
	}
	if best == 0 || best == len(apl)-1 {
		return logd[best]
	}
	y0, y1, y2 := apl[best-1], apl[best], apl[best+1]
	if math.IsNaN(y0) || math.IsNaN(y2) || math.IsInf(y0, 0) || math.IsInf(y1, 0) || math.IsInf(y2, 0) {
		return logd[best]
	}
	denom := y0 - 2*y1 + y2
	if denom >= 0 {
		return logd[best]
	}
	shift := 0.5 * (y0 - y2) / denom
	if shift > 1 {
		shift = 1
	} else if shift < -1 {
		shift = -1
	}
	return logd[best] + shift*(logd[best]-logd[best-1])
}

// movingAverageRows replaces each gene's row with the column-wise
// average of the rows in a window around it in the given order,
// skipping non-finite cells. The window clamps at the edges without
// shrinking.
func movingAverageRows(rows [][]float64, ord []int, width int) [][]float64 {
	n := len(ord)
	out := make([][]float64, n)
	half := width / 2
	for i := 0; i < n; i++ {
		lo, hi := i-half, i-half+width
		if lo < 0 {
			lo, hi = 0, width
		}
		if hi > n {
			lo, hi = n-width, n
			if lo < 0 {
				lo = 0
			}
		}
		ncols := len(rows[ord[i]])
		avg := make([]float64, ncols)
		cnt := make([]int, ncols)
		for j := lo; j < hi; j++ {
			for k, v := range rows[ord[j]] {
				if !math.IsNaN(v) && !math.IsInf(v, 0) {
					avg[k] += v
					cnt[k]++
				}
			}
		}
		for k := range avg {
			if cnt[k] > 0 {
				avg[k] /= float64(cnt[k])
			} else {
				avg[k] = math.NaN()
			}
		}
		out[ord[i]] = avg
	}
	return out
}

type dispcmd struct {
	dispersionEstimator
}

func (cmd *dispcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	cmd.dispersionEstimator.Flags(flags)
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
	dsn, err := newDesign(ds.Groups)
	if err != nil {
		return 1
	}
	err = cmd.Estimate(ds, dsn)
	if err != nil {
		return 1
	}
	log.Printf("common dispersion %.4g (BCV %.3f)", ds.CommonDisp, math.Sqrt(ds.CommonDisp))
	err = saveDataSet(ds, *outputFilename, stdout)
	if err != nil {
		return 1
	}
	return 0
}

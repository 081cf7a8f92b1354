// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// runTests fits each gene's NB GLM once and scores every contrast
// with a likelihood-ratio test against the contrast's reduced
// design. Reported fold changes come from a separate fit with
// library-scaled prior counts added, which shrinks ratios between
// small counts without touching the test statistics.
func runTests(ds *DataSet, dsn *design, cons []contrast, priorCount, fallbackDisp float64) ([][]Result, error) {
	ng := ds.NGenes()
	X := dsn.matrix()
	lib := ds.EffectiveLibSize()
	offset := make([]float64, len(lib))
	priorScaled := make([]float64, len(lib))
	offAug := make([]float64, len(lib))
	meanLib := stat.Mean(lib, nil)
	for j, l := range lib {
		offset[j] = math.Log(l)
		priorScaled[j] = priorCount * l / meanLib
		offAug[j] = math.Log(l + 2*priorScaled[j])
	}
	ave := ds.AveLogCPM
	if len(ave) != ng {
		ave = aveLogCPM(ds, 2)
	}
	nulls := make([]*mat.Dense, len(cons))
	for ci, con := range cons {
		nulls[ci] = dsn.nullDesign(con)
	}

	out := make([][]Result, len(cons))
	for ci := range out {
		out[ci] = make([]Result, ng)
	}
	var nfail int64
	chisq := distuv.ChiSquared{K: 1}
	th := newThrottle(runtime.GOMAXPROCS(0))
	for g := 0; g < ng; g++ {
		g := g
		th.Go(func() error {
			y := ds.Row(g)
			disp := ds.Dispersion(g, fallbackDisp)
			full := fitNBGLM(y, X, offset, disp)
			yAug := make([]float64, len(y))
			for j, v := range y {
				yAug[j] = v + priorScaled[j]
			}
			shrunk := fitNBGLM(yAug, X, offAug, disp)
			for ci, con := range cons {
				res := Result{
					Gene:   ds.Genes[g],
					LogCPM: ave[g],
					LogFC:  math.NaN(),
					LR:     math.NaN(),
					PValue: math.NaN(),
				}
				if shrunk.ok {
					fc := 0.0
					for k, c := range con.coef {
						fc += c * shrunk.coef[k]
					}
					res.LogFC = fc / math.Ln2
				}
				if full.ok {
					if null := fitNBGLM(y, nulls[ci], offset, disp); null.ok {
						lr := 2 * (full.ll - null.ll)
						if lr < 0 {
							lr = 0
						}
						res.LR = lr
						res.PValue = chisq.Survival(lr)
					}
				}
				if math.IsNaN(res.PValue) {
					atomic.AddInt64(&nfail, 1)
				}
				out[ci][g] = res
			}
			return nil
		})
	}
	if err := th.Wait(); err != nil {
		return nil, err
	}
	if nfail > 0 {
		log.Warnf("%d gene/contrast fits failed; affected rows carry NaN", nfail)
	}
	return out, nil
}

type testcmd struct {
	Control      string
	Contrasts    string
	OutputDir    string
	PriorCount   float64
	FallbackDisp float64
}

func (cmd *testcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input dataset `file`")
	flags.StringVar(&cmd.OutputDir, "output-dir", ".", "`directory` for result tables")
	flags.StringVar(&cmd.Control, "control", "Untreated", "control `group` every other group is tested against")
	flags.StringVar(&cmd.Contrasts, "contrasts", "", "comma-separated `list` of GroupA-GroupB contrasts overriding -control")
	flags.Float64Var(&cmd.PriorCount, "prior-count", 0.125, "`prior` count added when estimating fold changes")
	flags.Float64Var(&cmd.FallbackDisp, "dispersion", 0.05, "`dispersion` used when the dataset carries no estimates")
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
	var cons []contrast
	if cmd.Contrasts != "" {
		for _, s := range strings.Split(cmd.Contrasts, ",") {
			var con contrast
			con, err = dsn.parseContrast(s)
			if err != nil {
				return 1
			}
			cons = append(cons, con)
		}
	} else {
		cons, err = dsn.contrastsVersus(cmd.Control)
		if err != nil {
			return 1
		}
	}
	if len(ds.TagwiseDisp) == 0 && ds.CommonDisp == 0 {
		log.Warnf("no dispersion estimates in dataset; using -dispersion %g for all genes", cmd.FallbackDisp)
	}
	err = os.MkdirAll(cmd.OutputDir, 0777)
	if err != nil {
		return 1
	}
	results, err := runTests(ds, dsn, cons, cmd.PriorCount, cmd.FallbackDisp)
	if err != nil {
		return 1
	}
	for ci, rows := range results {
		p := make([]float64, len(rows))
		for i, r := range rows {
			p[i] = r.PValue
		}
		for i, v := range bhAdjust(p) {
			rows[i].FDR = v
		}
		sortByPValue(rows)
		fnm := filepath.Join(cmd.OutputDir, "dge_"+cons[ci].name+".csv")
		err = writeResults(fnm, rows)
		if err != nil {
			return 1
		}
		log.Printf("wrote %s (%d genes)", fnm, len(rows))
	}
	return 0
}

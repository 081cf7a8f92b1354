// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"flag"
	"fmt"
	"io"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

// filter drops genes whose expression is too low to support a
// dispersion estimate: a gene survives when enough samples reach a
// CPM cutoff derived from MinCount and the median library size, and
// its total count across all samples reaches MinTotalCount.
type filter struct {
	MinCount      float64
	MinTotalCount float64
	LargeN        int
	MinProp       float64
}

func (f *filter) Flags(flags *flag.FlagSet) {
	flags.Float64Var(&f.MinCount, "min-count", 10, "drop genes with fewer than `N` reads (on the CPM scale) in the smallest group's worth of samples")
	flags.Float64Var(&f.MinTotalCount, "min-total-count", 15, "drop genes with fewer than `N` reads in total")
	flags.IntVar(&f.LargeN, "large-n", 10, "group size `N` beyond which additional samples are discounted")
	flags.Float64Var(&f.MinProp, "min-prop", 0.7, "`weight` given to samples beyond -large-n")
}

// Keep returns one flag per gene, true when the gene passes the
// expression filter under the given grouping.
func (f *filter) Keep(ds *DataSet, dsn *design) ([]bool, error) {
	lib := ds.EffectiveLibSize()
	medlib, err := stats.Median(lib)
	if err != nil {
		return nil, err
	}
	cutoff := f.MinCount / medlib * 1e6
	// The number of samples that must exceed the cutoff is the
	// smallest group size, discounted once groups grow beyond
	// LargeN samples.
	minSampleSize := float64(dsn.minGroupSize())
	if minSampleSize > float64(f.LargeN) {
		minSampleSize = float64(f.LargeN) + (minSampleSize-float64(f.LargeN))*f.MinProp
	}
	const tol = 1e-14
	keep := make([]bool, ds.NGenes())
	for g := range keep {
		total := 0.0
		nabove := 0
		for j, y := range ds.Row(g) {
			total += y
			if y/lib[j]*1e6 >= cutoff {
				nabove++
			}
		}
		keep[g] = float64(nabove) >= minSampleSize-tol && total >= f.MinTotalCount-tol
	}
	return keep, nil
}

// applyKeep returns a new DataSet containing only the flagged genes.
// Library sizes are recomputed from the surviving counts;
// normalization factors and dispersion estimates do not carry over.
func applyKeep(ds *DataSet, keep []bool) *DataSet {
	out := &DataSet{
		Samples:     ds.Samples,
		Groups:      ds.Groups,
		Source:      ds.Source,
		Fingerprint: ds.Fingerprint,
	}
	for g, ok := range keep {
		if !ok {
			continue
		}
		out.Genes = append(out.Genes, ds.Genes[g])
		out.Counts = append(out.Counts, ds.Row(g)...)
	}
	out.LibSize = colSums(out.Counts, ds.NSamples())
	return out
}

type filtercmd struct {
	filter
}

func (cmd *filtercmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	cmd.filter.Flags(flags)
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
	keep, err := cmd.filter.Keep(ds, dsn)
	if err != nil {
		return 1
	}
	nkeep := 0
	for _, ok := range keep {
		if ok {
			nkeep++
		}
	}
	log.Printf("keeping %d of %d genes", nkeep, ds.NGenes())
	err = saveDataSet(applyKeep(ds, keep), *outputFilename, stdout)
	if err != nil {
		return 1
	}
	return 0
}

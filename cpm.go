// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// cpmValues returns the genes x samples matrix of counts per
// million. On the log2 scale a prior count, scaled in proportion to
// each sample's effective library size, keeps zero counts finite and
// damps log ratios between low counts.
func cpmValues(ds *DataSet, prior float64, logScale bool) []float64 {
	lib := ds.EffectiveLibSize()
	meanLib := stat.Mean(lib, nil)
	ns := ds.NSamples()
	out := make([]float64, len(ds.Counts))
	if !logScale {
		for i, y := range ds.Counts {
			out[i] = y / lib[i%ns] * 1e6
		}
		return out
	}
	for i, y := range ds.Counts {
		j := i % ns
		ps := prior * lib[j] / meanLib
		out[i] = math.Log2((y + ps) / (lib[j] + 2*ps) * 1e6)
	}
	return out
}

// aveLogCPM returns each gene's average abundance: log2 CPM of its
// pooled count over the pooled effective library size, with a prior
// keeping all-zero genes finite.
func aveLogCPM(ds *DataSet, prior float64) []float64 {
	lib := ds.EffectiveLibSize()
	libTotal := 0.0
	for _, l := range lib {
		libTotal += l
	}
	n := float64(ds.NSamples())
	ave := make([]float64, ds.NGenes())
	for g := range ave {
		total := 0.0
		for _, y := range ds.Row(g) {
			total += y
		}
		ave[g] = math.Log2((total + 2*prior) / (libTotal + 2*prior*n) * 1e6)
	}
	return ave
}

// writeTable writes a genes x samples matrix with a header row and a
// gene-ID first column, comma-separated if the file name says .csv,
// otherwise tab-separated.
func writeTable(fnm string, out io.Writer, ds *DataSet, values []float64) error {
	sep := "\t"
	if strings.HasSuffix(strings.TrimSuffix(fnm, ".gz"), ".csv") {
		sep = ","
	}
	var w io.WriteCloser
	if fnm == "-" {
		w = nopCloser{out}
	} else {
		var err error
		w, err = zcreate(fnm)
		if err != nil {
			return err
		}
	}
	bufw := bufio.NewWriter(w)
	fmt.Fprintf(bufw, "Gene%s%s\n", sep, strings.Join(ds.Samples, sep))
	ns := ds.NSamples()
	for g, gene := range ds.Genes {
		fmt.Fprint(bufw, gene)
		for j := 0; j < ns; j++ {
			fmt.Fprintf(bufw, "%s%v", sep, values[g*ns+j])
		}
		bufw.WriteByte('\n')
	}
	if err := bufw.Flush(); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

type cpmcmd struct{}

func (cmd *cpmcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input dataset `file`")
	outputFilename := flags.String("o", "-", "output table `file` (.tsv or .csv, optionally .gz)")
	priorCount := flags.Float64("prior-count", 2, "`prior` count added before taking logs")
	logScale := flags.Bool("log", true, "write log2 values instead of plain CPM")
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
	err = writeTable(*outputFilename, stdout, ds, cpmValues(ds, *priorCount, *logScale))
	if err != nil {
		return 1
	}
	return 0
}

// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/montanaflynn/stats"
)

type quantileSummary struct {
	Min    float64
	Q1     float64
	Median float64
	Q3     float64
	Max    float64
	Mean   float64
}

func summarize(xs []float64) (quantileSummary, error) {
	var s quantileSummary
	var err error
	if s.Min, err = stats.Min(xs); err != nil {
		return s, err
	}
	if s.Max, err = stats.Max(xs); err != nil {
		return s, err
	}
	if s.Mean, err = stats.Mean(xs); err != nil {
		return s, err
	}
	if s.Median, err = stats.Median(xs); err != nil {
		return s, err
	}
	if q, err := stats.Quartile(xs); err == nil {
		s.Q1, s.Q3 = q.Q1, q.Q3
	} else {
		s.Q1, s.Q3 = s.Median, s.Median
	}
	return s, nil
}

type statscmd struct{}

func (cmd *statscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input dataset `file`")
	outputFilename := flags.String("o", "-", "output `file`")
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

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	err = cmd.doStats(ds, bufw)
	if err != nil {
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

func (cmd *statscmd) doStats(ds *DataSet, output io.Writer) error {
	var ret struct {
		Source       string `json:",omitempty"`
		Fingerprint  string
		Genes        int
		Samples      int
		GroupSizes   map[string]int
		LibSize      quantileSummary
		ZeroFraction float64
		NormFactors  []float64        `json:",omitempty"`
		CommonDisp   float64          `json:",omitempty"`
		BCV          float64          `json:",omitempty"`
		TagwiseDisp  *quantileSummary `json:",omitempty"`
	}
	ret.Source = ds.Source
	ret.Fingerprint = fmt.Sprintf("%x", ds.Fingerprint)
	ret.Genes = ds.NGenes()
	ret.Samples = ds.NSamples()
	ret.GroupSizes = map[string]int{}
	for _, g := range ds.Groups {
		ret.GroupSizes[g]++
	}
	var err error
	ret.LibSize, err = summarize(ds.LibSize)
	if err != nil {
		return err
	}
	zeros := 0
	for _, y := range ds.Counts {
		if y == 0 {
			zeros++
		}
	}
	ret.ZeroFraction = float64(zeros) / float64(len(ds.Counts))
	ret.NormFactors = ds.NormFactors
	if ds.CommonDisp > 0 {
		ret.CommonDisp = ds.CommonDisp
		ret.BCV = math.Sqrt(ds.CommonDisp)
	}
	if len(ds.TagwiseDisp) > 0 {
		s, err := summarize(ds.TagwiseDisp)
		if err != nil {
			return err
		}
		ret.TagwiseDisp = &s
	}
	return json.NewEncoder(output).Encode(ret)
}

// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"strings"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// exportNumpy writes the count matrix (or its log2 CPM transform)
// as a float64 .npy file for downstream work in Python, with gene
// and sample names in sidecar text files.
type exportNumpy struct {
	LogCPM     bool
	PriorCount float64
}

func (cmd *exportNumpy) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input dataset `file`")
	outputFilename := flags.String("o", "-", "output .npy `file`")
	flags.BoolVar(&cmd.LogCPM, "logcpm", false, "export log2 CPM values instead of raw counts")
	flags.Float64Var(&cmd.PriorCount, "prior-count", 2, "`prior` count for the log2 CPM transform")
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
	data := ds.Counts
	if cmd.LogCPM {
		data = cpmValues(ds, cmd.PriorCount, true)
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
	}
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		output.Close()
		return 1
	}
	npw.Shape = []int{ds.NGenes(), ds.NSamples()}
	err = npw.WriteFloat64(data)
	if err != nil {
		output.Close()
		return 1
	}
	err = bufw.Flush()
	if err != nil {
		output.Close()
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}

	if *outputFilename != "-" {
		base := strings.TrimSuffix(*outputFilename, ".npy")
		err = ioutil.WriteFile(base+".genes.txt", []byte(strings.Join(ds.Genes, "\n")+"\n"), 0777)
		if err != nil {
			return 1
		}
		err = ioutil.WriteFile(base+".samples.txt", []byte(strings.Join(ds.Samples, "\n")+"\n"), 0777)
		if err != nil {
			return 1
		}
		log.Printf("wrote %s with %d x %d values", *outputFilename, ds.NGenes(), ds.NSamples())
	}
	return 0
}

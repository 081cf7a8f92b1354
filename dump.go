// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"flag"
	"fmt"
	"io"
)

// dumpcmd writes a dataset's count matrix back out as a delimited
// table, the inverse of import for spot checks and debugging.
type dumpcmd struct{}

func (cmd *dumpcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	showGroups := flags.Bool("groups", false, "print the sample/group assignment instead of counts")
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
	if *showGroups {
		for j, s := range ds.Samples {
			fmt.Fprintf(stdout, "%s,%s\n", s, ds.Groups[j])
		}
		return 0
	}
	err = writeTable(*outputFilename, stdout, ds, ds.Counts)
	if err != nil {
		return 1
	}
	return 0
}

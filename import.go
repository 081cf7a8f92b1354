// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

type importer struct {
	sampleSheet string
	groupList   string
	dropColumns string
	outputFile  string
}

func (cmd *importer) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.sampleSheet, "samples", "", "sample sheet CSV `file` (SampleID,Group) assigning each sample to a treatment group")
	flags.StringVar(&cmd.groupList, "groups", "", "comma-separated group `labels`, one per count column in matrix order (when no -samples sheet is available)")
	flags.StringVar(&cmd.dropColumns, "drop-columns", "", "comma-separated sample `columns` to drop from the count matrix")
	flags.StringVar(&cmd.outputFile, "o", "-", "output dataset `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: import [options] counts.tsv")
		flags.Usage()
		return 2
	} else if cmd.sampleSheet == "" && cmd.groupList == "" {
		fmt.Fprintln(stderr, "cannot import without -samples or -groups")
		return 2
	}

	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	var drop []string
	if cmd.dropColumns != "" {
		drop = strings.Split(cmd.dropColumns, ",")
	}
	ds, err := importCounts(flags.Arg(0), stdin, drop)
	if err != nil {
		return 1
	}
	if cmd.sampleSheet != "" {
		if cmd.groupList != "" {
			log.Warn("ignoring -groups because -samples was given")
		}
		err = assignGroupsFromSheet(ds, cmd.sampleSheet)
	} else {
		err = assignGroupsFromList(ds, strings.Split(cmd.groupList, ","))
	}
	if err != nil {
		return 1
	}
	log.Printf("imported %d genes x %d samples", ds.NGenes(), ds.NSamples())
	err = saveDataSet(ds, cmd.outputFile, stdout)
	if err != nil {
		return 1
	}
	return 0
}

// importCounts parses a delimited gene x sample read count matrix:
// a header row of sample IDs (optionally preceded by a label for the
// gene column) and one row per gene, gene ID first. The field
// separator is sniffed from the header. Counts must be non-negative
// integers.
func importCounts(fnm string, stdin io.Reader, drop []string) (*DataSet, error) {
	var buf []byte
	var err error
	if fnm == "-" {
		buf, err = ioutil.ReadAll(stdin)
	} else {
		var f io.ReadCloser
		f, err = zopen(fnm)
		if err != nil {
			return nil, err
		}
		buf, err = ioutil.ReadAll(f)
		f.Close()
	}
	if err != nil {
		return nil, err
	}
	ds := &DataSet{Source: fnm, Fingerprint: blake2b.Sum256(buf)}

	sep := "\t"
	if eol := bytes.IndexByte(buf, '\n'); eol >= 0 {
		if line0 := buf[:eol]; !bytes.Contains(line0, []byte("\t")) && bytes.Contains(line0, []byte(",")) {
			sep = ","
		}
	}

	seen := map[string]bool{}
	headerDone, widthKnown := false, false
	lineno := 0
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		lineno++
		if len(line) == 0 {
			continue
		}
		fields := strings.Split(strings.TrimRight(string(line), "\r"), sep)
		if !headerDone {
			ds.Samples = fields
			headerDone = true
			continue
		}
		if !widthKnown {
			switch len(fields) {
			case len(ds.Samples):
				// header started with a gene-column label
				ds.Samples = ds.Samples[1:]
			case len(ds.Samples) + 1:
				// header listed sample IDs only
			default:
				return nil, fmt.Errorf("%s line %d: %d fields for a %d-column header", fnm, lineno, len(fields), len(ds.Samples))
			}
			for _, s := range ds.Samples {
				if s == "" {
					return nil, fmt.Errorf("%s: empty sample ID in header", fnm)
				}
				if seen[s] {
					return nil, fmt.Errorf("%s: duplicate sample ID %q", fnm, s)
				}
				seen[s] = true
			}
			seen = map[string]bool{}
			widthKnown = true
		}
		if len(fields) != len(ds.Samples)+1 {
			return nil, fmt.Errorf("%s line %d: %d fields, expected %d", fnm, lineno, len(fields), len(ds.Samples)+1)
		}
		gene := fields[0]
		if gene == "" {
			return nil, fmt.Errorf("%s line %d: empty gene ID", fnm, lineno)
		}
		if seen[gene] {
			return nil, fmt.Errorf("%s line %d: duplicate gene ID %q", fnm, lineno, gene)
		}
		seen[gene] = true
		ds.Genes = append(ds.Genes, gene)
		for _, cell := range fields[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil || v < 0 || v != math.Trunc(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%s line %d: bad count %q", fnm, lineno, cell)
			}
			ds.Counts = append(ds.Counts, v)
		}
	}
	if len(ds.Genes) == 0 {
		return nil, fmt.Errorf("%s: no count rows found", fnm)
	}
	if err := dropSampleColumns(ds, drop); err != nil {
		return nil, err
	}
	ds.LibSize = colSums(ds.Counts, len(ds.Samples))
	return ds, nil
}

// dropSampleColumns removes the named columns from the matrix, e.g.
// a length or annotation column that is not a sample.
func dropSampleColumns(ds *DataSet, drop []string) error {
	if len(drop) == 0 {
		return nil
	}
	dropset := map[string]bool{}
	for _, d := range drop {
		if d = strings.TrimSpace(d); d != "" {
			dropset[d] = false
		}
	}
	var keep []int
	var kept []string
	for j, s := range ds.Samples {
		if _, ok := dropset[s]; ok {
			dropset[s] = true
		} else {
			keep = append(keep, j)
			kept = append(kept, s)
		}
	}
	for s, found := range dropset {
		if !found {
			return fmt.Errorf("-drop-columns: no column named %q", s)
		}
	}
	ns := len(ds.Samples)
	counts := make([]float64, 0, len(ds.Genes)*len(keep))
	for g := range ds.Genes {
		for _, j := range keep {
			counts = append(counts, ds.Counts[g*ns+j])
		}
	}
	ds.Samples, ds.Counts = kept, counts
	return nil
}

type sampleSheetRow struct {
	SampleID string `csv:"SampleID"`
	Group    string `csv:"Group"`
}

// assignGroupsFromSheet maps samples to treatment groups by name.
// The sheet and the count matrix must agree exactly: every column
// needs a group, every sheet row needs a column.
func assignGroupsFromSheet(ds *DataSet, fnm string) error {
	f, err := os.Open(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	var rows []*sampleSheetRow
	err = gocsv.UnmarshalFile(f, &rows)
	if err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	bySample := map[string]string{}
	for i, row := range rows {
		if row.SampleID == "" || row.Group == "" {
			return fmt.Errorf("%s row %d: SampleID and Group must both be set", fnm, i+2)
		}
		if _, dup := bySample[row.SampleID]; dup {
			return fmt.Errorf("%s: duplicate sample %q", fnm, row.SampleID)
		}
		bySample[row.SampleID] = row.Group
	}
	groups := make([]string, len(ds.Samples))
	for j, s := range ds.Samples {
		g, ok := bySample[s]
		if !ok {
			return fmt.Errorf("%s: no group for sample %q", fnm, s)
		}
		groups[j] = g
		delete(bySample, s)
	}
	for s := range bySample {
		return fmt.Errorf("%s: sample %q does not appear in the count matrix", fnm, s)
	}
	ds.Groups = groups
	return nil
}

// assignGroupsFromList assigns groups positionally, one label per
// count column in matrix order.
func assignGroupsFromList(ds *DataSet, labels []string) error {
	if len(labels) != len(ds.Samples) {
		return fmt.Errorf("-groups lists %d labels for %d samples", len(labels), len(ds.Samples))
	}
	groups := make([]string, len(labels))
	for j, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			return fmt.Errorf("-groups: empty label for sample %q", ds.Samples[j])
		}
		groups[j] = l
	}
	ds.Groups = groups
	return nil
}

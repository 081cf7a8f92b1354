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
	"os"
	"sort"
	"strings"

	fet "github.com/glycerine/golang-fisher-exact"
	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
)

// enrichRow is one gene set's over-representation outcome: how many
// of its genes were tested, how many came out differentially
// expressed, and how surprising that overlap is.
type enrichRow struct {
	Term   string  `csv:"Term"`
	Size   int     `csv:"Size"`
	DE     int     `csv:"DE"`
	PValue float64 `csv:"PValue"`
	ChiSqP float64 `csv:"ChiSqP"`
	FDR    float64 `csv:"FDR"`
}

// readGeneSets parses a term<TAB>gene file into term membership
// lists. Lines starting with # are comments.
func readGeneSets(fnm string) (map[string][]string, error) {
	buf, err := ioutil.ReadFile(fnm)
	if err != nil {
		return nil, err
	}
	sets := map[string][]string{}
	lineno := 0
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		lineno++
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		fields := strings.Split(string(line), "\t")
		if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
			return nil, fmt.Errorf("%s line %d: want term<TAB>gene", fnm, lineno)
		}
		sets[fields[0]] = append(sets[fields[0]], fields[1])
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%s: no gene sets found", fnm)
	}
	return sets, nil
}

// enrichment scores each term's overlap with the differentially
// expressed genes against the tested universe: a one-sided Fisher
// exact test on the 2x2 membership table, with a Yates-corrected
// chi-square p-value alongside for comparison.
func enrichment(rows []Result, sets map[string][]string, lfc, maxP float64, minGenes int) []enrichRow {
	universe := map[string]bool{}
	de := map[string]bool{}
	for _, r := range rows {
		universe[r.Gene] = true
		if classify(r.LogFC, r.PValue, lfc, maxP) != dirNS {
			de[r.Gene] = true
		}
	}
	var out []enrichRow
	for term, genes := range sets {
		seen := map[string]bool{}
		inTerm, deInTerm := 0, 0
		for _, g := range genes {
			if !universe[g] || seen[g] {
				continue
			}
			seen[g] = true
			inTerm++
			if de[g] {
				deInTerm++
			}
		}
		if inTerm < minGenes {
			continue
		}
		n11 := deInTerm
		n12 := len(de) - deInTerm
		n21 := inTerm - deInTerm
		n22 := len(universe) - len(de) - n21
		_, _, rightP, _ := fet.FisherExactTest(n11, n12, n21, n22)
		_, chiP := fet.ChiSquareTest(n11, n12, n21, n22, true)
		out = append(out, enrichRow{Term: term, Size: inTerm, DE: deInTerm, PValue: rightP, ChiSqP: chiP})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].PValue != out[b].PValue {
			return out[a].PValue < out[b].PValue
		}
		return out[a].Term < out[b].Term
	})
	p := make([]float64, len(out))
	for i, r := range out {
		p[i] = r.PValue
	}
	for i, v := range bhAdjust(p) {
		out[i].FDR = v
	}
	return out
}

type enrichcmd struct {
	Sets     string
	MinLogFC float64
	MaxP     float64
	MinGenes int
	Output   string
}

func (cmd *enrichcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.Sets, "sets", "", "gene set `file` (term<TAB>gene rows)")
	flags.Float64Var(&cmd.MinLogFC, "lfc", 1.5, "log2 fold change `threshold`")
	flags.Float64Var(&cmd.MaxP, "p", 1e-3, "p-value `threshold`")
	flags.IntVar(&cmd.MinGenes, "min-genes", 3, "skip terms with fewer than `N` tested genes")
	flags.StringVar(&cmd.Output, "o", "", "output CSV `file` (default <input>_enrichment.csv)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.Sets == "" {
		fmt.Fprintln(stderr, "cannot run enrich without -sets")
		return 2
	} else if flags.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: enrich -sets sets.tsv [options] dge_A_vs_B.csv")
		flags.Usage()
		return 2
	}

	rows, err := readResults(flags.Arg(0))
	if err != nil {
		return 1
	}
	sets, err := readGeneSets(cmd.Sets)
	if err != nil {
		return 1
	}
	out := enrichment(rows, sets, cmd.MinLogFC, cmd.MaxP, cmd.MinGenes)
	log.Printf("tested %d of %d terms", len(out), len(sets))

	outfnm := cmd.Output
	if outfnm == "" {
		outfnm = strings.TrimSuffix(flags.Arg(0), ".csv") + "_enrichment.csv"
	}
	var w io.WriteCloser
	if outfnm == "-" {
		w = nopCloser{stdout}
	} else {
		w, err = os.OpenFile(outfnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
	}
	err = gocsv.Marshal(&out, w)
	if err != nil {
		w.Close()
		return 1
	}
	err = w.Close()
	if err != nil {
		return 1
	}
	return 0
}

// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
)

// Result is one gene's outcome for one contrast. LogFC and PValue
// are NaN when the gene's model fits failed.
type Result struct {
	Gene   string  `csv:"Gene"`
	LogFC  float64 `csv:"LogFC"`
	LogCPM float64 `csv:"LogCPM"`
	LR     float64 `csv:"LR"`
	PValue float64 `csv:"PValue"`
	FDR    float64 `csv:"FDR"`
}

// bhAdjust returns Benjamini-Hochberg adjusted p-values. NaN inputs
// stay NaN and do not count toward the number of tests.
func bhAdjust(p []float64) []float64 {
	adj := make([]float64, len(p))
	var idx []int
	for i, v := range p {
		if math.IsNaN(v) {
			adj[i] = math.NaN()
		} else {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool { return p[idx[a]] < p[idx[b]] })
	n := float64(len(idx))
	min := 1.0
	for k := len(idx) - 1; k >= 0; k-- {
		v := p[idx[k]] * n / float64(k+1)
		if v < min {
			min = v
		}
		adj[idx[k]] = min
	}
	return adj
}

// sortByPValue orders rows by ascending p-value, NaNs last.
func sortByPValue(rows []Result) {
	sort.SliceStable(rows, func(a, b int) bool {
		pa, pb := rows[a].PValue, rows[b].PValue
		if math.IsNaN(pb) {
			return !math.IsNaN(pa)
		}
		if math.IsNaN(pa) {
			return false
		}
		return pa < pb
	})
}

type direction int

const (
	dirNS direction = iota
	dirUp
	dirDown
)

func (d direction) String() string {
	switch d {
	case dirUp:
		return "Up"
	case dirDown:
		return "Down"
	}
	return "NS"
}

// classify calls a gene up- or down-regulated when its fold change
// clears minLogFC and its p-value beats maxP, both strictly. NaNs
// are never significant.
func classify(logFC, p, minLogFC, maxP float64) direction {
	if math.IsNaN(logFC) || math.IsNaN(p) || p >= maxP {
		return dirNS
	}
	if logFC > minLogFC {
		return dirUp
	}
	if logFC < -minLogFC {
		return dirDown
	}
	return dirNS
}

func writeResults(fnm string, rows []Result) error {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
	if err != nil {
		return err
	}
	err = gocsv.MarshalFile(&rows, f)
	if err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", fnm, err)
	}
	return f.Close()
}

func readResults(fnm string) ([]Result, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rows []Result
	err = gocsv.UnmarshalFile(f, &rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return rows, nil
}

// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
	"golang.org/x/crypto/blake2b"
)

// DataSet is a gene-by-sample read count matrix plus everything the
// pipeline stages attach to it on the way through: treatment groups,
// library sizes, normalization factors, and dispersion estimates.
// Stages communicate by passing gob-encoded DataSets through files.
type DataSet struct {
	Genes   []string
	Samples []string
	Groups  []string // treatment label per sample, parallel to Samples

	// Counts is the raw read count matrix, len(Genes) rows by
	// len(Samples) columns, row-major.
	Counts []float64

	LibSize     []float64 // per-sample column sums
	NormFactors []float64 // nil until normalize has run

	CommonDisp  float64   // 0 until disp has run
	TrendedDisp []float64 // nil until disp has run
	TagwiseDisp []float64 // nil until disp has run
	AveLogCPM   []float64 // nil until disp has run

	// Source and Fingerprint identify the imported count matrix:
	// the original file name and the blake2b-256 digest of its raw
	// (possibly compressed) bytes.
	Source      string
	Fingerprint [blake2b.Size256]byte
}

func (ds *DataSet) NGenes() int   { return len(ds.Genes) }
func (ds *DataSet) NSamples() int { return len(ds.Samples) }

// Row returns the counts for gene g as a view into the matrix.
func (ds *DataSet) Row(g int) []float64 {
	n := len(ds.Samples)
	return ds.Counts[g*n : (g+1)*n]
}

// Col returns a copy of the counts for sample j.
func (ds *DataSet) Col(j int) []float64 {
	n := len(ds.Samples)
	col := make([]float64, len(ds.Genes))
	for g := range col {
		col[g] = ds.Counts[g*n+j]
	}
	return col
}

// colSums returns the per-sample totals of a row-major genes x
// samples matrix.
func colSums(counts []float64, nsamples int) []float64 {
	sums := make([]float64, nsamples)
	for i, y := range counts {
		sums[i%nsamples] += y
	}
	return sums
}

// EffectiveLibSize returns LibSize scaled by the normalization
// factors, or a copy of LibSize if normalize has not run yet.
func (ds *DataSet) EffectiveLibSize() []float64 {
	eff := make([]float64, len(ds.LibSize))
	copy(eff, ds.LibSize)
	if len(ds.NormFactors) == len(eff) {
		for i, f := range ds.NormFactors {
			eff[i] *= f
		}
	}
	return eff
}

// Dispersion returns the dispersion to use for gene g: tagwise if
// estimated, otherwise trended, otherwise common, otherwise fallback.
func (ds *DataSet) Dispersion(g int, fallback float64) float64 {
	if len(ds.TagwiseDisp) > g && ds.TagwiseDisp[g] > 0 {
		return ds.TagwiseDisp[g]
	}
	if len(ds.TrendedDisp) > g && ds.TrendedDisp[g] > 0 {
		return ds.TrendedDisp[g]
	}
	if ds.CommonDisp > 0 {
		return ds.CommonDisp
	}
	return fallback
}

// Validate checks the structural invariants that every stage relies
// on: parallel slice lengths, and per-gene annotations either absent
// or complete.
func (ds *DataSet) Validate() error {
	if len(ds.Samples) == 0 {
		return errors.New("dataset has no samples")
	}
	if len(ds.Genes) == 0 {
		return errors.New("dataset has no genes")
	}
	if len(ds.Groups) != len(ds.Samples) {
		return fmt.Errorf("dataset has %d group labels for %d samples", len(ds.Groups), len(ds.Samples))
	}
	if len(ds.Counts) != len(ds.Genes)*len(ds.Samples) {
		return fmt.Errorf("dataset count matrix has %d entries, expected %d genes x %d samples", len(ds.Counts), len(ds.Genes), len(ds.Samples))
	}
	if len(ds.LibSize) != len(ds.Samples) {
		return fmt.Errorf("dataset has %d library sizes for %d samples", len(ds.LibSize), len(ds.Samples))
	}
	if len(ds.NormFactors) != 0 && len(ds.NormFactors) != len(ds.Samples) {
		return fmt.Errorf("dataset has %d normalization factors for %d samples", len(ds.NormFactors), len(ds.Samples))
	}
	for _, ann := range [][]float64{ds.TrendedDisp, ds.TagwiseDisp, ds.AveLogCPM} {
		if len(ann) != 0 && len(ann) != len(ds.Genes) {
			return fmt.Errorf("dataset annotation covers %d of %d genes", len(ann), len(ds.Genes))
		}
	}
	return nil
}

// loadDataSet reads a gob-encoded DataSet from the named file, or
// from in when fnm is "-". Files ending in ".gz" are decompressed
// transparently.
func loadDataSet(fnm string, in io.Reader) (*DataSet, error) {
	rdr := in
	if fnm != "-" {
		f, err := zopen(fnm)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		rdr = f
	}
	var ds DataSet
	err := gob.NewDecoder(bufio.NewReaderSize(rdr, 1<<22)).Decode(&ds)
	if err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	err = ds.Validate()
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// saveDataSet writes ds to the named file (compressed if the name
// ends in ".gz"), or to out when fnm is "-".
func saveDataSet(ds *DataSet, fnm string, out io.Writer) error {
	if fnm == "-" {
		return writeDataSet(ds, out)
	}
	w, err := zcreate(fnm)
	if err != nil {
		return err
	}
	err = writeDataSet(ds, w)
	if err != nil {
		w.Close()
		return err
	}
	err = w.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}
	return nil
}

func writeDataSet(ds *DataSet, w io.Writer) error {
	bufw := bufio.NewWriter(w)
	err := gob.NewEncoder(bufw).Encode(ds)
	if err != nil {
		return err
	}
	return bufw.Flush()
}

// zopen returns a reader for the given file, transparently
// decompressing the input if fnm ends with ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

// zcreate creates the named file, compressing written data with
// pgzip if fnm ends with ".gz". Close flushes all the way down to
// the file.
func zcreate(fnm string) (io.WriteCloser, error) {
	f, err := os.OpenFile(fnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
	if err != nil {
		return nil, err
	}
	bufw := bufio.NewWriter(f)
	if !strings.HasSuffix(fnm, ".gz") {
		return &zwriter{bufw: bufw, f: f}, nil
	}
	return &zwriter{gzw: pgzip.NewWriter(bufw), bufw: bufw, f: f}, nil
}

type zwriter struct {
	gzw  *pgzip.Writer
	bufw *bufio.Writer
	f    *os.File
}

func (w *zwriter) Write(p []byte) (int, error) {
	if w.gzw != nil {
		return w.gzw.Write(p)
	}
	return w.bufw.Write(p)
}

func (w *zwriter) Close() error {
	var firstErr error
	if w.gzw != nil {
		firstErr = w.gzw.Close()
	}
	if err := w.bufw.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.f.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

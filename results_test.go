// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"io/ioutil"
	"math"
	"path/filepath"
	"strings"

	"gopkg.in/check.v1"
)

type resultsSuite struct{}

var _ = check.Suite(&resultsSuite{})

func (s *resultsSuite) TestClassify(c *check.C) {
	c.Check(classify(2, 1e-4, 1.5, 1e-3), check.Equals, dirUp)
	c.Check(classify(-2, 1e-4, 1.5, 1e-3), check.Equals, dirDown)
	c.Check(classify(0.2, 1e-4, 1.5, 1e-3), check.Equals, dirNS)

	// both cutoffs are strict
	c.Check(classify(1.5, 1e-4, 1.5, 1e-3), check.Equals, dirNS)
	c.Check(classify(-1.5, 1e-4, 1.5, 1e-3), check.Equals, dirNS)
	c.Check(classify(2, 1e-3, 1.5, 1e-3), check.Equals, dirNS)

	nan := math.NaN()
	c.Check(classify(nan, 1e-4, 1.5, 1e-3), check.Equals, dirNS)
	c.Check(classify(2, nan, 1.5, 1e-3), check.Equals, dirNS)

	c.Check(dirUp.String(), check.Equals, "Up")
	c.Check(dirDown.String(), check.Equals, "Down")
	c.Check(dirNS.String(), check.Equals, "NS")
}

func (s *resultsSuite) TestBHAdjust(c *check.C) {
	adj := bhAdjust([]float64{0.005, 0.1, 0.9})
	for i, want := range []float64{0.015, 0.15, 0.9} {
		c.Check(math.Abs(adj[i]-want) < 1e-12, check.Equals, true, check.Commentf("adj[%d] = %v", i, adj[i]))
	}

	// ties through the cumulative minimum
	adj = bhAdjust([]float64{0.01, 0.02, 0.03, 0.04})
	for i := range adj {
		c.Check(math.Abs(adj[i]-0.04) < 1e-12, check.Equals, true, check.Commentf("adj[%d] = %v", i, adj[i]))
	}

	// NaN rows do not count as tests
	adj = bhAdjust([]float64{0.01, math.NaN(), 0.02})
	c.Check(math.Abs(adj[0]-0.02) < 1e-12, check.Equals, true)
	c.Check(math.IsNaN(adj[1]), check.Equals, true)
	c.Check(math.Abs(adj[2]-0.02) < 1e-12, check.Equals, true)

	c.Check(bhAdjust(nil), check.HasLen, 0)
}

func (s *resultsSuite) TestSortByPValue(c *check.C) {
	nan := math.NaN()
	rows := []Result{
		{Gene: "d", PValue: nan},
		{Gene: "b", PValue: 0.5},
		{Gene: "a", PValue: 0.001},
		{Gene: "e", PValue: nan},
		{Gene: "c", PValue: 0.5},
	}
	sortByPValue(rows)
	var order []string
	for _, r := range rows {
		order = append(order, r.Gene)
	}
	c.Check(order, check.DeepEquals, []string{"a", "b", "c", "d", "e"})
}

func (s *resultsSuite) TestReadWriteResults(c *check.C) {
	fnm := filepath.Join(c.MkDir(), "out.csv")
	rows := []Result{
		{Gene: "gA", LogFC: 1.5, LogCPM: 7.25, LR: 10.5, PValue: 0.001, FDR: 0.005},
		{Gene: "gB", LogFC: math.NaN(), LogCPM: 6, LR: math.NaN(), PValue: math.NaN(), FDR: math.NaN()},
	}
	c.Assert(writeResults(fnm, rows), check.IsNil)

	body, err := ioutil.ReadFile(fnm)
	c.Assert(err, check.IsNil)
	c.Check(strings.HasPrefix(string(body), "Gene,LogFC,LogCPM,LR,PValue,FDR\n"), check.Equals, true, check.Commentf("%q", string(body)))

	got, err := readResults(fnm)
	c.Assert(err, check.IsNil)
	c.Assert(got, check.HasLen, 2)
	c.Check(got[0], check.DeepEquals, rows[0])
	c.Check(got[1].Gene, check.Equals, "gB")
	c.Check(got[1].LogCPM, check.Equals, 6.0)
	c.Check(math.IsNaN(got[1].LogFC), check.Equals, true)
	c.Check(math.IsNaN(got[1].PValue), check.Equals, true)
	c.Check(math.IsNaN(got[1].FDR), check.Equals, true)
}
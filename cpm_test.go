// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"bytes"
	"io/ioutil"
	"math"
	"os"
	"strings"

	"gopkg.in/check.v1"
)

type cpmSuite struct{}

var _ = check.Suite(&cpmSuite{})

func (s *cpmSuite) TestCPMValues(c *check.C) {
	ds := testDataSet(c, [][]float64{
		{100, 200},
		{900, 1800},
	})
	c.Assert(ds.LibSize, check.DeepEquals, []float64{1000, 2000})

	plain := cpmValues(ds, 0, false)
	for i, want := range []float64{1e5, 1e5, 9e5, 9e5} {
		c.Check(math.Abs(plain[i]-want) < 1e-6, check.Equals, true, check.Commentf("entry %d: %v", i, plain[i]))
	}

	logged := cpmValues(ds, 2, true)
	meanLib := 1500.0
	for i, y := range ds.Counts {
		lib := ds.LibSize[i%2]
		ps := 2 * lib / meanLib
		want := math.Log2((y + ps) / (lib + 2*ps) * 1e6)
		c.Check(math.Abs(logged[i]-want) < 1e-12, check.Equals, true, check.Commentf("entry %d: %v vs %v", i, logged[i], want))
	}
}

func (s *cpmSuite) TestAveLogCPM(c *check.C) {
	ds := testDataSet(c, [][]float64{
		{100, 200},
		{900, 1800},
	})
	ave := aveLogCPM(ds, 2)
	c.Assert(ave, check.HasLen, 2)
	want0 := math.Log2((300 + 4) / (3000 + 8.0) * 1e6)
	c.Check(math.Abs(ave[0]-want0) < 1e-12, check.Equals, true, check.Commentf("%v vs %v", ave[0], want0))
	c.Check(ave[1] > ave[0], check.Equals, true)
}

func (s *cpmSuite) TestWriteTable(c *check.C) {
	ds := testDataSet(c, [][]float64{
		{1, 2},
		{3, 4},
	})
	values := []float64{1, 2, 3, 4}

	var buf bytes.Buffer
	err := writeTable("-", &buf, ds, values)
	c.Assert(err, check.IsNil)
	c.Check(buf.String(), check.Equals, "Gene\tsample0\tsample1\ngene0\t1\t2\ngene1\t3\t4\n")

	fnm := c.MkDir() + "/out.csv.gz"
	err = writeTable(fnm, nil, ds, values)
	c.Assert(err, check.IsNil)
	rdr, err := zopen(fnm)
	c.Assert(err, check.IsNil)
	defer rdr.Close()
	body, err := ioutil.ReadAll(rdr)
	c.Assert(err, check.IsNil)
	c.Check(string(body), check.Equals, "Gene,sample0,sample1\ngene0,1,2\ngene1,3,4\n")
}

func (s *cpmSuite) TestCommand(c *check.C) {
	ds := testDataSet(c, [][]float64{
		{100, 200},
		{900, 1800},
	})
	input := c.MkDir() + "/in.gob"
	c.Assert(saveDataSet(ds, input, nil), check.IsNil)

	var buf bytes.Buffer
	code := (&cpmcmd{}).RunCommand("degas cpm", []string{"-i", input, "-log=false"}, bytes.NewReader(nil), &buf, os.Stderr)
	c.Check(code, check.Equals, 0)
	lines := strings.Split(buf.String(), "\n")
	c.Assert(len(lines) > 2, check.Equals, true)
	c.Check(lines[0], check.Equals, "Gene\tsample0\tsample1")
	c.Check(strings.HasPrefix(lines[1], "gene0\t"), check.Equals, true)
	c.Check(lines, check.HasLen, 4)
}

// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/check.v1"
)

type dumpSuite struct{}

var _ = check.Suite(&dumpSuite{})

func (s *dumpSuite) TestDump(c *check.C) {
	ds := testDataSet(c, [][]float64{
		{1, 2},
		{3, 4},
	})
	ds.Groups = []string{"Ctrl", "Trt"}
	input := filepath.Join(c.MkDir(), "in.gob")
	c.Assert(saveDataSet(ds, input, nil), check.IsNil)

	var buf bytes.Buffer
	code := (&dumpcmd{}).RunCommand("degas dump", []string{"-i", input}, bytes.NewReader(nil), &buf, os.Stderr)
	c.Assert(code, check.Equals, 0)
	c.Check(buf.String(), check.Equals, "Gene\tsample0\tsample1\ngene0\t1\t2\ngene1\t3\t4\n")

	buf.Reset()
	code = (&dumpcmd{}).RunCommand("degas dump", []string{"-i", input, "-groups"}, bytes.NewReader(nil), &buf, os.Stderr)
	c.Assert(code, check.Equals, 0)
	c.Check(buf.String(), check.Equals, "sample0,Ctrl\nsample1,Trt\n")
}
package degas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kshedden/gonpy"
	"gopkg.in/check.v1"
)

type pipelineSuite struct{}

var _ = check.Suite(&pipelineSuite{})

var pipelineTreatments = []string{"OMKO1", "LPS5", "PSA34", "PSA04"}

// writePipelineInput generates a 25-gene x 12-sample experiment: 22
// well-expressed noise genes, one gene spiked 8-fold in the OMKO1
// samples, and two nearly-empty genes the expression filter should
// drop.
func writePipelineInput(c *check.C, dir string) (countsFile, samplesFile string) {
	samplesFile = filepath.Join(dir, "samples.csv")
	sheet := "SampleID,Group\n" +
		"U1,Untreated\nU2,Untreated\nU3,Untreated\nU4,Untreated\n" +
		"O1,OMKO1\nO2,OMKO1\n" +
		"L1,LPS5\nL2,LPS5\n" +
		"P1,PSA34\nP2,PSA34\n" +
		"Q1,PSA04\nQ2,PSA04\n"
	c.Assert(ioutil.WriteFile(samplesFile, []byte(sheet), 0666), check.IsNil)

	rng := rand.New(rand.NewSource(7))
	var buf bytes.Buffer
	buf.WriteString("Gene\tU1\tU2\tU3\tU4\tO1\tO2\tL1\tL2\tP1\tP2\tQ1\tQ2\n")
	for g := 0; g < 22; g++ {
		mean := 50 + 400*rng.Float64()
		fmt.Fprintf(&buf, "noise%02d", g)
		for j := 0; j < 12; j++ {
			fmt.Fprintf(&buf, "\t%d", int(math.Round(mean*(0.85+0.3*rng.Float64()))))
		}
		buf.WriteString("\n")
	}
	buf.WriteString("spiked")
	for j := 0; j < 12; j++ {
		mean := 60.0
		if j == 4 || j == 5 {
			mean = 480
		}
		fmt.Fprintf(&buf, "\t%d", int(math.Round(mean*(0.85+0.3*rng.Float64()))))
	}
	buf.WriteString("\n")
	buf.WriteString("dim1\t1\t0\t2\t0\t1\t0\t0\t1\t0\t2\t0\t1\n")
	buf.WriteString("dim2\t0\t0\t1\t0\t0\t1\t0\t0\t0\t0\t1\t0\n")
	countsFile = filepath.Join(dir, "counts.tsv")
	c.Assert(ioutil.WriteFile(countsFile, buf.Bytes(), 0666), check.IsNil)
	return countsFile, samplesFile
}

func (s *pipelineSuite) TestCountsToResults(c *check.C) {
	dir := c.MkDir()
	countsFile, samplesFile := writePipelineInput(c, dir)

	raw := filepath.Join(dir, "raw.gob")
	code := (&importer{}).RunCommand("degas import", []string{"-samples", samplesFile, "-o", raw, countsFile}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)

	filtered := filepath.Join(dir, "filtered.gob")
	code = (&filtercmd{}).RunCommand("degas filter", []string{"-i", raw, "-o", filtered}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	ds, err := loadDataSet(filtered, nil)
	c.Assert(err, check.IsNil)
	c.Check(ds.NGenes(), check.Equals, 23)
	c.Check(ds.NSamples(), check.Equals, 12)

	normalized := filepath.Join(dir, "normalized.gob")
	code = (&normalizecmd{}).RunCommand("degas normalize", []string{"-i", filtered, "-o", normalized}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)

	disped := filepath.Join(dir, "disp.gob")
	code = (&dispcmd{}).RunCommand("degas disp", []string{"-i", normalized, "-o", disped, "-grid-points", "8"}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)

	code = (&testcmd{}).RunCommand("degas test", []string{"-i", disped, "-output-dir", dir}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)

	wantGenes := map[string]bool{}
	for _, g := range ds.Genes {
		wantGenes[g] = true
	}
	var resultFiles []string
	for _, treatment := range pipelineTreatments {
		fnm := filepath.Join(dir, "dge_"+treatment+"_vs_Untreated.csv")
		resultFiles = append(resultFiles, fnm)
		rows, err := readResults(fnm)
		c.Assert(err, check.IsNil, check.Commentf("%s", fnm))
		c.Assert(rows, check.HasLen, 23)
		seen := map[string]bool{}
		prev := math.Inf(-1)
		for _, r := range rows {
			c.Check(seen[r.Gene], check.Equals, false, check.Commentf("%s listed twice in %s", r.Gene, fnm))
			seen[r.Gene] = true
			c.Check(wantGenes[r.Gene], check.Equals, true, check.Commentf("%s not in filtered dataset", r.Gene))
			if math.IsNaN(r.PValue) {
				continue
			}
			c.Check(r.PValue >= prev, check.Equals, true, check.Commentf("%s not sorted at %s", fnm, r.Gene))
			prev = r.PValue
			c.Check(r.FDR+1e-12 >= r.PValue, check.Equals, true, check.Commentf("%s: FDR %g < p %g", r.Gene, r.FDR, r.PValue))
		}
		if treatment == "OMKO1" {
			c.Check(rows[0].Gene, check.Equals, "spiked")
			c.Check(rows[0].LogFC > 1.5, check.Equals, true, check.Commentf("LogFC %g", rows[0].LogFC))
			c.Check(rows[0].PValue < 1e-3, check.Equals, true, check.Commentf("p %g", rows[0].PValue))
		}
	}

	code = (&volcanocmd{}).RunCommand("degas volcano", append([]string{"-output-dir", dir}, resultFiles...), bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	for _, treatment := range pipelineTreatments {
		png, err := ioutil.ReadFile(filepath.Join(dir, "dge_"+treatment+"_vs_Untreated.png"))
		c.Assert(err, check.IsNil)
		c.Check(strings.HasPrefix(string(png), "\x89PNG\r\n"), check.Equals, true)
	}

	html := filepath.Join(dir, "report.html")
	code = (&reportcmd{}).RunCommand("degas report", append([]string{"-o", html}, resultFiles...), bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	body, err := ioutil.ReadFile(html)
	c.Assert(err, check.IsNil)
	c.Check(strings.Contains(string(body), "echarts"), check.Equals, true)

	mdsCSV := filepath.Join(dir, "mds.csv")
	mdsPNG := filepath.Join(dir, "mds.png")
	code = (&mdscmd{}).RunCommand("degas mds", []string{"-i", normalized, "-o", mdsCSV, "-plot", mdsPNG}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	coords, err := ioutil.ReadFile(mdsCSV)
	c.Assert(err, check.IsNil)
	lines := strings.Split(strings.TrimSuffix(string(coords), "\n"), "\n")
	c.Assert(lines, check.HasLen, 13)
	c.Check(lines[0], check.Equals, "SampleID,Group,Dim1,Dim2")
	png, err := ioutil.ReadFile(mdsPNG)
	c.Assert(err, check.IsNil)
	c.Check(strings.HasPrefix(string(png), "\x89PNG\r\n"), check.Equals, true)

	npyFile := filepath.Join(dir, "counts.npy")
	code = (&exportNumpy{}).RunCommand("degas export-numpy", []string{"-i", filtered, "-o", npyFile}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	f, err := os.Open(npyFile)
	c.Assert(err, check.IsNil)
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	c.Assert(err, check.IsNil)
	c.Check(npy.Shape, check.DeepEquals, []int{23, 12})
	data, err := npy.GetFloat64()
	c.Assert(err, check.IsNil)
	c.Check(data, check.DeepEquals, ds.Counts)
	genes, err := ioutil.ReadFile(filepath.Join(dir, "counts.genes.txt"))
	c.Assert(err, check.IsNil)
	c.Check(strings.Split(strings.TrimSuffix(string(genes), "\n"), "\n"), check.HasLen, 23)

	statsout := &bytes.Buffer{}
	code = (&statscmd{}).RunCommand("degas stats", []string{"-i", disped}, bytes.NewReader(nil), statsout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	var summary struct {
		Genes      int
		Samples    int
		GroupSizes map[string]int
		CommonDisp float64
	}
	c.Assert(json.Unmarshal(statsout.Bytes(), &summary), check.IsNil)
	c.Check(summary.Genes, check.Equals, 23)
	c.Check(summary.Samples, check.Equals, 12)
	c.Check(summary.GroupSizes["Untreated"], check.Equals, 4)
	c.Check(summary.CommonDisp > 0, check.Equals, true)

	dumpout := &bytes.Buffer{}
	code = (&dumpcmd{}).RunCommand("degas dump", []string{"-i", raw, "-groups"}, bytes.NewReader(nil), dumpout, os.Stderr)
	c.Assert(code, check.Equals, 0)
	c.Check(strings.Contains(dumpout.String(), "U1,Untreated\n"), check.Equals, true)

	setsFile := filepath.Join(dir, "sets.tsv")
	var sets bytes.Buffer
	for g := 0; g < 6; g++ {
		fmt.Fprintf(&sets, "noisy\tnoise%02d\n", g)
	}
	sets.WriteString("tiny\tnoise00\ntiny\tspiked\n")
	c.Assert(ioutil.WriteFile(setsFile, sets.Bytes(), 0666), check.IsNil)
	enrichOut := filepath.Join(dir, "enrichment.csv")
	code = (&enrichcmd{}).RunCommand("degas enrich", []string{"-sets", setsFile, "-o", enrichOut, resultFiles[0]}, bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)
	enr, err := ioutil.ReadFile(enrichOut)
	c.Assert(err, check.IsNil)
	c.Check(strings.HasPrefix(string(enr), "Term,Size,DE,PValue,ChiSqP,FDR\n"), check.Equals, true, check.Commentf("%s", enr))
	c.Check(strings.Contains(string(enr), "noisy,6,0,"), check.Equals, true, check.Commentf("%s", enr))
}

func (s *pipelineSuite) TestStdinStdout(c *check.C) {
	dir := c.MkDir()
	countsFile, samplesFile := writePipelineInput(c, dir)

	var wg sync.WaitGroup
	statsin, importout := io.Pipe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		code := (&importer{}).RunCommand("degas import", []string{"-samples", samplesFile, countsFile}, bytes.NewReader(nil), importout, os.Stderr)
		c.Check(code, check.Equals, 0)
		importout.Close()
	}()
	statsout := &bytes.Buffer{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		code := (&statscmd{}).RunCommand("degas stats", nil, statsin, statsout, os.Stderr)
		c.Check(code, check.Equals, 0)
	}()
	wg.Wait()
	c.Logf("%s", statsout.String())
	c.Check(strings.Contains(statsout.String(), `"Genes":25`), check.Equals, true)
}
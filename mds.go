// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"github.com/wcharczuk/go-chart/v2"
	"gonum.org/v1/gonum/mat"
)

// mdscmd projects samples onto their leading principal components
// in log2 CPM space. Replicates of the same treatment should
// cluster; a sample far from its group is worth a second look
// before testing.
type mdscmd struct {
	Components int
	PriorCount float64
	Output     string
	Plot       string
	Width      int
	Height     int
}

func (cmd *mdscmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "-", "input dataset `file`")
	flags.StringVar(&cmd.Output, "o", "mds.csv", "output coordinate CSV `file`")
	flags.StringVar(&cmd.Plot, "plot", "mds.png", "output scatter PNG `file` (\"\" to skip)")
	flags.IntVar(&cmd.Components, "components", 2, "number of `components`")
	flags.Float64Var(&cmd.PriorCount, "prior-count", 2, "`prior` count for the log2 CPM transform")
	flags.IntVar(&cmd.Width, "width", 800, "plot width in `pixels`")
	flags.IntVar(&cmd.Height, "height", 600, "plot height in `pixels`")
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
	if cmd.Components > ds.NSamples() {
		cmd.Components = ds.NSamples()
	}
	log.Print("fitting")
	mtx := mat.NewDense(ds.NGenes(), ds.NSamples(), cpmValues(ds, cmd.PriorCount, true))
	transformer := nlp.NewPCA(cmd.Components)
	transformer.Fit(mtx)
	var pcs mat.Matrix
	pcs, err = transformer.Transform(mtx)
	if err != nil {
		return 1
	}
	coords := pcs.T()
	_, ncomp := coords.Dims()

	var out io.WriteCloser
	if cmd.Output == "-" {
		out = nopCloser{stdout}
	} else {
		out, err = os.OpenFile(cmd.Output, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
	}
	bufw := bufio.NewWriter(out)
	fmt.Fprint(bufw, "SampleID,Group")
	for c := 0; c < ncomp; c++ {
		fmt.Fprintf(bufw, ",Dim%d", c+1)
	}
	fmt.Fprint(bufw, "\n")
	for j, name := range ds.Samples {
		fmt.Fprintf(bufw, "%s,%s", name, ds.Groups[j])
		for c := 0; c < ncomp; c++ {
			fmt.Fprintf(bufw, ",%v", coords.At(j, c))
		}
		fmt.Fprint(bufw, "\n")
	}
	err = bufw.Flush()
	if err != nil {
		out.Close()
		return 1
	}
	err = out.Close()
	if err != nil {
		return 1
	}

	if cmd.Plot == "" {
		return 0
	}
	if ncomp < 2 {
		log.Warn("fewer than 2 components; skipping plot")
		return 0
	}
	var f *os.File
	f, err = os.OpenFile(cmd.Plot, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
	if err != nil {
		return 1
	}
	err = renderMDSPlot(ds, coords, cmd.Width, cmd.Height, f)
	if err != nil {
		f.Close()
		return 1
	}
	err = f.Close()
	if err != nil {
		return 1
	}
	log.Printf("wrote %s and %s", cmd.Output, cmd.Plot)
	return 0
}

// renderMDSPlot draws the first two components, one colored series
// per treatment group, each point labeled with its sample ID.
func renderMDSPlot(ds *DataSet, coords mat.Matrix, width, height int, out io.Writer) error {
	dsn, err := newDesign(ds.Groups)
	if err != nil {
		return err
	}
	var series []chart.Series
	for li, level := range dsn.levels {
		var xs, ys []float64
		for j, g := range dsn.groups {
			if g == li {
				xs = append(xs, coords.At(j, 0))
				ys = append(ys, coords.At(j, 1))
			}
		}
		series = append(series, chart.ContinuousSeries{
			Name:    level,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    5,
				DotColor:    chart.GetDefaultColor(li),
			},
		})
	}
	var ann []chart.Value2
	for j, name := range ds.Samples {
		ann = append(ann, chart.Value2{XValue: coords.At(j, 0), YValue: coords.At(j, 1), Label: name})
	}
	series = append(series, chart.AnnotationSeries{Annotations: ann})
	graph := chart.Chart{
		Title:  "log2 CPM principal components",
		Width:  width,
		Height: height,
		XAxis:  chart.XAxis{Name: "Dim1"},
		YAxis:  chart.YAxis{Name: "Dim2"},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	buffer := bytes.NewBuffer([]byte{})
	if err := graph.Render(chart.PNG, buffer); err != nil {
		return err
	}
	_, err = buffer.WriteTo(out)
	return err
}

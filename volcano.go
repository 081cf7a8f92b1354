// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var (
	volcanoUpColor   = drawing.Color{R: 204, G: 0, B: 0, A: 255}
	volcanoDownColor = drawing.Color{R: 0, G: 0, B: 204, A: 255}
	volcanoNSColor   = drawing.Color{R: 160, G: 160, B: 160, A: 200}
	volcanoLineColor = drawing.Color{R: 80, G: 80, B: 80, A: 255}
)

// contrastTitle turns a result file name like dge_A_vs_B.csv back
// into a readable "A vs B".
func contrastTitle(fnm string) string {
	s := strings.TrimSuffix(filepath.Base(fnm), ".csv")
	s = strings.TrimPrefix(s, "dge_")
	return strings.ReplaceAll(s, "_vs_", " vs ")
}

// renderVolcano draws one contrast's results: fold change against
// -log10 p-value, significant genes colored by direction, dashed
// threshold lines, and the most significant genes labeled.
func renderVolcano(rows []Result, title string, lfc, maxP float64, nlabel, width, height int, out io.Writer) error {
	type pt struct {
		x, y float64
		gene string
	}
	var upX, upY, downX, downY, nsX, nsY []float64
	var sig []pt
	ymax := -math.Log10(maxP)
	xmin, xmax := -lfc, lfc
	for _, r := range rows {
		if math.IsNaN(r.LogFC) || math.IsNaN(r.PValue) {
			continue
		}
		p := r.PValue
		if p < 1e-300 {
			p = 1e-300
		}
		y := -math.Log10(p)
		if y > ymax {
			ymax = y
		}
		if r.LogFC < xmin {
			xmin = r.LogFC
		}
		if r.LogFC > xmax {
			xmax = r.LogFC
		}
		switch classify(r.LogFC, r.PValue, lfc, maxP) {
		case dirUp:
			upX, upY = append(upX, r.LogFC), append(upY, y)
			sig = append(sig, pt{r.LogFC, y, r.Gene})
		case dirDown:
			downX, downY = append(downX, r.LogFC), append(downY, y)
			sig = append(sig, pt{r.LogFC, y, r.Gene})
		default:
			nsX, nsY = append(nsX, r.LogFC), append(nsY, y)
		}
	}
	if len(upX)+len(downX)+len(nsX) == 0 {
		return errors.New("no plottable rows")
	}
	ymax *= 1.05

	dotStyle := func(c drawing.Color) chart.Style {
		return chart.Style{
			StrokeWidth: chart.Disabled,
			DotWidth:    3,
			DotColor:    c,
		}
	}
	lineStyle := chart.Style{
		StrokeWidth:     1,
		StrokeColor:     volcanoLineColor,
		StrokeDashArray: []float64{5, 5},
	}
	var series []chart.Series
	if len(nsX) > 0 {
		series = append(series, chart.ContinuousSeries{
			Name: fmt.Sprintf("NS (%d)", len(nsX)), XValues: nsX, YValues: nsY, Style: dotStyle(volcanoNSColor),
		})
	}
	if len(upX) > 0 {
		series = append(series, chart.ContinuousSeries{
			Name: fmt.Sprintf("Up (%d)", len(upX)), XValues: upX, YValues: upY, Style: dotStyle(volcanoUpColor),
		})
	}
	if len(downX) > 0 {
		series = append(series, chart.ContinuousSeries{
			Name: fmt.Sprintf("Down (%d)", len(downX)), XValues: downX, YValues: downY, Style: dotStyle(volcanoDownColor),
		})
	}
	for _, x := range []float64{-lfc, lfc} {
		series = append(series, chart.ContinuousSeries{
			XValues: []float64{x, x}, YValues: []float64{0, ymax}, Style: lineStyle,
		})
	}
	series = append(series, chart.ContinuousSeries{
		XValues: []float64{xmin, xmax}, YValues: []float64{-math.Log10(maxP), -math.Log10(maxP)}, Style: lineStyle,
	})
	if nlabel > 0 && len(sig) > 0 {
		sort.Slice(sig, func(a, b int) bool { return sig[a].y > sig[b].y })
		if len(sig) > nlabel {
			sig = sig[:nlabel]
		}
		var ann []chart.Value2
		for _, p := range sig {
			ann = append(ann, chart.Value2{XValue: p.x, YValue: p.y, Label: p.gene})
		}
		series = append(series, chart.AnnotationSeries{Annotations: ann})
	}

	graph := chart.Chart{
		Title:  title,
		Width:  width,
		Height: height,
		XAxis:  chart.XAxis{Name: "log2 fold change"},
		YAxis:  chart.YAxis{Name: "-log10 p-value"},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	buffer := bytes.NewBuffer([]byte{})
	if err := graph.Render(chart.PNG, buffer); err != nil {
		return err
	}
	_, err := buffer.WriteTo(out)
	return err
}

type volcanocmd struct {
	MinLogFC  float64
	MaxP      float64
	Labels    int
	Width     int
	Height    int
	OutputDir string
}

func (cmd *volcanocmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Float64Var(&cmd.MinLogFC, "lfc", 1.5, "log2 fold change `threshold`")
	flags.Float64Var(&cmd.MaxP, "p", 1e-3, "p-value `threshold`")
	flags.IntVar(&cmd.Labels, "label", 10, "label the `N` most significant genes")
	flags.IntVar(&cmd.Width, "width", 1000, "plot width in `pixels`")
	flags.IntVar(&cmd.Height, "height", 800, "plot height in `pixels`")
	flags.StringVar(&cmd.OutputDir, "output-dir", "", "write PNGs to `directory` instead of next to the inputs")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: volcano [options] dge_*.csv")
		flags.Usage()
		return 2
	}

	for _, fnm := range flags.Args() {
		var rows []Result
		rows, err = readResults(fnm)
		if err != nil {
			return 1
		}
		outfnm := strings.TrimSuffix(fnm, ".csv") + ".png"
		if cmd.OutputDir != "" {
			outfnm = filepath.Join(cmd.OutputDir, filepath.Base(outfnm))
		}
		var f *os.File
		f, err = os.OpenFile(outfnm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
		if err != nil {
			return 1
		}
		err = renderVolcano(rows, contrastTitle(fnm), cmd.MinLogFC, cmd.MaxP, cmd.Labels, cmd.Width, cmd.Height, f)
		if err != nil {
			f.Close()
			return 1
		}
		err = f.Close()
		if err != nil {
			return 1
		}
		log.Printf("wrote %s", outfnm)
	}
	return 0
}

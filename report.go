// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package degas

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	log "github.com/sirupsen/logrus"
)

// volcanoScatter builds the interactive counterpart of a volcano
// PNG: every point carries its gene name, shown in the tooltip.
func volcanoScatter(rows []Result, title string, lfc, maxP float64) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithXAxisOpts(opts.XAxis{Name: "log2 fold change", Type: "value", Scale: true}),
		charts.WithYAxisOpts(opts.YAxis{Name: "-log10 p-value", Type: "value", Scale: true}),
		charts.WithTooltipOpts(opts.Tooltip{Show: true, Formatter: "{b}: {c}"}),
	)
	series := map[direction][]opts.ScatterData{}
	for _, r := range rows {
		if math.IsNaN(r.LogFC) || math.IsNaN(r.PValue) {
			continue
		}
		p := r.PValue
		if p < 1e-300 {
			p = 1e-300
		}
		d := classify(r.LogFC, r.PValue, lfc, maxP)
		series[d] = append(series[d], opts.ScatterData{
			Name:       r.Gene,
			Value:      []interface{}{r.LogFC, -math.Log10(p)},
			SymbolSize: 5,
		})
	}
	scatter.AddSeries("NS", series[dirNS],
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#a0a0a0"}),
		charts.WithMarkLineNameXAxisItemOpts(
			opts.MarkLineNameXAxisItem{Name: "-lfc", XAxis: -lfc},
			opts.MarkLineNameXAxisItem{Name: "+lfc", XAxis: lfc},
		),
		charts.WithMarkLineNameYAxisItemOpts(
			opts.MarkLineNameYAxisItem{Name: "p", YAxis: -math.Log10(maxP)},
		),
	)
	scatter.AddSeries("Up", series[dirUp], charts.WithItemStyleOpts(opts.ItemStyle{Color: "#cc0000"}))
	scatter.AddSeries("Down", series[dirDown], charts.WithItemStyleOpts(opts.ItemStyle{Color: "#0000cc"}))
	return scatter
}

type reportcmd struct {
	MinLogFC float64
	MaxP     float64
	Output   string
}

func (cmd *reportcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
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
	flags.StringVar(&cmd.Output, "o", "report.html", "output HTML `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: report [options] dge_*.csv")
		flags.Usage()
		return 2
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	for _, fnm := range flags.Args() {
		var rows []Result
		rows, err = readResults(fnm)
		if err != nil {
			return 1
		}
		page.AddCharts(volcanoScatter(rows, contrastTitle(fnm), cmd.MinLogFC, cmd.MaxP))
	}
	f, err := os.OpenFile(cmd.Output, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0777)
	if err != nil {
		return 1
	}
	err = page.Render(f)
	if err != nil {
		f.Close()
		return 1
	}
	err = f.Close()
	if err != nil {
		return 1
	}
	log.Printf("wrote %s", cmd.Output)
	return 0
}

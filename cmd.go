package degas

import (
	"os"

	"git.arvados.org/arvados.git/lib/cmd"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	handler = cmd.Multi(map[string]cmd.Handler{
		"version":   cmd.Version,
		"-version":  cmd.Version,
		"--version": cmd.Version,

		"import":       &importer{},
		"stats":        &statscmd{},
		"dump":         &dumpcmd{},
		"filter":       &filtercmd{},
		"normalize":    &normalizecmd{},
		"cpm":          &cpmcmd{},
		"disp":         &dispcmd{},
		"test":         &testcmd{},
		"volcano":      &volcanocmd{},
		"report":       &reportcmd{},
		"mds":          &mdscmd{},
		"enrich":       &enrichcmd{},
		"export-numpy": &exportNumpy{},
	})
)

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

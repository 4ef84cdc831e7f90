package cmd

import (
	"repomind/internal/tui"
)

func runTUI() error {
	return tui.Run(tui.Config{Cfg: cfg})
}

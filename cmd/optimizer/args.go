package main

import (
	"fmt"
	"strconv"

	"github.com/ajitpratap0/stratalloc/internal/config"
	"github.com/ajitpratap0/stratalloc/pkg/allocerr"
)

const usage = `Usage: optimizer [flags] [daily_file [in_sample_days [out_sample_days [min [max [algorithm [metric]]]]]]]

Positional arguments override the configuration file. Passing any of them
selects a simulation run over daily_file; with none, the configured mode
is used.

  algorithm  T (evolutionary), G (gradient), D (dynamic), O (per strategy), R (random)
  metric     SH, SO, LI, RS, SE, MP, PD, CS
`

// applyArgs overrides cfg with the positional arguments, in order.
func applyArgs(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) > 7 {
		return fmt.Errorf("%w: too many arguments (%d)", allocerr.ErrConfiguration, len(args))
	}

	cfg.Run.Realtime = false
	cfg.Files.DailyPnL = args[0]

	ints := []struct {
		name string
		dst  *int
	}{
		{"in_sample_days", &cfg.Run.InSampleDays},
		{"out_sample_days", &cfg.Run.OutSampleDays},
		{"min", &cfg.Run.ContractsMin},
		{"max", &cfg.Run.ContractsMax},
	}
	for i, arg := range args[1:] {
		if i >= len(ints) {
			break
		}
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer, got %q", allocerr.ErrConfiguration, ints[i].name, arg)
		}
		*ints[i].dst = v
	}

	if len(args) > 5 {
		cfg.Run.Algorithm = args[5]
	}
	if len(args) > 6 {
		cfg.Run.Fitness = args[6]
	}
	return nil
}

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/alunegov/hmi-emu/internal/domain"
	"github.com/spf13/cobra"
)

func printRanges(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	params, ranges, err := loadParameters(cfg)
	if err != nil {
		return err
	}
	return writeRanges(cmd.OutOrStdout(), params, ranges)
}

// writeRanges prints one line per read request issued every poll cycle.
func writeRanges(out io.Writer, params *domain.ParameterSet, ranges []domain.RegisterRange) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tADDRESS\tREGISTERS\tPARAMS")
	for _, r := range ranges {
		members := 0
		for id := r.StartID; id <= r.EndID; id++ {
			if _, _, ok := params.Lookup(id); ok {
				members++
			}
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", r.StartID, r.EndID, r.Address(), r.Quantity(), members)
	}
	fmt.Fprintf(tw, "\n%d parameters in %d reads\n", params.Len(), len(ranges))
	return tw.Flush()
}

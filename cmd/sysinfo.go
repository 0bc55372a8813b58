package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/geon0078/VLM-Ovis/internal/device"
)

func newSysinfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sysinfo",
		Short: "Show accelerators and the precision a model would load with",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := a.prober.Probe(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !info.Available() {
				fmt.Fprintln(out, "no CUDA accelerator found")
			} else {
				table := tablewriter.NewWriter(out)
				table.SetHeader([]string{"GPU", "Name", "Memory", "Used", "Compute"})
				for _, acc := range info.Accelerators {
					table.Append([]string{
						strconv.Itoa(acc.Index),
						acc.Name,
						humanize.IBytes(acc.TotalMemory),
						humanize.IBytes(acc.UsedMemory),
						strconv.FormatFloat(acc.Compute, 'f', 1, 64),
					})
				}
				table.Render()
			}

			fmt.Fprintf(out, "model: %s (%s backend)\n", a.cfg.Model.ID, a.cfg.Model.Backend)
			fmt.Fprintf(out, "precision: %s\n", device.Precision(info))
			return nil
		},
	}
}

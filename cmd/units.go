package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/geodbscan/internal/units"
)

var unitsCmd = &cobra.Command{
	Use:   "units",
	Short: "List supported distance units and their Earth radius",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "UNIT\tEARTH RADIUS")
		for _, name := range units.Names() {
			r, err := units.EarthRadius(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%v\n", name, r)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(unitsCmd)
}

package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaes/internal/fitfunc"
)

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "List the available objective functions",
	Run: func(cmd *cobra.Command, args []string) {
		printFunctions(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(functionsCmd)
}

func printFunctions(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tBOX\tGRADIENT\tDESCRIPTION")
	for _, name := range fitfunc.Names() {
		fn, _ := fitfunc.Lookup(name)
		grad := "finite-difference"
		if fn.Grad != nil {
			grad = "analytic"
		}
		fmt.Fprintf(tw, "%s\t[%g, %g]\t%s\t%s\n", fn.Name, fn.Lower, fn.Upper, grad, fn.Description)
	}
	tw.Flush()
}

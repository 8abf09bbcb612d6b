package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dudu/faceswap/internal/models"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the supported swapper models and whether their weights are present",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tFAMILY\tSIZE\tTEMPLATE\tRECOGNIZER\tWEIGHTS")
		for _, key := range models.Keys() {
			spec, err := models.Resolve(key, nil)
			if err != nil {
				return err
			}
			status := "missing"
			if _, err := os.Stat(spec.WeightsPath(cfg.Models.Dir)); err == nil {
				status = "present"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", spec.Key, spec.Family, spec.Size, spec.Template, spec.Recognizer, status)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dudu/faceswap/internal/inference"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <model.onnx>",
	Short: "Check that ONNX Runtime can read a model and print its signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath := args[0]
		if _, err := os.Stat(modelPath); err != nil {
			return fmt.Errorf("model not found: %w", err)
		}

		if err := inference.Initialize(cfg.Models.ORTLibrary); err != nil {
			return err
		}
		defer inference.Shutdown()

		info, err := inference.Inspect(modelPath)
		if err != nil {
			return err
		}

		fmt.Printf("Inputs (%d):\n", len(info.Inputs))
		for _, t := range info.Inputs {
			fmt.Printf("  %s: shape=%v, type=%s\n", t.Name, t.Dimensions, t.DataType)
		}
		fmt.Printf("\nOutputs (%d):\n", len(info.Outputs))
		for _, t := range info.Outputs {
			fmt.Printf("  %s: shape=%v, type=%s\n", t.Name, t.Dimensions, t.DataType)
		}

		fmt.Println("\nMetadata:")
		fmt.Printf("  Producer: %s\n", info.Producer)
		fmt.Printf("  Version: %d\n", info.Version)
		fmt.Printf("  Domain: %s\n", info.Domain)
		if info.Description != "" {
			fmt.Printf("  Description: %s\n", info.Description)
		}

		// inswapper style models carry their embedding projection as the last initializer
		m, err := inference.LoadInitializer(modelPath)
		switch {
		case err == nil:
			fmt.Printf("\nLast initializer: %s %dx%d\n", m.Name, m.Rows, m.Cols)
		case errors.Is(err, inference.ErrNoInitializer):
		default:
			fmt.Printf("\nLast initializer: not a 2-D float matrix (%v)\n", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "tierd",
		Short:   "Cost-aware HIGH/FAST tier router for LLM traffic",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newJudgeCmd(),
		newCheckCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

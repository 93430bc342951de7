package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tierd-ai/tierd/pkg/config"
)

func newCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			warnings, err := cfg.Validate()
			for _, w := range warnings {
				fmt.Printf("warning: %s\n", w)
			}
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			fmt.Printf("%s: config OK (%d warnings)\n", configPath, len(warnings))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "tierd.yaml", "path to config file")
	return cmd
}

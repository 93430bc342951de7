package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newJudgeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "judge [message]",
		Short: "Classify a message as HIGH or FAST without routing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			c := buildComponents(cfg)

			message := strings.Join(args, " ")
			class := c.arbiter.Classify(context.Background(), message)

			fmt.Printf("decision: %s\n", class.Decision)
			fmt.Printf("source:   %s\n", class.Source)
			if class.Reason != "" {
				fmt.Printf("reason:   %s\n", class.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "tierd.yaml", "path to config file")
	return cmd
}

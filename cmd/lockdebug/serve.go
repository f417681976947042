package main

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Block, exposing /metrics if metrics.enabled is set (bootstrap already started it)",
		RunE: func(cmd *cobra.Command, args []string) error {
			select {}
		},
	}
}

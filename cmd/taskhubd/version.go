package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the taskhubd version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("taskhubd " + Version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

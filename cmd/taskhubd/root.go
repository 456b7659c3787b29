package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskhubd",
	Short: "Task coordination server for AI orchestrator fleets",
	Long: `taskhubd is the coordination server orchestrators and executing agents
poll to claim, submit, and review tasks. It owns no LLM calls, no chat
transport, and no workflow execution of its own — only the task state
machine, its leases, and the registries that constrain it.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

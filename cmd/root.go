// Package cmd wires the CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "promptforge",
	Short: "PromptForge - conversation server for the prompt engineering workspace",
	Long: `PromptForge serves the conversation backend of the prompt engineering
workspace: per-session chat with an OpenAI-compatible model, streaming
responses, tool execution, and session persistence.

Run 'promptforge serve' to start the HTTP API server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

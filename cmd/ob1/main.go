package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "ob1 -m PROMPT [-k N]",
		Short: "ob1 - run coding agents side by side on one task",
		Long: `ob1 runs K coding agents concurrently on the same task. Every agent
works in its own git worktree on its own branch, starting from your current
branch plus your uncommitted changes. Agents that change something get their
work committed, pushed and proposed as a pull request.`,
		Args:          cobra.NoArgs,
		RunE:          runOrchestrate,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

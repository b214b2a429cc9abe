package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ErrMissingSubcommand = errors.New("missing subcommand")

var (
	dataDir  string
	nodeName string
)

var rootCmd = &cobra.Command{
	Use:   "golem-requestor",
	Short: "Requester-side task coordinator",
	RunE: func(*cobra.Command, []string) error {
		return ErrMissingSubcommand
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&dataDir,
		"data-dir",
		"./golem-data",
		"Root directory for task staging and output",
	)
	rootCmd.PersistentFlags().StringVar(
		&nodeName,
		"node-name",
		"requestor",
		"Name of this requester node",
	)
}

func newLogger() (*zap.Logger, error) {
	return zap.NewDevelopment()
}

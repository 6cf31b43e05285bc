// Package cmd defines the glasswingd command line.
package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for glasswingd.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "glasswingd",
		Short: "Glasswing daemon — workspace conversations for the desktop app",
		Long:  "glasswingd supervises assistant CLI sessions per workspace and serves the desktop UI.",
		RunE:  runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "glasswing-config.json", "path to config file")

	return root
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lynxe/lynxe-go/pkg/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lynxed version",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "lynxed %s (built %s)\n", info.Version, info.BuildTime)
			return err
		},
	}
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/tagvol/pkg/version"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), info)
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())
			if err != nil {
				return fmt.Errorf("write version: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	return cmd
}

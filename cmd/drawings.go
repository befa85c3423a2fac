package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/chartbus/internal/drawings"
)

var drawingsCmd = &cobra.Command{
	Use:   "drawings",
	Short: "Manage saved toolbox drawings",
}

var drawingsExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Write every saved symbol's drawings to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := drawings.Open(cmd.Context(), cfg.Drawings)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := drawings.Export(cmd.Context(), store, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported drawings to %s\n", args[0])
		return nil
	},
}

var drawingsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load drawings from a JSON file written by export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := drawings.Open(cmd.Context(), cfg.Drawings)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		n, err := drawings.Import(cmd.Context(), store, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d symbols\n", n)
		return nil
	},
}

var drawingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List symbols with saved drawings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := drawings.Open(cmd.Context(), cfg.Drawings)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		tags, err := store.Tags(cmd.Context())
		if err != nil {
			return err
		}
		for _, t := range tags {
			fmt.Fprintln(cmd.OutOrStdout(), t)
		}
		return nil
	},
}

func init() {
	drawingsCmd.AddCommand(drawingsExportCmd, drawingsImportCmd, drawingsListCmd)
	rootCmd.AddCommand(drawingsCmd)
}

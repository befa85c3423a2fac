package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/chartbus/internal/config"
	"github.com/zjrosen/chartbus/internal/feed"
)

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "List the symbols the search box resolves against",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, s := range feed.NewSymbols(cfg.Symbols...).Known() {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	},
}

var symbolsAddCmd = &cobra.Command{
	Use:   "add SYMBOL...",
	Short: "Add symbols to the config file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbols := slices.Clone(cfg.Symbols)
		for _, a := range args {
			a = strings.ToUpper(strings.TrimSpace(a))
			if a != "" && !slices.Contains(symbols, a) {
				symbols = append(symbols, a)
			}
		}
		path := viper.ConfigFileUsed()
		if path == "" {
			path = localConfigPath
		}
		if err := config.SaveSymbols(path, symbols); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %d symbols to %s\n", len(symbols), path)
		return nil
	},
}

var symbolsResolveCmd = &cobra.Command{
	Use:   "resolve QUERY",
	Short: "Show which symbol a search query resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol, ok := feed.NewSymbols(cfg.Symbols...).Resolve(args[0])
		if !ok {
			return fmt.Errorf("no symbol matches %q", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), symbol)
		return nil
	},
}

func init() {
	symbolsCmd.AddCommand(symbolsAddCmd, symbolsResolveCmd)
	rootCmd.AddCommand(symbolsCmd)
}

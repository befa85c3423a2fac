// Package cmd wires the chartbus command line.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/chartbus/internal/config"
	"github.com/zjrosen/chartbus/internal/log"
)

const (
	envDebug = "CHARTBUS_DEBUG"
	envLog   = "CHARTBUS_LOG"
	envLevel = "CHARTBUS_LOG_LEVEL"

	localConfigPath = ".chartbus/config.yaml"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "chartbus",
	Short: "Drive chart windows in a separate process",
	Long: `chartbus runs chart windows in a child window process and routes their
UI events, together with a live market data feed, to handlers in the
controlling process.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .chartbus/config.yaml, then ~/.config/chartbus/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (also "+envDebug+"=1, path from "+envLog+")")
	rootCmd.PersistentFlags().Int("max-windows", 0, "windows one window process can hold")
	rootCmd.PersistentFlags().StringP("markup", "m", "", "chart markup file served to every window")

	_ = viper.BindPFlag("max_windows", rootCmd.PersistentFlags().Lookup("max-windows"))
	_ = viper.BindPFlag("surface.markup_file", rootCmd.PersistentFlags().Lookup("markup"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("max_windows", defaults.MaxWindows)
	viper.SetDefault("surface.kind", defaults.Surface.Kind)
	viper.SetDefault("drawings.driver", defaults.Drawings.Driver)
	viper.SetDefault("symbols", defaults.Symbols)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .chartbus/config.yaml (current directory)
		// 2. ~/.config/chartbus/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "chartbus"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// First run: leave a commented default config behind.
			if writeErr := config.WriteDefaultConfig(localConfigPath); writeErr == nil {
				viper.SetConfigFile(localConfigPath)
				_ = viper.ReadInConfig()
			}
		}
	}

	cfg = defaults
	_ = viper.Unmarshal(&cfg)

	if cfg.Drawings.Driver == "sqlite" && cfg.Drawings.Path == "" {
		cfg.Drawings.Path = config.DefaultDrawingsPath()
	}
	if cfg.Tracing.FilePath == "" {
		cfg.Tracing.FilePath = config.DefaultTracesFilePath()
	}
}

// setupLogging enables file logging when debug is on and returns its cleanup.
// Debug is passed to child window processes through the environment.
func setupLogging(prefix string) (func(), error) {
	if os.Getenv(envDebug) == "" && !debugFlag {
		return func() {}, nil
	}
	_ = os.Setenv(envDebug, "1")

	logPath := os.Getenv(envLog)
	if logPath == "" {
		logPath = "debug.log"
	}
	cleanup, err := log.InitWithTeaLog(logPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	if lvl := os.Getenv(envLevel); lvl != "" {
		log.SetMinLevel(log.ParseLevel(lvl))
	}
	log.Info(log.CatConfig, "chartbus starting", "debug", true, "logPath", logPath,
		"config", viper.ConfigFileUsed(), "version", version)
	return cleanup, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

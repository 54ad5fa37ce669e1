package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/heatcheck/internal/config"
	"github.com/heatcheck/internal/logging"
	"github.com/heatcheck/internal/model"
)

var version = "dev"

// app carries the state shared by every subcommand
type app struct {
	configPath string
	debug      bool
	logFormat  string

	overrides pipelineFlags

	cfg    *config.Config
	logger *logging.Logger
}

func main() {
	a := &app{}
	rootCmd := a.rootCmd()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, userMessage(err))
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "heatcheck",
		Short: "Heat consumption anomaly detection",
		Long: `Detects anomalies in heat-meter readings: zero consumption during the heating
season, repeated values, and deviation from the mean of a selected slice.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	a.overrides.register(flags)

	rootCmd.AddCommand(createAnalyzeCmd(a))
	rootCmd.AddCommand(createDeviationCmd(a))
	rootCmd.AddCommand(createRepeatsCmd(a))
	rootCmd.AddCommand(createSeriesCmd(a))
	rootCmd.AddCommand(createExportCmd(a))
	rootCmd.AddCommand(createDetailCmd(a))
	rootCmd.AddCommand(createPublishCmd(a))
	rootCmd.AddCommand(createReviewCmd(a))
	rootCmd.AddCommand(createServeCmd(a))
	rootCmd.AddCommand(createVersionCmd())

	return rootCmd
}

// setup loads the configuration, applies flag overrides and builds the logger
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := a.overrides.apply(cmd, cfg); err != nil {
		return err
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	return nil
}

func createVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "heatcheck %s\n", version)
		},
	}
}

// userMessage turns input errors into the message an operator needs
func userMessage(err error) string {
	var missingInput *model.MissingInputError
	var missingColumn *model.MissingColumnError
	var cfgErr *config.Error

	switch {
	case errors.As(err, &missingInput):
		return fmt.Sprintf("Не загружен файл: %s", missingInput.Input)
	case errors.As(err, &missingColumn):
		return fmt.Sprintf("В файле %s нет столбца %q", missingColumn.Input, missingColumn.Column)
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("Configuration error: %v", cfgErr)
	}
	return fmt.Sprintf("Error: %v", err)
}

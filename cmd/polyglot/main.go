// Polyglot records speech, transcribes it, and renders it as speech in other languages
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/polyglot/internal/config"
	apperrors "github.com/GriffinCanCode/polyglot/internal/errors"
)

var (
	configPath string
	serve      bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "polyglot",
	Short:         "Record, transcribe, translate and speak",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&serve, "serve", false, "Serve status, events and metrics over HTTP while running")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	translateCmd.Flags().StringVar(&translateText, "text", "", "Transcript to translate instead of recording")
	_ = translateCmd.MarkFlagRequired("text")

	rootCmd.AddCommand(runCmd, translateCmd, languagesCmd)
}

// setupLogging installs charmbracelet/log as the slog handler.
func setupLogging(debug bool) {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           level,
	})
	slog.SetDefault(slog.New(handler))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("polyglot failed",
			"error", err,
			"code", apperrors.CodeOf(err),
			"stage", apperrors.Meta(err, apperrors.KeyStage),
			"lang", apperrors.Meta(err, apperrors.KeyLang),
		)
		stop()
		os.Exit(1)
	}
}

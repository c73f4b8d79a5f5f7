// Copyright 2024-2026 Aiku AI

// Command xmpp-ai-bridge is a long-running daemon that bridges one
// XMPP account to an OpenAI-compatible chat completion API. Each
// allow-listed peer gets a persistent, token-budgeted conversation;
// the bridge answers their messages with model completions and plays
// the part of a real chat participant (presence, typing indicators,
// read markers).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aiku/xmpp-ai-bridge/pkg/bridge"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:           "xmpp-ai-bridge",
		Short:         "XMPP to OpenAI-compatible chat completion bridge",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			cfg, err := bridge.Load(configPath)
			if err != nil {
				return err
			}
			b, err := bridge.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info().
				Str("version", Tag).
				Str("commit", Commit).
				Str("jid", cfg.XMPP.JID).
				Str("model", cfg.API.Model).
				Msg("Starting xmpp-ai-bridge")
			if err := b.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", bridge.DefaultConfigPath, "config file location")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newVersionCmd(), newExampleConfigCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("xmpp-ai-bridge %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		},
	}
}

func newExampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example-config",
		Short: "Print an annotated example configuration file",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Print(bridge.ExampleConfig)
		},
	}
}

func newLogger(level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}
	return zerolog.New(writer).Level(parsed).With().Timestamp().Logger(), nil
}

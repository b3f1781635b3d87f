package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aneshas/eventlog/internal/config"
	"github.com/aneshas/eventlog/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "eventlogd",
		Short:        "Event log server",
		Long:         "eventlogd serves an append-only multi-stream event log over HTTP.",
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			srv, err := server.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}

			logger.Info("starting eventlogd",
				"engine", cfg.Storage.Engine,
				"bucket", cfg.Storage.Bucket)

			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().String("config", os.Getenv("EVENTLOG_CONFIG"), "Path to a YAML or JSON config file")
	serveCmd.Flags().String("http", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().String("log-level", os.Getenv("EVENTLOG_LOG_LEVEL"), "Log level: debug|info|warn|error (overrides config)")
	rootCmd.AddCommand(serveCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Validate a config file and print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			cfg.Storage.DSN = redact(cfg.Storage.DSN)
			cfg.Replication.Password = redact(cfg.Replication.Password)

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", cfg)

			return err
		},
	}
	configCmd.Flags().String("config", os.Getenv("EVENTLOG_CONFIG"), "Path to a YAML or JSON config file")
	rootCmd.AddCommand(configCmd)

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if addr, _ := cmd.Flags().GetString("http"); addr != "" {
		cfg.HTTPAddr = addr
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}

	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

func redact(s string) string {
	if s == "" {
		return s
	}

	return "***"
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/server"
	"go.uber.org/zap"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "v0.1.0"

type rootOptions struct {
	configFile string
	envFile    string
}

// NewRelayCommand builds the root command with its serve, validate and
// version subcommands.
func NewRelayCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Messenger webhook relay to an OpenAI-compatible completion API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to YAML configuration file (environment only when empty)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to .env file loaded before configuration")

	cmd.AddCommand(
		newServeCommand(opts),
		newValidateCommand(opts),
		newVersionCommand(),
	)

	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the webhook server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			logger, err := cfg.Logging.NewLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			errors.SetLogger(logger)

			for _, w := range cfg.Warnings() {
				logger.Warn(w)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("Starting relay",
				zap.String("version", Version),
				zap.Int("port", cfg.Server.Port),
				zap.String("locale", cfg.Locale),
			)
			return server.Run(ctx, cfg, logger)
		},
	}
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			printWarnings(cmd.OutOrStdout(), cfg.Warnings())
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s\n", Version)
		},
	}
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.envFile != "" {
		if _, err := config.LoadDotEnv(o.envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	cfg, err := config.LoadPath(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func printWarnings(w io.Writer, warnings []string) {
	for _, warning := range warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
}

func main() {
	cmd := NewRelayCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

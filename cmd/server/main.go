package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/tlvchat/internal/server"
	"github.com/Tyrowin/tlvchat/internal/shutdown"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "tlvchat",
		Short:         "Multi-room TCP chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		listenAddr string
		adminAddr  string
		maxRooms   int
		logLevel   string
		logFormat  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		Long: `Start the chat server.

Configuration is layered: built-in defaults, then the YAML file given with
--config, then TLVCHAT_* environment variables, then command-line flags.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *server.Config
			if configPath == "" {
				cfg = server.NewConfigFromEnv()
			} else {
				loaded, err := server.LoadConfigFile(configPath)
				if err != nil {
					return err
				}
				server.ApplyEnv(loaded)
				cfg = loaded
			}

			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.ListenAddr = listenAddr
			}
			if flags.Changed("admin") {
				cfg.AdminAddr = adminAddr
			}
			if flags.Changed("max-rooms") {
				cfg.MaxRooms = maxRooms
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("log-format") {
				cfg.Log.Format = logFormat
			}

			return run(cmd.Context(), *cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&listenAddr, "listen", "", "chat listen address (default :7000)")
	flags.StringVar(&adminAddr, "admin", "", "admin HTTP address; empty disables it")
	flags.IntVar(&maxRooms, "max-rooms", 0, "maximum number of concurrent rooms")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "log format (json, console)")

	return cmd
}

func run(parent context.Context, cfg server.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := server.NewLogger(cfg.Log, os.Stdout)
	logger.Info().Str("version", version).Msg("Starting tlvchat server...")

	token := shutdown.FromContext(ctx)
	srv, err := server.NewServer(cfg, token, logger)
	if err != nil {
		return err
	}

	return srv.Run()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tlvchat %s (%s)\n", version, commit)
		},
	}
}

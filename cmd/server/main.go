package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/groupchat/internal/directory"
	"github.com/Tyrowin/groupchat/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "gochatd [port]",
		Short: "Group chat server",
		Long: `gochatd serves the group chat protocol on a TCP port and, when an HTTP
address is configured, health checks, Prometheus metrics and a WebSocket
transport on /ws.

Settings come from flags, GOCHAT_* environment variables and an optional
config file, in that order of precedence.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				v.Set("port", args[0])
			}
			return run(cmd.Context(), v, configPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "config file (yaml, toml or json)")
	flags.String("http-addr", "", "HTTP listen address for /, /ws and /metrics")
	flags.String("directory", "", "roster file listing identities in id order")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-format", "", "text or json")

	bind := map[string]string{
		"http_addr":  "http-addr",
		"directory":  "directory",
		"log_level":  "log-level",
		"log_format": "log-format",
	}
	for key, flag := range bind {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	return cmd
}

func run(ctx context.Context, v *viper.Viper, configPath string) error {
	cfg, err := server.LoadConfig(v, configPath)
	if err != nil {
		return err
	}

	logger := server.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	var dir directory.Directory = directory.Default()
	if cfg.DirectoryPath != "" {
		roster, err := directory.Load(cfg.DirectoryPath)
		if err != nil {
			return err
		}
		dir = roster
	}

	srv, err := server.New(*cfg, dir, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("Starting group chat server", "port", cfg.Port, "http_addr", cfg.HTTPAddr, "identities", dir.Capacity())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

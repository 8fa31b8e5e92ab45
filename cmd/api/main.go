package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"labelscope/api/internal/app"
	"labelscope/api/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	addr     string
	driver   string
	database string
}

// apply overrides the environment config with flags set on the command line.
func (f flags) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("addr") {
		cfg.Addr = f.addr
	}
	if cmd.Flags().Changed("driver") {
		cfg.DatabaseDriver = f.driver
	}
	if cmd.Flags().Changed("database") {
		cfg.DatabaseURL = f.database
	}
}

func newRootCommand() *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "labelscope-api",
		Short:         "Annotation and highlight API for drug label workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, f)
		},
	}
	root.PersistentFlags().StringVar(&f.driver, "driver", "", "report database driver (postgres or sqlite)")
	root.PersistentFlags().StringVar(&f.database, "database", "", "report database URL or sqlite path")
	root.Flags().StringVar(&f.addr, "addr", "", "listen address")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, f)
		},
	}
	serve.Flags().StringVar(&f.addr, "addr", "", "listen address")

	root.AddCommand(serve, newMigrateCommand(&f), newExportCommand(&f))
	return root
}

func runServe(cmd *cobra.Command, f flags) error {
	cfg := config.Load()
	f.apply(cmd, &cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer rt.close()

	go rt.service.RunAutosave(ctx, cfg.AutosaveInterval)

	httpServer := app.NewHTTPServer(rt.service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.log.Info("main", "labelscope API listening", map[string]any{"addr": cfg.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.log.Error("main", "shutdown error", map[string]any{"error": err.Error()})
	}
	return nil
}

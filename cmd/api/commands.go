package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"labelscope/api/internal/app"
	"labelscope/api/internal/blob"
	"labelscope/api/internal/chat"
	"labelscope/api/internal/config"
	"labelscope/api/internal/drafts"
	"labelscope/api/internal/email"
	"labelscope/api/internal/export"
	"labelscope/api/internal/gitrepo"
	"labelscope/api/internal/labels"
	"labelscope/api/internal/logging"
	"labelscope/api/internal/search"
	"labelscope/api/internal/store"
)

type runtime struct {
	service *app.Service
	log     *logging.ZapLogger
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	_ = r.log.Sync()
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, store.Dialect, error) {
	if cfg.DatabaseDriver == "sqlite" && !strings.Contains(cfg.DatabaseURL, ":memory:") {
		path := strings.TrimPrefix(strings.SplitN(cfg.DatabaseURL, "?", 2)[0], "file:")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, "", fmt.Errorf("create database dir: %w", err)
		}
	}
	db, dialect, err := store.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("migrations failed: %w", err)
	}
	return db, dialect, nil
}

// setup wires the service. Optional backends that are unconfigured stay
// disabled; withDrafts is false for one-shot commands.
func setup(ctx context.Context, cfg config.Config, withDrafts bool) (*runtime, error) {
	if cfg.LogFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	rt := &runtime{log: logging.New(cfg.LogFilePath, cfg.IsProduction())}

	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = db.Close() })
	reports := store.NewSQLStore(db, dialect)

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		rt.close()
		return nil, fmt.Errorf("create revisions dir: %w", err)
	}

	deps := app.Deps{
		Reports:   reports,
		Revisions: gitrepo.New(cfg.RevisionsDir),
		Labels:    labels.NewClient(cfg.LabelServiceURL, cfg.UpstreamTimeout, cfg.LabelCacheTTL),
		Exporter:  export.NewService(),
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}),
		Logger: rt.log,
	}
	if strings.TrimSpace(cfg.ChatServiceURL) != "" {
		deps.Chat = chat.NewClient(cfg.ChatServiceURL, cfg.UpstreamTimeout)
	}

	if withDrafts {
		if strings.TrimSpace(cfg.RedisURL) != "" {
			redisStore, err := drafts.NewRedisStore(cfg.RedisURL, cfg.DraftTTL)
			if err != nil {
				rt.close()
				return nil, fmt.Errorf("redis connection failed: %w", err)
			}
			rt.closers = append(rt.closers, func() { _ = redisStore.Close() })
			deps.Drafts = redisStore
			rt.log.Info("main", "using redis for drafts", nil)
		} else {
			deps.Drafts = drafts.NewMemoryStore(cfg.DraftTTL)
			rt.log.Info("main", "using in-memory drafts", nil)
		}
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, rt.log)
	}
	searchService := search.NewService(meili, reports, rt.log)
	rt.closers = append(rt.closers, searchService.Close)
	deps.Search = searchService
	if meili != nil && withDrafts {
		go searchService.ReindexAll(ctx)
	}

	blobs, err := blob.New(ctx, blob.Config{
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		Bucket:    cfg.BlobBucket,
		UseSSL:    cfg.BlobUseSSL,
	})
	switch {
	case err == nil:
		deps.Blobs = blobs
	case errors.Is(err, blob.ErrDisabled):
	default:
		rt.log.Warn("main", "export storage unavailable", map[string]any{"error": err.Error()})
	}

	rt.service = app.New(cfg, deps)
	return rt, nil
}

func newMigrateCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply report database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			f.apply(cmd, &cfg)
			db, _, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.DatabaseDriver)
			return nil
		},
	}
}

func newExportCommand(f *flags) *cobra.Command {
	var format, revision, out string
	cmd := &cobra.Command{
		Use:   "export <reportId>",
		Short: "Render a saved report to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			f.apply(cmd, &cfg)
			cfg.LogFilePath = ""

			rt, err := setup(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer rt.close()

			res, err := rt.service.ExportReport(cmd.Context(), args[0], app.ExportReportInput{Format: format, Revision: revision})
			if err != nil {
				return err
			}
			switch out {
			case "-":
				_, err = cmd.OutOrStdout().Write(res.Data)
				return err
			case "":
				out = res.Filename
			}
			if err := os.WriteFile(out, res.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", out, len(res.Data))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(export.FormatMarkdown), "json, txt, md, html, pdf or docx")
	cmd.Flags().StringVar(&revision, "revision", "", "revision hash (default latest)")
	cmd.Flags().StringVar(&out, "out", "", "output path, - for stdout (default the report filename)")
	return cmd
}

package app

import (
	"context"
	"encoding/json"
	"time"

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

const logModule = "app"

type revisionService interface {
	EnsureReportRepo(string) error
	CommitSnapshot(string, json.RawMessage, string, string) (gitrepo.Revision, bool, error)
	History(string, int) ([]gitrepo.Revision, error)
	GetSnapshotByHash(string, string) (json.RawMessage, gitrepo.Revision, error)
	RemoveReportRepo(string) error
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexReport(store.Report)
	DeleteReport(store.Report)
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type exportStorage interface {
	PutExport(context.Context, string, *export.Result) (blob.Object, error)
	PresignedURL(context.Context, string, time.Duration) (string, error)
}

type mailer interface {
	IsConfigured() bool
	SendReportShare([]string, email.ShareData) error
}

// Deps are the collaborators of Service. Reports, Labels and Exporter are
// required; the rest may be nil and disable the feature they serve.
type Deps struct {
	Reports   store.ReportStore
	Revisions revisionService
	Drafts    drafts.Store
	Search    searchService
	Labels    labels.Source
	Chat      chat.Oracle
	Exporter  exporter
	Blobs     exportStorage
	Mailer    mailer
	Logger    logging.Logger
}

type Service struct {
	cfg       config.Config
	reports   store.ReportStore
	revisions revisionService
	drafts    drafts.Store
	search    searchService
	labels    labels.Source
	chat      chat.Oracle
	exporter  exporter
	blobs     exportStorage
	mailer    mailer
	log       logging.Logger
	sessions  *sessionRegistry
	now       func() time.Time
}

func New(cfg config.Config, deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = logging.Nop()
	}
	exp := deps.Exporter
	if exp == nil {
		exp = export.NewService()
	}
	return &Service{
		cfg:       cfg,
		reports:   deps.Reports,
		revisions: deps.Revisions,
		drafts:    deps.Drafts,
		search:    deps.Search,
		labels:    deps.Labels,
		chat:      deps.Chat,
		exporter:  exp,
		blobs:     deps.Blobs,
		mailer:    deps.Mailer,
		log:       log,
		sessions:  newSessionRegistry(cfg.SessionIdleTTL),
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.reports.Ping(ctx)
}

// ReadyChecks pings every configured backing service.
func (s *Service) ReadyChecks(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}
	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			ready = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			return
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	check("database", s.reports.Ping)
	if s.drafts != nil {
		check("drafts", s.drafts.Ping)
	}
	return ready, checks
}

func (s *Service) SharingConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/util"
)

// ReportStore persists saved workspaces. Saves are last writer wins.
type ReportStore interface {
	Ping(ctx context.Context) error
	CreateReport(ctx context.Context, r Report) (Report, error)
	UpdateReport(ctx context.Context, r Report) (Report, error)
	UpdateWorkspaceState(ctx context.Context, id string, state json.RawMessage) (Report, error)
	UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) (Report, error)
	GetReport(ctx context.Context, id string) (Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]Report, error)
	DeleteReport(ctx context.Context, id string) error
	RecordShare(ctx context.Context, share Share) (Share, error)
	ListShares(ctx context.Context, reportID string) ([]Share, error)
}

// SQLStore implements ReportStore on PostgreSQL or SQLite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ ReportStore = (*SQLStore)(nil)

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const reportColumns = `id, report_type, title, type_category, description, tags, workspace_state, created_at, last_modified`

func (s *SQLStore) CreateReport(ctx context.Context, r Report) (Report, error) {
	if err := r.Validate(); err != nil {
		return Report{}, err
	}
	if r.ID == "" {
		r.ID = util.NewID("rpt")
	}
	now := s.now().UTC()
	r.CreatedAt, r.LastModified = now, now

	tags, err := encodeTags(r.Metadata.Tags)
	if err != nil {
		return Report{}, err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), r.ID, string(r.ReportType), r.Metadata.Title, string(r.Metadata.TypeCategory), r.Metadata.Description,
		tags, string(r.WorkspaceState), s.dialect.timeArg(now), s.dialect.timeArg(now))
	if err != nil {
		return Report{}, fmt.Errorf("insert report: %w", err)
	}
	return s.GetReport(ctx, r.ID)
}

// UpdateReport overwrites type, metadata and workspace state.
func (s *SQLStore) UpdateReport(ctx context.Context, r Report) (Report, error) {
	if err := r.Validate(); err != nil {
		return Report{}, err
	}
	tags, err := encodeTags(r.Metadata.Tags)
	if err != nil {
		return Report{}, err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE reports
		SET report_type=?, title=?, type_category=?, description=?, tags=?, workspace_state=?, last_modified=?
		WHERE id=?
	`), string(r.ReportType), r.Metadata.Title, string(r.Metadata.TypeCategory), r.Metadata.Description,
		tags, string(r.WorkspaceState), s.dialect.timeArg(s.now()), r.ID)
	if err != nil {
		return Report{}, fmt.Errorf("update report: %w", err)
	}
	if err := requireAffected(res, r.ID); err != nil {
		return Report{}, err
	}
	return s.GetReport(ctx, r.ID)
}

func (s *SQLStore) UpdateWorkspaceState(ctx context.Context, id string, state json.RawMessage) (Report, error) {
	if len(state) == 0 || !json.Valid(state) {
		return Report{}, fmt.Errorf("%w: workspace state must be a JSON document", ErrInvalidReport)
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE reports SET workspace_state=?, last_modified=? WHERE id=?
	`), string(state), s.dialect.timeArg(s.now()), id)
	if err != nil {
		return Report{}, fmt.Errorf("update workspace state: %w", err)
	}
	if err := requireAffected(res, id); err != nil {
		return Report{}, err
	}
	return s.GetReport(ctx, id)
}

func (s *SQLStore) UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) (Report, error) {
	current, err := s.GetReport(ctx, id)
	if err != nil {
		return Report{}, err
	}
	meta := patch.apply(current.Metadata)
	if err := meta.Validate(); err != nil {
		return Report{}, err
	}
	tags, err := encodeTags(meta.Tags)
	if err != nil {
		return Report{}, err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE reports SET title=?, type_category=?, description=?, tags=?, last_modified=? WHERE id=?
	`), meta.Title, string(meta.TypeCategory), meta.Description, tags, s.dialect.timeArg(s.now()), id)
	if err != nil {
		return Report{}, fmt.Errorf("update report metadata: %w", err)
	}
	if err := requireAffected(res, id); err != nil {
		return Report{}, err
	}
	return s.GetReport(ctx, id)
}

func (s *SQLStore) GetReport(ctx context.Context, id string) (Report, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+reportColumns+` FROM reports WHERE id=?`), id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, fmt.Errorf("%w: %s: %w", ErrNotFound, id, err)
	}
	if err != nil {
		return Report{}, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

// ListReports returns reports newest first.
func (s *SQLStore) ListReports(ctx context.Context, filter ReportFilter) ([]Report, error) {
	filter = filter.normalized()
	query := `SELECT ` + reportColumns + ` FROM reports`
	var args []any
	if filter.ReportType != "" {
		query += ` WHERE report_type=?`
		args = append(args, string(filter.ReportType))
	}
	query += ` ORDER BY last_modified DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := []Report{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

func (s *SQLStore) DeleteReport(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM reports WHERE id=?`), id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	return requireAffected(res, id)
}

func (s *SQLStore) RecordShare(ctx context.Context, share Share) (Share, error) {
	if share.ID == "" {
		share.ID = util.NewID("shr")
	}
	share.SharedAt = s.now().UTC()
	recipients, err := json.Marshal(nonNil(share.Recipients))
	if err != nil {
		return Share{}, fmt.Errorf("encode recipients: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO report_shares (id, report_id, recipients, message, shared_at) VALUES (?, ?, ?, ?, ?)
	`), share.ID, share.ReportID, string(recipients), share.Message, s.dialect.timeArg(share.SharedAt))
	if err != nil {
		return Share{}, fmt.Errorf("insert share: %w", err)
	}
	return share, nil
}

func (s *SQLStore) ListShares(ctx context.Context, reportID string) ([]Share, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, report_id, recipients, message, shared_at FROM report_shares
		WHERE report_id=? ORDER BY shared_at DESC
	`), reportID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	shares := []Share{}
	for rows.Next() {
		var (
			sh         Share
			recipients []byte
			sharedAt   dbTime
		)
		if err := rows.Scan(&sh.ID, &sh.ReportID, &recipients, &sh.Message, &sharedAt); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		if err := json.Unmarshal(recipients, &sh.Recipients); err != nil {
			return nil, fmt.Errorf("decode recipients: %w", err)
		}
		sh.SharedAt = sharedAt.Time
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (Report, error) {
	var (
		r          Report
		reportType string
		category   string
		tags       []byte
		state      []byte
		createdAt  dbTime
		modifiedAt dbTime
	)
	if err := row.Scan(&r.ID, &reportType, &r.Metadata.Title, &category, &r.Metadata.Description,
		&tags, &state, &createdAt, &modifiedAt); err != nil {
		return Report{}, err
	}
	r.ReportType = annotation.ReportType(reportType)
	r.Metadata.TypeCategory = TypeCategory(category)
	if err := json.Unmarshal(tags, &r.Metadata.Tags); err != nil {
		return Report{}, fmt.Errorf("decode tags: %w", err)
	}
	if r.Metadata.Tags == nil {
		r.Metadata.Tags = []string{}
	}
	r.WorkspaceState = json.RawMessage(state)
	r.CreatedAt = createdAt.Time
	r.LastModified = modifiedAt.Time
	return r, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, id, sql.ErrNoRows)
	}
	return nil
}

func encodeTags(tags []string) (string, error) {
	data, err := json.Marshal(nonNil(tags))
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(data), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

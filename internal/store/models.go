package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"labelscope/api/internal/annotation"
)

var (
	// ErrNotFound wraps sql.ErrNoRows for unknown report ids.
	ErrNotFound      = errors.New("report not found")
	ErrInvalidReport = errors.New("invalid report")
)

// TypeCategory is the user-facing report category.
type TypeCategory string

const (
	CategoryCompetitiveAnalysis TypeCategory = "competitive_analysis"
	CategorySafetyReview        TypeCategory = "safety_review"
	CategoryEfficacyStudy       TypeCategory = "efficacy_study"
	CategoryRegulatoryPrep      TypeCategory = "regulatory_prep"
	CategoryGeneralAnalysis     TypeCategory = "general_analysis"
)

func (c TypeCategory) Valid() bool {
	switch c {
	case CategoryCompetitiveAnalysis, CategorySafetyReview, CategoryEfficacyStudy,
		CategoryRegulatoryPrep, CategoryGeneralAnalysis:
		return true
	}
	return false
}

const (
	maxTitleLength       = 500
	maxTags              = 10
	maxDescriptionLength = 2000
)

// Metadata is the user-provided part of a saved report.
type Metadata struct {
	Title        string       `json:"title"`
	TypeCategory TypeCategory `json:"typeCategory"`
	Description  string       `json:"description"`
	Tags         []string     `json:"tags"`
}

func (m Metadata) Validate() error {
	title := strings.TrimSpace(m.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
		return fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidReport, maxTitleLength)
	}
	if !m.TypeCategory.Valid() {
		return fmt.Errorf("%w: unknown type category %q", ErrInvalidReport, m.TypeCategory)
	}
	if len(m.Tags) > maxTags {
		return fmt.Errorf("%w: at most %d tags", ErrInvalidReport, maxTags)
	}
	if utf8.RuneCountInString(m.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidReport, maxDescriptionLength)
	}
	return nil
}

// MetadataPatch carries the fields UpdateMetadata changes; nil leaves a
// field as is.
type MetadataPatch struct {
	Title        *string       `json:"title"`
	TypeCategory *TypeCategory `json:"typeCategory"`
	Description  *string       `json:"description"`
	Tags         *[]string     `json:"tags"`
}

func (p MetadataPatch) apply(m Metadata) Metadata {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.TypeCategory != nil {
		m.TypeCategory = *p.TypeCategory
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Tags != nil {
		m.Tags = append([]string(nil), (*p.Tags)...)
	}
	return m
}

// Report is a saved workspace. WorkspaceState holds an encoded snapshot.
type Report struct {
	ID             string                `json:"id"`
	ReportType     annotation.ReportType `json:"reportType"`
	Metadata       Metadata              `json:"metadata"`
	WorkspaceState json.RawMessage       `json:"workspaceState"`
	CreatedAt      time.Time             `json:"createdAt"`
	LastModified   time.Time             `json:"lastModified"`
}

func (r Report) Validate() error {
	if !r.ReportType.Valid() {
		return fmt.Errorf("%w: unknown report type %q", ErrInvalidReport, r.ReportType)
	}
	if err := r.Metadata.Validate(); err != nil {
		return err
	}
	if len(r.WorkspaceState) == 0 || !json.Valid(r.WorkspaceState) {
		return fmt.Errorf("%w: workspace state must be a JSON document", ErrInvalidReport)
	}
	return nil
}

type ReportFilter struct {
	ReportType annotation.ReportType
	Limit      int
	Offset     int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (f ReportFilter) normalized() ReportFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Share records one emailed share of a report.
type Share struct {
	ID         string    `json:"id"`
	ReportID   string    `json:"reportId"`
	Recipients []string  `json:"recipients"`
	Message    string    `json:"message"`
	SharedAt   time.Time `json:"sharedAt"`
}

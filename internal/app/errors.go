package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"labelscope/api/internal/chat"
	"labelscope/api/internal/drafts"
	"labelscope/api/internal/email"
	"labelscope/api/internal/export"
	"labelscope/api/internal/gitrepo"
	"labelscope/api/internal/labels"
	"labelscope/api/internal/selection"
	"labelscope/api/internal/snapshot"
	"labelscope/api/internal/store"
	"labelscope/api/internal/workspace"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

var (
	errSessionNotFound = domainError(http.StatusNotFound, "WORKSPACE_NOT_FOUND", "Workspace not found or expired", nil)
	errReportNotFound  = domainError(http.StatusNotFound, "REPORT_NOT_FOUND", "Report not found", nil)
	errMessageNotFound = domainError(http.StatusNotFound, "MESSAGE_NOT_FOUND", "Message not found", nil)
)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, workspace.ErrRestoreFailure):
		return http.StatusUnprocessableEntity, "RESTORE_FAILED",
			"The saved workspace could not be restored and your current workspace was left unchanged. " + err.Error(), nil
	case errors.Is(err, snapshot.ErrMalformed), errors.Is(err, snapshot.ErrUnsupportedVersion):
		return http.StatusUnprocessableEntity, "RESTORE_FAILED",
			"The saved workspace is corrupted or from an unsupported version. " + err.Error(), nil
	case errors.Is(err, selection.ErrInvalidSelection):
		return http.StatusUnprocessableEntity, "INVALID_SELECTION", err.Error(), nil
	case errors.Is(err, workspace.ErrInvalidColor), errors.Is(err, store.ErrInvalidReport),
		errors.Is(err, chat.ErrInvalidQuestion), errors.Is(err, email.ErrInvalidRecipient):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, workspace.ErrInvalidReference):
		return http.StatusConflict, "INVALID_REFERENCE", "The highlight this note cites no longer exists", nil
	case errors.Is(err, workspace.ErrStaleResponse):
		return http.StatusConflict, "WORKSPACE_CHANGED", "The workspace changed before the answer arrived; the answer was discarded", nil
	case errors.Is(err, workspace.ErrSessionClosed):
		return http.StatusGone, "WORKSPACE_CLOSED", "Workspace is closed", nil
	case errors.Is(err, workspace.ErrNoContent):
		return http.StatusConflict, "NO_CONTENT", "No label content is loaded for this workspace", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, export.ErrExportFailure):
		return http.StatusServiceUnavailable, "EXPORT_FAILED", err.Error(), nil
	case errors.Is(err, email.ErrNotConfigured):
		return http.StatusServiceUnavailable, "SHARING_UNAVAILABLE", "Email sharing is not configured", nil
	case errors.Is(err, labels.ErrDrugNotFound):
		return http.StatusNotFound, "DRUG_NOT_FOUND", err.Error(), nil
	case errors.Is(err, chat.ErrNoAnswer):
		return http.StatusNotFound, "NO_ANSWER", "No relevant information found", nil
	case errors.Is(err, labels.ErrUpstream), errors.Is(err, chat.ErrUpstream):
		return http.StatusBadGateway, "UPSTREAM_ERROR", err.Error(), nil
	case errors.Is(err, gitrepo.ErrNoRepository), errors.Is(err, gitrepo.ErrNoRevision):
		return http.StatusNotFound, "REVISION_NOT_FOUND", err.Error(), nil
	case errors.Is(err, drafts.ErrNotFound):
		return http.StatusNotFound, "DRAFT_NOT_FOUND", "No autosaved draft for this workspace", nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

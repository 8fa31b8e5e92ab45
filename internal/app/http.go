package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"labelscope/api/internal/annotation"
	"labelscope/api/internal/export"
	"labelscope/api/internal/logging"
	"labelscope/api/internal/search"
	"labelscope/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        logging.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: service.log}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(s.withMiddleware)
	r.Use(chimiddleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/search", s.handleSearch)

		r.Route("/workspaces", func(r chi.Router) {
			r.Post("/", s.handleCreateWorkspace)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetWorkspace)
				r.Delete("/", s.handleCloseWorkspace)
				r.Post("/highlights", s.handleAddHighlight)
				r.Patch("/highlights/{hid}", s.handleUpdateHighlight)
				r.Delete("/highlights/{hid}", s.handleRemoveHighlight)
				r.Post("/notes", s.handleAddNote)
				r.Patch("/notes/{nid}", s.handleUpdateNote)
				r.Delete("/notes/{nid}", s.handleRemoveNote)
				r.Get("/sections/{sectionId}/render", s.handleRenderSection)
				r.Post("/chat", s.handleAsk)
				r.Post("/messages/{mid}/flag", s.handleToggleFlag)
				r.Put("/ui", s.handleUpdateUI)
				r.Post("/save", s.handleSave)
				r.Get("/draft", s.handleGetDraft)
				r.Post("/draft", s.handleSaveDraft)
				r.Post("/restore", s.handleRestore)
				r.Get("/export", s.handleExportWorkspace)
			})
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.handleListReports)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetReport)
				r.Delete("/", s.handleDeleteReport)
				r.Put("/metadata", s.handleUpdateMetadata)
				r.Get("/history", s.handleHistory)
				r.Get("/export", s.handleExportReport)
				r.Post("/share", s.handleShare)
				r.Get("/notes/{nid}/navigate", s.handleNavigate)
			})
		})
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready, checks := s.service.ReadyChecks(ctx)
	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     ready,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var body CreateWorkspaceInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.CreateWorkspace(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetWorkspace(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleCloseWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CloseWorkspace(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAddHighlight(w http.ResponseWriter, r *http.Request) {
	var body HighlightInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	created, err := s.service.AddHighlight(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleUpdateHighlight(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Color string `json:"color"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateHighlightColor(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "hid"), body.Color)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleRemoveHighlight(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.RemoveHighlight(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "hid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var body NoteInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.AddNote(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateNote(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "nid"), body.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleRemoveNote(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.RemoveNote(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "nid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleRenderSection(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.RenderSection(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "sectionId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.Ask(r.Context(), chi.URLParam(r, "id"), body.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleToggleFlag(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ToggleFlag(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "mid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUpdateUI(w http.ResponseWriter, r *http.Request) {
	var body UIInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ui, err := s.service.UpdateUI(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ui)
}

func (s *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request) {
	var body SaveInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Save(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.service.GetDraft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *HTTPServer) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	written, err := s.service.SaveDraft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": written})
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request) {
	var body RestoreInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.Restore(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleExportWorkspace(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportWorkspace(r.Context(), chi.URLParam(r, "id"), formatParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result)
}

func (s *HTTPServer) handleListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ReportFilter{Limit: intParam(q.Get("limit")), Offset: intParam(q.Get("offset"))}
	if t := strings.TrimSpace(q.Get("type")); t != "" {
		filter.ReportType = annotation.ReportType(t)
		if !filter.ReportType.Valid() {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be analysis or comparison", nil)
			return
		}
	}
	reports, err := s.service.ListReports(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (s *HTTPServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.GetReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.DeleteReport(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
}

func (s *HTTPServer) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	var body store.MetadataPatch
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	report, err := s.service.UpdateReportMetadata(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	revisions, err := s.service.ReportHistory(r.Context(), chi.URLParam(r, "id"), intParam(r.URL.Query().Get("limit")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
}

func (s *HTTPServer) handleExportReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := s.service.ExportReport(r.Context(), chi.URLParam(r, "id"), ExportReportInput{
		Format:         formatParam(r),
		Revision:       q.Get("revision"),
		OmitHighlights: boolParam(q.Get("omitHighlights")),
		OmitNotes:      boolParam(q.Get("omitNotes")),
		OmitMetadata:   boolParam(q.Get("omitMetadata")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeFile(w, result)
}

func (s *HTTPServer) handleShare(w http.ResponseWriter, r *http.Request) {
	var body ShareInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.ShareReport(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleNavigate(w http.ResponseWriter, r *http.Request) {
	nav, err := s.service.NavigateToNote(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "nid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nav)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := search.Query{
		Text:       q.Get("q"),
		ReportType: q.Get("reportType"),
		Limit:      intParam(q.Get("limit")),
		Offset:     intParam(q.Get("offset")),
	}
	if t := strings.TrimSpace(q.Get("type")); t != "" {
		rt, ok := search.ParseResultType(t)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be report, highlight or note", nil)
			return
		}
		query.FilterType = rt
	}
	resp, err := s.service.Search(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail writes the mapped error and logs server-side failures.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(logModule, "request failed", map[string]any{
			"request_id": chimiddleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
			"status":     status,
			"error":      err.Error(),
		})
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := chimiddleware.GetReqID(r.Context())

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.Info("http", "request", map[string]any{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeFile sends an export as a download.
func writeFile(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Type", result.MimeType)
	if result.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func formatParam(r *http.Request) string {
	if f := strings.TrimSpace(r.URL.Query().Get("format")); f != "" {
		return strings.ToLower(f)
	}
	return string(export.FormatJSON)
}

func intParam(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}

func boolParam(value string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(value))
	return b
}

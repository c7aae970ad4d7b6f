// Package api exposes the paragraph interpreter over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"presto-notebook/internal/domain"
)

const (
	maxBodyBytes    = 1 << 20
	defaultRunLimit = 20
	maxRunLimit     = 500
)

// paragraphService defines the interpreter operations used by the handler.
type paragraphService interface {
	Submit(ctx context.Context, pctx domain.ParagraphContext, sql string) (*domain.Result, error)
	Cancel(pctx domain.ParagraphContext)
	Progress(paragraphID string) int
}

// Handler serves the paragraph endpoints.
type Handler struct {
	paragraphs paragraphService
	runs       domain.RunRepository
	logger     *slog.Logger
}

// NewHandler creates a Handler. runs may be nil, in which case run history
// requests return an empty list.
func NewHandler(paragraphs paragraphService, runs domain.RunRepository, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{paragraphs: paragraphs, runs: runs, logger: logger}
}

// RunRequest is the body of a paragraph run.
type RunRequest struct {
	SQL string `json:"sql"`
}

// ProgressResponse reports a paragraph's completion percentage.
type ProgressResponse struct {
	ParagraphID string `json:"paragraph_id"`
	Progress    int    `json:"progress"`
}

// RunsResponse lists recorded runs, newest first.
type RunsResponse struct {
	Data []domain.ParagraphRun `json:"data"`
}

// Routes mounts the paragraph endpoints on r. Callers must install
// authentication middleware before these routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/notes/{noteID}/paragraphs/{paragraphID}/run", h.RunParagraph)
	r.Post("/notes/{noteID}/paragraphs/{paragraphID}/cancel", h.CancelParagraph)
	r.Get("/notes/{noteID}/paragraphs/{paragraphID}/runs", h.ListRuns)
	r.Get("/paragraphs/{paragraphID}/progress", h.GetProgress)
}

// RunParagraph executes the statement in the body and waits for the result.
func (h *Handler) RunParagraph(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, domain.ErrValidation("invalid request body: %s", err.Error()))
		return
	}

	res, err := h.paragraphs.Submit(r.Context(), paragraphContext(r), req.SQL)
	if err != nil {
		if domain.KindOf(err) == "" {
			h.logger.Error("run paragraph", "paragraph_id", chi.URLParam(r, "paragraphID"), "error", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelParagraph stops the paragraph's running query, if any.
func (h *Handler) CancelParagraph(w http.ResponseWriter, r *http.Request) {
	h.paragraphs.Cancel(paragraphContext(r))
	w.WriteHeader(http.StatusNoContent)
}

// GetProgress returns the running paragraph's completion percentage.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paragraphID")
	writeJSON(w, http.StatusOK, ProgressResponse{ParagraphID: id, Progress: h.paragraphs.Progress(id)})
}

// ListRuns returns the paragraph's recorded runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxRunLimit {
			writeError(w, domain.ErrValidation("limit must be between 1 and %d", maxRunLimit))
			return
		}
		limit = n
	}

	resp := RunsResponse{Data: []domain.ParagraphRun{}}
	if h.runs != nil {
		runs, err := h.runs.ListByParagraph(r.Context(), chi.URLParam(r, "noteID"), chi.URLParam(r, "paragraphID"), limit)
		if err != nil {
			h.logger.Error("list paragraph runs", "error", err)
			writeError(w, err)
			return
		}
		if runs != nil {
			resp.Data = runs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health reports that the process is serving.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func paragraphContext(r *http.Request) domain.ParagraphContext {
	auth, _ := domain.AuthInfoFromContext(r.Context())
	return domain.ParagraphContext{
		NoteID:      chi.URLParam(r, "noteID"),
		ParagraphID: chi.URLParam(r, "paragraphID"),
		Auth:        auth,
	}
}

// Package httpapi exposes the assessment service as a JSON HTTP API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/abhisek/adaptiq/internal/ability"
	"github.com/abhisek/adaptiq/internal/assessment"
	"github.com/abhisek/adaptiq/internal/attempt"
	"github.com/abhisek/adaptiq/internal/engine"
	"github.com/abhisek/adaptiq/internal/itembank"
	"github.com/abhisek/adaptiq/internal/scoring"
	"github.com/abhisek/adaptiq/internal/stopping"
	"github.com/abhisek/adaptiq/internal/store"
)

var errBadRequest = errors.New("bad request")

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// AttemptLister lists stored attempts.
type AttemptLister interface {
	ListAttempts(ctx context.Context, opts store.ListOpts) ([]store.AttemptSummary, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	svc      *assessment.Service
	attempts AttemptLister
	logger   *slog.Logger
}

// New creates a Handler. attempts may be nil, which disables listing.
func New(svc *assessment.Service, attempts AttemptLister, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, attempts: attempts, logger: logger}
}

// Router returns the API with its middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	h.Routes(r)
	return r
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/attempts", func(r chi.Router) {
		r.Post("/", h.handleStart)
		r.Get("/", h.handleList)
		r.Route("/{attemptID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/next", h.handleNext)
			r.Post("/responses", h.handleSubmit)
			r.Post("/finalize", h.handleFinalize)
			r.Post("/abandon", h.handleAbandon)
		})
	})
}

// itemView is an item as shown to the taker: no key, no calibration.
type itemView struct {
	ID       string            `json:"id"`
	Category string            `json:"category"`
	Type     itembank.ItemType `json:"type"`
	Prompt   string            `json:"prompt,omitempty"`
	Options  []itembank.Option `json:"options"`
}

func newItemView(it itembank.Item) itemView {
	return itemView{ID: it.ID, Category: it.Category, Type: it.Type, Prompt: it.Prompt, Options: it.Options}
}

type attemptView struct {
	ID         string               `json:"id"`
	TakerID    string               `json:"taker_id"`
	ToolID     string               `json:"tool_id"`
	Status     attempt.Status       `json:"status"`
	Flagged    bool                 `json:"flagged"`
	Items      int                  `json:"items"`
	Theta      float64              `json:"theta"`
	SE         float64              `json:"se"`
	StopReason stopping.Reason      `json:"stop_reason,omitempty"`
	Pending    *itemView            `json:"pending,omitempty"`
	Report     *scoring.ScoreReport `json:"report,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

func newAttemptView(a engine.Attempt) attemptView {
	return attemptView{
		ID:         a.ID,
		TakerID:    a.TakerID,
		ToolID:     a.ToolID,
		Status:     a.Status,
		Flagged:    a.Flagged,
		Items:      a.State.Count,
		Theta:      a.State.Theta,
		SE:         a.State.SE,
		StopReason: a.StopReason,
		Report:     a.Report,
		CreatedAt:  a.CreatedAt,
	}
}

type stateView struct {
	Theta      float64         `json:"theta"`
	SE         float64         `json:"se"`
	Items      int             `json:"items"`
	Phase      ability.Phase   `json:"phase"`
	StopReason stopping.Reason `json:"stop_reason,omitempty"`
}

type startRequest struct {
	TakerID    string   `json:"taker_id"`
	ToolID     string   `json:"tool_id"`
	Categories []string `json:"categories,omitempty"`
	Audience   string   `json:"audience,omitempty"`
}

type submitRequest struct {
	ItemID    string   `json:"item_id"`
	Answer    []string `json:"answer"`
	HintsUsed int      `json:"hints_used,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "live_attempts": h.svc.Live()})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	att, err := h.svc.Start(r.Context(), req.TakerID, itembank.Filter{
		ToolID:     req.ToolID,
		Categories: req.Categories,
		Audience:   req.Audience,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.Header().Set("Location", "/attempts/"+att.ID)
	writeJSON(w, http.StatusCreated, newAttemptView(att))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "listing is not available"})
		return
	}
	q := r.URL.Query()
	opts := store.ListOpts{
		TakerID: q.Get("taker_id"),
		ToolID:  q.Get("tool_id"),
		Status:  attempt.Status(q.Get("status")),
	}
	var err error
	if opts.Limit, err = intParam(q.Get("limit"), 50); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if opts.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if opts.Status != "" && !opts.Status.Valid() {
		writeError(w, h.logger, fmt.Errorf("%w: unknown status %q", errBadRequest, opts.Status))
		return
	}

	list, err := h.attempts.ListAttempts(r.Context(), opts)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []store.AttemptSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": list})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "attemptID")
	att, err := h.svc.Attempt(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	view := newAttemptView(att)
	if item, ok, err := h.svc.Pending(r.Context(), id); err == nil && ok {
		iv := newItemView(item)
		view.Pending = &iv
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Next(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemView(item))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.ItemID == "" {
		writeError(w, h.logger, fmt.Errorf("%w: item_id is required", errBadRequest))
		return
	}

	id := chi.URLParam(r, "attemptID")
	state, err := h.svc.Submit(r.Context(), id, req.ItemID, req.Answer, engine.WithHints(req.HintsUsed))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	view := stateView{Theta: state.Theta, SE: state.SE, Items: state.Count, Phase: state.Phase}
	if att, err := h.svc.Attempt(r.Context(), id); err == nil {
		view.StopReason = att.StopReason
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Finalize(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Abandon(r.Context(), chi.URLParam(r, "attemptID")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid number %q", errBadRequest, s)
	}
	return n, nil
}

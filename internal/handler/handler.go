package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pavelanni/examrunner/internal/auth"
	"github.com/pavelanni/examrunner/internal/events"
	"github.com/pavelanni/examrunner/internal/exam"
	appI18n "github.com/pavelanni/examrunner/internal/i18n"
	"github.com/pavelanni/examrunner/internal/llm"
	"github.com/pavelanni/examrunner/internal/metrics"
	"github.com/pavelanni/examrunner/internal/model"
	"github.com/pavelanni/examrunner/internal/runner"
	"github.com/pavelanni/examrunner/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	sessions *runner.Manager
	loader   *exam.Loader
	importer *exam.Importer
	llm      *llm.Client
	tokens   *auth.Tokens
	events   events.Publisher
	config   model.RunnerConfig
}

// Deps are the collaborators of a Handler. LLM and Tokens are optional.
type Deps struct {
	Store    *store.Store
	Sessions *runner.Manager
	Loader   *exam.Loader
	LLM      *llm.Client
	Tokens   *auth.Tokens
	Events   events.Publisher
}

// New creates a new Handler.
func New(d Deps, cfg model.RunnerConfig) *Handler {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Handler{
		store:    d.Store,
		sessions: d.Sessions,
		loader:   d.Loader,
		importer: exam.NewImporter(d.Store),
		llm:      d.LLM,
		tokens:   d.Tokens,
		events:   d.Events,
		config:   cfg,
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Post("/login", h.handleLogin)
		if h.tokens != nil {
			r.Post("/api/token", h.handleToken)
		}

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Post("/logout", h.handleLogout)

			r.Post("/exams/{examID}/sessions", h.handleStartSession)
			r.Get("/exams/{examID}/results", h.handleResults)

			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Use(h.sessionCtx)
				r.Get("/", h.handleSessionState)
				r.Delete("/", h.handleCloseSession)
				r.Put("/answers/{questionID}", h.handleAnswer)
				r.Post("/next", h.handleNext)
				r.Post("/previous", h.handlePrevious)
				r.With(requireRole(model.UserRoleAdmin)).Post("/jump/{index}", h.handleJump)
				r.Post("/finish", h.handleFinish)
			})

			r.Route("/review", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
				r.Get("/attempts", h.handleListAttempts)
				r.Get("/attempts/{attemptID}", h.handleAttempt)
				r.Get("/attempts/{attemptID}/suggestions", h.handleSuggestions)
				r.Post("/attempts/{attemptID}/grade", h.handleGrade)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/exams", h.handleListExams)
				r.Post("/exams", h.handleUploadExam)
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Post("/users/{userID}/toggle-active", h.handleToggleUserActive)
				r.Get("/events", h.handleListEvents)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": h.sessions.Len()})
}

// path prepends the configured base path to p.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) publish(ctx context.Context, e events.Event) {
	if err := h.events.Publish(ctx, e); err != nil {
		slog.Warn("publish event", "type", e.Type, "attempt_id", e.AttemptID, "error", err)
	}
}

var (
	errBadRequest      = errors.New("bad request")
	errForbidden       = errors.New("forbidden")
	errSessionNotFound = errors.New("session not found")
	errLLMDisabled     = errors.New("grading suggestions are not configured")
	errBadCredentials  = errors.New("invalid credentials")
	errAccountDisabled = errors.New("account disabled")
	errCSRF            = errors.New("csrf token mismatch")
)

// apiError is the body of every error response.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	err    error
	status int
	msgID  string
}

var errorMappings = []errorMapping{
	{model.ErrAuthRequired, http.StatusUnauthorized, "AuthRequired"},
	{errBadCredentials, http.StatusUnauthorized, "InvalidCredentials"},
	{errAccountDisabled, http.StatusForbidden, "AccountDisabled"},
	{errForbidden, http.StatusForbidden, "Forbidden"},
	{errCSRF, http.StatusForbidden, "CSRFMismatch"},
	{model.ErrExamNotFound, http.StatusNotFound, "ExamNotFound"},
	{model.ErrMalformedDefinition, http.StatusUnprocessableEntity, "MalformedDefinition"},
	{model.ErrAttemptNotFound, http.StatusNotFound, "AttemptNotFound"},
	{model.ErrAttemptFinalized, http.StatusConflict, "AttemptFinalized"},
	{model.ErrAttemptInProgress, http.StatusConflict, "AttemptInProgress"},
	{exam.ErrExamInUse, http.StatusConflict, "ExamInUse"},
	{model.ErrUserNotFound, http.StatusNotFound, "UserNotFound"},
	{model.ErrUsernameTaken, http.StatusConflict, "UsernameTaken"},
	{errSessionNotFound, http.StatusNotFound, "SessionNotFound"},
	{runner.ErrSessionFinished, http.StatusConflict, "SessionFinished"},
	{runner.ErrUnknownQuestion, http.StatusNotFound, "UnknownQuestion"},
	{runner.ErrAnswerKind, http.StatusBadRequest, "AnswerKind"},
	{model.ErrInvalidAnswer, http.StatusBadRequest, "InvalidAnswer"},
	{runner.ErrSectionOutOfRange, http.StatusBadRequest, "SectionOutOfRange"},
	{errLLMDisabled, http.StatusNotImplemented, "SuggestionsDisabled"},
	{errBadRequest, http.StatusBadRequest, "BadRequest"},
}

// writeError maps err to a status code and a localized message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *model.PersistenceError
	if errors.As(err, &perr) {
		slog.Error("persistence failure", "op", perr.Op, "error", perr.Err)
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: perr.Op, Message: appI18n.Localize(r.Context(), "SubmitFailed", nil)})
		return
	}
	for _, m := range errorMappings {
		if !errors.Is(err, m.err) {
			continue
		}
		msg := appI18n.Localize(r.Context(), m.msgID, nil)
		if m.msgID == "MalformedDefinition" {
			msg = appI18n.Localize(r.Context(), m.msgID, map[string]any{"Detail": err.Error()})
		}
		writeJSON(w, m.status, apiError{Error: err.Error(), Message: msg})
		return
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal error", Message: appI18n.Localize(r.Context(), "InternalError", nil)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, errors.Join(errBadRequest, err)
	}
	return id, nil
}

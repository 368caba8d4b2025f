package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pavelanni/essayexam/internal/exam"
	appI18n "github.com/pavelanni/essayexam/internal/i18n"
	"github.com/pavelanni/essayexam/internal/model"
	"github.com/pavelanni/essayexam/internal/report"
	"github.com/pavelanni/essayexam/internal/store"
	"github.com/pavelanni/essayexam/internal/validate"
)

var (
	errBadRequest  = errors.New("bad request")
	errInvalidTime = errors.New("invalid time")
	errForbidden   = errors.New("forbidden")
	errLogin       = errors.New("login required")
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	exam     *exam.Service
	config   model.Config
	upgrader websocket.Upgrader
}

// New creates a new Handler.
func New(s *store.Store, svc *exam.Service, cfg model.Config) (*Handler, error) {
	if len(cfg.SessionSecret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	return &Handler{
		store:    s,
		exam:     svc,
		config:   cfg,
		upgrader: buildUpgrader(cfg.AllowedOrigins),
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/me", h.handleMe)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/questions", h.handleListQuestions)
				r.Post("/questions", h.handleUploadQuestions)
				r.Get("/schedule", h.handleGetSchedule)
				r.Put("/schedule", h.handleSetSchedule)
				r.Get("/students", h.handleListStudents)
				r.Post("/students", h.handleRegisterStudent)
				r.Get("/results", h.handleListResults)
				r.Get("/results/export", h.handleExportResults)
				r.Get("/results/{sessionID}", h.handleGetResult)
			})

			r.Route("/exam", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleStudent))
				r.Get("/status", h.handleExamStatus)
				r.Post("/enter", h.handleEnterExam)
				r.Get("/{sessionID}", h.handleExamView)
				r.Put("/{sessionID}/position", h.handleNavigate)
				r.Put("/{sessionID}/answers/{index}", h.handleAnswer)
				r.Post("/{sessionID}/submit", h.handleSubmit)
				r.Get("/{sessionID}/ws", h.handleExamWS)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"app":    appI18n.T(r.Context(), "AppTitle"),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeError maps err to a status code and a localized message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var ve *validate.Error
	status, msgID := http.StatusInternalServerError, "ErrInternal"
	var data map[string]any

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:  appI18n.Td(ctx, "ErrValidation", map[string]any{"Detail": ve.Error()}),
			Fields: ve.Fields,
		})
		return
	case errors.Is(err, errBadRequest):
		status, msgID = http.StatusBadRequest, "ErrInvalidRequest"
	case errors.Is(err, errInvalidTime):
		status, msgID = http.StatusBadRequest, "ErrInvalidTime"
	case errors.Is(err, errLogin):
		status, msgID = http.StatusUnauthorized, "ErrLoginRequired"
	case errors.Is(err, errForbidden):
		status, msgID = http.StatusForbidden, "ErrForbidden"
	case errors.Is(err, store.ErrEmptyCredentials):
		status, msgID = http.StatusBadRequest, "ErrEmptyCredentials"
	case errors.Is(err, store.ErrInvalidCredentials):
		status, msgID = http.StatusUnauthorized, "ErrInvalidCredentials"
	case errors.Is(err, store.ErrDuplicateID):
		status, msgID = http.StatusConflict, "ErrDuplicateNISN"
	case errors.Is(err, exam.ErrInvalidQuestionBank):
		status, msgID = http.StatusBadRequest, "ErrInvalidQuestionBank"
		data = map[string]any{"Detail": err.Error()}
	case errors.Is(err, exam.ErrInvalidSchedule):
		status, msgID = http.StatusBadRequest, "ErrInvalidSchedule"
	case errors.Is(err, exam.ErrNoQuestions):
		status, msgID = http.StatusConflict, "ErrNoQuestions"
	case errors.Is(err, exam.ErrNoSchedule):
		status, msgID = http.StatusNotFound, "ErrNoSchedule"
	case errors.Is(err, exam.ErrExamNotOpen):
		status, msgID = http.StatusConflict, "ErrExamNotOpen"
	case errors.Is(err, exam.ErrExamClosed):
		status, msgID = http.StatusConflict, "ErrExamClosed"
	case errors.Is(err, exam.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		status, msgID = http.StatusNotFound, "ErrSessionNotFound"
	case errors.Is(err, exam.ErrOutOfRange):
		status, msgID = http.StatusBadRequest, "ErrOutOfRange"
	case errors.Is(err, exam.ErrSubmissionStarted):
		status, msgID = http.StatusConflict, "ErrSubmissionStarted"
	case errors.Is(err, report.ErrUnknownFormat):
		status, msgID = http.StatusBadRequest, "ErrUnknownFormat"
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	msg := appI18n.T(ctx, msgID)
	if data != nil {
		msg = appI18n.Td(ctx, msgID, data)
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON decodes the request body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errBadRequest
	}
	return validate.Struct(v)
}

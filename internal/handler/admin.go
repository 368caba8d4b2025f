package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/essayexam/internal/i18n"
	"github.com/pavelanni/essayexam/internal/model"
	"github.com/pavelanni/essayexam/internal/report"
)

const maxUploadSize = 10 << 20

// localTimeLayout is what datetime-local form inputs submit.
const localTimeLayout = "2006-01-02T15:04"

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.exam.Questions()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

// handleUploadQuestions accepts the bank as a JSON body or as the
// questions_file field of a multipart form.
func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var data []byte
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		data, err = readUploadedFile(r, "questions_file")
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		slog.Warn("failed to read question upload", "error", err)
		writeError(w, r, errBadRequest)
		return
	}

	questions, err := h.exam.UploadQuestions(data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(questions),
		"message":   appI18n.Tp(r.Context(), "QuestionsUploaded", len(questions)),
		"questions": questions,
	})
}

func readUploadedFile(r *http.Request, field string) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (h *Handler) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	status, err := h.exam.Status("")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type scheduleRequest struct {
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

func (h *Handler) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	start, err := parseTime(req.Start, h.location())
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseTime(req.End, h.location())
	if err != nil {
		writeError(w, r, err)
		return
	}

	sched, err := h.exam.ConfigureSchedule(start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schedule": sched,
		"message":  appI18n.Td(r.Context(), "ScheduleSaved", map[string]any{"Subject": sched.Subject}),
	})
}

func (h *Handler) location() *time.Location {
	if h.config.Location != nil {
		return h.config.Location
	}
	return time.Local
}

// parseTime accepts RFC 3339, or a zone-less local time in loc.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(localTimeLayout, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", errInvalidTime, s)
}

func (h *Handler) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.ListStudents()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if students == nil {
		students = []model.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"students": students})
}

type registerRequest struct {
	Name string `json:"name" validate:"required"`
	NISN string `json:"nisn" validate:"required,numeric"`
}

func (h *Handler) handleRegisterStudent(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.store.RegisterStudent(strings.TrimSpace(req.Name), req.NISN)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"student": user,
		"message": appI18n.Td(r.Context(), "StudentRegistered", map[string]any{"Name": user.DisplayName}),
	})
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.store.ListResults()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.NewExamExport(results, h.exam.Now()))
}

// handleGetResult returns one recorded result with per-question scores and
// feedback.
func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.store.GetResultBySession(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleExportResults(w http.ResponseWriter, r *http.Request) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := h.store.ListResults()
	if err != nil {
		writeError(w, r, err)
		return
	}
	exp := model.NewExamExport(results, h.exam.Now().In(h.location()))
	for i := range exp.Results {
		exp.Results[i].SubmittedAt = exp.Results[i].SubmittedAt.In(h.location())
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename()))
	if err := report.Write(w, format, exp, reportLabels(r)); err != nil {
		slog.Error("export failed", "format", format, "error", err)
	}
}

func reportLabels(r *http.Request) report.Labels {
	ctx := r.Context()
	return report.Labels{
		Title:       appI18n.T(ctx, "ReportTitle"),
		No:          appI18n.T(ctx, "ColNo"),
		Name:        appI18n.T(ctx, "ColName"),
		NISN:        appI18n.T(ctx, "ColNISN"),
		Subject:     appI18n.T(ctx, "ColSubject"),
		Score:       appI18n.T(ctx, "ColScore"),
		Submitted:   appI18n.T(ctx, "ColSubmitted"),
		Average:     appI18n.T(ctx, "Average"),
		GeneratedAt: appI18n.T(ctx, "GeneratedAt"),
		SheetName:   report.DefaultLabels.SheetName,
	}
}

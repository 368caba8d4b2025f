package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/essayexam/internal/exam"
	appI18n "github.com/pavelanni/essayexam/internal/i18n"
	"github.com/pavelanni/essayexam/internal/model"
)

func (h *Handler) handleExamStatus(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	status, err := h.exam.Status(user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleEnterExam(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	sess, err := h.exam.Enter(*user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// sessionFor returns the session named in the URL if it belongs to the
// requesting student.
func (h *Handler) sessionFor(r *http.Request) (*exam.Session, error) {
	user := model.UserFromContext(r.Context())
	sess, err := h.exam.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		return nil, err
	}
	if sess.Student.ID != user.ID {
		return nil, exam.ErrSessionNotFound
	}
	return sess, nil
}

func (h *Handler) handleExamView(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

type navigateRequest struct {
	Index *int `json:"index" validate:"required"`
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req navigateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := sess.Navigate(*req.Index); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, exam.ErrOutOfRange)
		return
	}
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := sess.AnswerAt(index, req.Answer); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleSubmit submits the session. If a submission is already under way,
// from the timer or another request, it waits for that one instead.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := sess.Submit(r.Context())
	if errors.Is(err, exam.ErrSubmissionStarted) {
		result, err = sess.Wait(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"score":   result.Score,
		"message": appI18n.Td(r.Context(), "ExamSubmitted", map[string]any{"Score": strconv.FormatFloat(result.Score, 'f', 2, 64)}),
		"session": sess.View(),
	})
}

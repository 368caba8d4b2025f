package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/essayexam/internal/model"
)

var (
	// ErrSubmissionStarted is returned by mutations once a session is being
	// submitted or has completed. A second submit gets it too and is a no-op.
	ErrSubmissionStarted = errors.New("submission already started")
	// ErrOutOfRange is returned for a question index outside the session.
	ErrOutOfRange = errors.New("question index out of range")
)

// State is the submission state of a session.
type State string

const (
	StateActive     State = "active"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
)

// urgentThreshold is when the countdown is shown as urgent.
const urgentThreshold = 5 * time.Minute

// Session is one student's attempt at the current exam.
type Session struct {
	ID       string
	Student  model.User
	Schedule model.ExamSchedule

	svc  *Service
	done chan struct{}

	mu        sync.Mutex
	questions []model.Question
	answers   []string
	position  int
	state     State
	result    *model.StudentResult
}

func newSession(svc *Service, student model.User, sched model.ExamSchedule, questions []model.Question) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Student:   student,
		Schedule:  sched,
		svc:       svc,
		done:      make(chan struct{}),
		questions: questions,
		answers:   make([]string, len(questions)),
		state:     StateActive,
	}
}

// State returns the submission state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Questions returns the session's question order.
func (s *Session) Questions() []model.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// Answers returns a copy of the answer slots in session order.
func (s *Session) Answers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.answers))
	copy(out, s.answers)
	return out
}

// Position returns the current question index.
func (s *Session) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Navigate moves to question i.
func (s *Session) Navigate(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return ErrSubmissionStarted
	}
	if i < 0 || i >= len(s.questions) {
		return ErrOutOfRange
	}
	s.position = i
	return nil
}

// Answer overwrites the answer at the current position.
func (s *Session) Answer(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAnswer(s.position, text)
}

// AnswerAt moves to question i and overwrites its answer.
func (s *Session) AnswerAt(i int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setAnswer(i, text); err != nil {
		return err
	}
	s.position = i
	return nil
}

func (s *Session) setAnswer(i int, text string) error {
	if s.state != StateActive {
		return ErrSubmissionStarted
	}
	if i < 0 || i >= len(s.answers) {
		return ErrOutOfRange
	}
	s.answers[i] = text
	return nil
}

// Remaining returns the time left in the session at now, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	return Remaining(s.Schedule.End, now)
}

// Remaining returns max(0, end-now).
func Remaining(end, now time.Time) time.Duration {
	d := end.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// FormatCountdown renders d as hh:mm:ss, truncating sub-second remainders.
// Hours are not wrapped at 24.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int64(d / time.Hour)
	m := int64(d%time.Hour) / int64(time.Minute)
	sec := int64(d%time.Minute) / int64(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

// IsUrgent reports whether a positive remaining time is under five minutes.
func IsUrgent(d time.Duration) bool {
	return d > 0 && d < urgentThreshold
}

// Tick checks the deadline at the service clock's now and submits the
// session once time is up. It reports whether this call performed the
// submission.
func (s *Session) Tick(ctx context.Context) bool {
	if s.Remaining(s.svc.opts.Now()) > 0 {
		return false
	}
	if s.State() != StateActive {
		return false
	}
	_, err := s.Submit(ctx)
	return err == nil
}

func (s *Session) run(ctx context.Context) {
	ticker := time.NewTicker(s.svc.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if s.Tick(ctx) {
				slog.Info("exam session auto-submitted", "session", s.ID, "student", s.Student.ID)
			}
		}
	}
}

// Submit freezes the answers, grades them and records the result. Only the
// first call proceeds; concurrent or later calls return ErrSubmissionStarted.
// Grading is not cancelled by ctx.
func (s *Session) Submit(ctx context.Context) (*model.StudentResult, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil, ErrSubmissionStarted
	}
	s.state = StateSubmitting
	frozen := freezeAnswers(s.questions, s.answers)
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	score := s.svc.gradeAll(ctx, s.ID, frozen)

	result := model.StudentResult{
		SessionID:   s.ID,
		StudentName: s.Student.DisplayName,
		StudentNISN: s.Student.NISN,
		Subject:     s.Schedule.Subject,
		Score:       score,
		SubmittedAt: s.svc.opts.Now(),
		Answers:     frozen,
	}
	id, err := s.svc.store.AppendResult(result)
	if err != nil {
		slog.Error("failed to record result", "session", s.ID, "student", s.Student.ID, "error", err)
	}
	result.ID = id

	s.mu.Lock()
	s.state = StateCompleted
	s.result = &result
	s.mu.Unlock()
	close(s.done)

	slog.Info("exam session submitted", "session", s.ID, "student", s.Student.ID,
		"score", score, "questions", len(frozen))
	return &result, nil
}

// Done is closed when the session has completed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the recorded result, or nil before completion.
func (s *Session) Result() *model.StudentResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Wait blocks until the session completes or ctx is done.
func (s *Session) Wait(ctx context.Context) (*model.StudentResult, error) {
	select {
	case <-s.done:
		return s.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// QuestionView is a question as shown to the student.
type QuestionView struct {
	Index    int    `json:"index"`
	Subject  string `json:"subject"`
	Prompt   string `json:"prompt"`
	Answer   string `json:"answer"`
	Answered bool   `json:"answered"`
}

// View is a point-in-time snapshot of a session for the student.
type View struct {
	ID               string               `json:"id"`
	State            State                `json:"state"`
	Subject          string               `json:"subject"`
	Position         int                  `json:"position"`
	Total            int                  `json:"total"`
	Questions        []QuestionView       `json:"questions"`
	EndsAt           time.Time            `json:"ends_at"`
	RemainingSeconds int64                `json:"remaining_seconds"`
	Countdown        string               `json:"countdown"`
	Urgent           bool                 `json:"urgent"`
	Score            *float64             `json:"score,omitempty"`
	Result           *model.StudentResult `json:"-"`
}

// View returns a snapshot at the service clock's now. Reference answers are
// not included.
func (s *Session) View() View {
	remaining := s.Remaining(s.svc.opts.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:               s.ID,
		State:            s.state,
		Subject:          s.Schedule.Subject,
		Position:         s.position,
		Total:            len(s.questions),
		Questions:        make([]QuestionView, len(s.questions)),
		EndsAt:           s.Schedule.End,
		RemainingSeconds: int64(remaining / time.Second),
		Countdown:        FormatCountdown(remaining),
		Urgent:           IsUrgent(remaining),
		Result:           s.result,
	}
	for i, q := range s.questions {
		v.Questions[i] = QuestionView{
			Index:    i,
			Subject:  q.Subject,
			Prompt:   q.Prompt,
			Answer:   s.answers[i],
			Answered: strings.TrimSpace(s.answers[i]) != "",
		}
	}
	if s.result != nil {
		score := s.result.Score
		v.Score = &score
	}
	return v
}

func freezeAnswers(questions []model.Question, answers []string) []model.StudentAnswer {
	out := make([]model.StudentAnswer, len(questions))
	for i, q := range questions {
		text := answers[i]
		if strings.TrimSpace(text) == "" {
			text = model.UnansweredText
		}
		out[i] = model.StudentAnswer{Question: q, Answer: text}
	}
	return out
}

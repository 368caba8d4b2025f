// Package exam runs the exam lifecycle: the question bank and schedule
// configured by administrators, and the timed sessions students take against
// them.
package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/essayexam/internal/model"
)

var (
	// ErrInvalidQuestionBank is returned when an uploaded bank is malformed.
	ErrInvalidQuestionBank = errors.New("invalid question bank")
	// ErrInvalidSchedule is returned when start is not strictly before end.
	ErrInvalidSchedule = errors.New("exam start must be before exam end")
	// ErrNoQuestions is returned when scheduling an exam with an empty bank.
	ErrNoQuestions = errors.New("no questions uploaded")
	// ErrNoSchedule is returned when no exam has been configured.
	ErrNoSchedule = errors.New("no exam scheduled")
	// ErrExamNotOpen is returned when entering before the window opens.
	ErrExamNotOpen = errors.New("exam has not started")
	// ErrExamClosed is returned when entering after the window closed.
	ErrExamClosed = errors.New("exam has ended")
	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("exam session not found")
)

// Store is the persistent state the exam lifecycle reads and mutates.
type Store interface {
	ReplaceQuestions(questions []model.Question) error
	ListQuestions() ([]model.Question, error)
	SetSchedule(s model.ExamSchedule) error
	GetSchedule() (*model.ExamSchedule, error)
	AppendResult(r model.StudentResult) (int64, error)
}

// Grader scores one answer to one question.
type Grader interface {
	Grade(ctx context.Context, q model.Question, answer string) (model.Grade, error)
}

// Phase is the exam lifecycle derived from the schedule and the clock.
type Phase string

const (
	PhaseConfiguring Phase = "configuring"
	PhaseIdle        Phase = "idle"
	PhaseActive      Phase = "active"
	PhaseClosed      Phase = "closed"
)

// PhaseAt returns the phase of sched at now. The window is [Start, End).
func PhaseAt(sched *model.ExamSchedule, now time.Time) Phase {
	switch {
	case sched == nil:
		return PhaseConfiguring
	case now.Before(sched.Start):
		return PhaseIdle
	case now.Before(sched.End):
		return PhaseActive
	default:
		return PhaseClosed
	}
}

// Options tunes a Service.
type Options struct {
	// TickInterval is how often running sessions re-check their deadline.
	TickInterval time.Duration
	// GradeTimeout bounds each grading call.
	GradeTimeout time.Duration
	// GradeConcurrency caps in-flight grading calls per submission; 0 means no cap.
	GradeConcurrency int
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.TickInterval <= 0 || o.TickInterval > time.Second {
		o.TickInterval = time.Second
	}
	if o.GradeTimeout <= 0 {
		o.GradeTimeout = 60 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Service owns the question bank, the schedule and every student session.
type Service struct {
	store  Store
	grader Grader
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sessions  map[string]*Session
	byStudent map[string]*Session
}

// New creates a Service. Close stops the session timers.
func New(st Store, grader Grader, opts Options) *Service {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     st,
		grader:    grader,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
		byStudent: make(map[string]*Session),
	}
}

// Close stops all session timers. Submissions already in flight complete.
func (s *Service) Close() {
	s.cancel()
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.opts.Now()
}

// UploadQuestions parses a question bank and replaces the current one.
// Nothing is stored unless every record is valid.
func (s *Service) UploadQuestions(data []byte) ([]model.Question, error) {
	questions, err := ParseQuestionBank(data)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceQuestions(questions); err != nil {
		return nil, fmt.Errorf("store questions: %w", err)
	}
	slog.Info("question bank replaced", "count", len(questions))
	return questions, nil
}

// Questions returns the current bank.
func (s *Service) Questions() ([]model.Question, error) {
	return s.store.ListQuestions()
}

// ConfigureSchedule replaces the exam window. The subject is taken from the
// first question of the bank.
func (s *Service) ConfigureSchedule(start, end time.Time) (*model.ExamSchedule, error) {
	if !start.Before(end) {
		return nil, ErrInvalidSchedule
	}
	questions, err := s.store.ListQuestions()
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	subject := questions[0].Subject
	if subject == "" {
		subject = model.DefaultSubject
	}
	sched := model.ExamSchedule{
		ID:      uuid.NewString(),
		Start:   start,
		End:     end,
		Subject: subject,
	}
	if err := s.store.SetSchedule(sched); err != nil {
		return nil, fmt.Errorf("store schedule: %w", err)
	}
	slog.Info("exam scheduled", "id", sched.ID, "subject", subject, "start", start, "end", end)
	return &sched, nil
}

// Schedule returns the current exam window, or nil if none is configured.
func (s *Service) Schedule() (*model.ExamSchedule, error) {
	return s.store.GetSchedule()
}

// Status is the dashboard view of the exam for one user.
type Status struct {
	Phase         Phase               `json:"phase"`
	Schedule      *model.ExamSchedule `json:"schedule,omitempty"`
	QuestionCount int                 `json:"question_count"`
	// RemainingSeconds counts down to the next boundary: the start while idle,
	// the end while active.
	RemainingSeconds int64  `json:"remaining_seconds"`
	Countdown        string `json:"countdown"`
	Urgent           bool   `json:"urgent"`
	SessionID        string `json:"session_id,omitempty"`
	SessionState     State  `json:"session_state,omitempty"`
}

// Status reports the exam phase and, when studentID has entered the current
// exam, that student's session.
func (s *Service) Status(studentID string) (Status, error) {
	sched, err := s.store.GetSchedule()
	if err != nil {
		return Status{}, err
	}
	questions, err := s.store.ListQuestions()
	if err != nil {
		return Status{}, err
	}
	now := s.opts.Now()
	st := Status{
		Phase:         PhaseAt(sched, now),
		Schedule:      sched,
		QuestionCount: len(questions),
	}
	var remaining time.Duration
	switch st.Phase {
	case PhaseIdle:
		remaining = sched.Start.Sub(now)
	case PhaseActive:
		remaining = Remaining(sched.End, now)
		st.Urgent = IsUrgent(remaining)
	}
	st.RemainingSeconds = int64(remaining / time.Second)
	st.Countdown = FormatCountdown(remaining)

	if sched != nil && studentID != "" {
		s.mu.Lock()
		sess := s.byStudent[sessionKey(sched.ID, studentID)]
		s.mu.Unlock()
		if sess != nil {
			st.SessionID = sess.ID
			st.SessionState = sess.State()
		}
	}
	return st, nil
}

// Enter starts the student's session for the current exam, or returns the
// one already started. A new session takes a shuffled snapshot of the bank.
func (s *Service) Enter(student model.User) (*Session, error) {
	sched, err := s.store.GetSchedule()
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, ErrNoSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(sched.ID, student.ID)
	if sess, ok := s.byStudent[key]; ok {
		return sess, nil
	}

	switch PhaseAt(sched, s.opts.Now()) {
	case PhaseIdle:
		return nil, ErrExamNotOpen
	case PhaseClosed:
		return nil, ErrExamClosed
	}

	questions, err := s.store.ListQuestions()
	if err != nil {
		return nil, err
	}
	rand.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})

	sess := newSession(s, student, *sched, questions)
	s.sessions[sess.ID] = sess
	s.byStudent[key] = sess
	go sess.run(s.ctx)

	slog.Info("exam session started", "session", sess.ID, "student", student.ID, "questions", len(questions))
	return sess, nil
}

// Session returns a session by ID.
func (s *Service) Session(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func sessionKey(scheduleID, studentID string) string {
	return scheduleID + "/" + studentID
}

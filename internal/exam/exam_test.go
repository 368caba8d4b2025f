package exam

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/essayexam/internal/model"
	"github.com/pavelanni/essayexam/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// fakeGrader scores by prompt and fails for prompts listed in fail.
type fakeGrader struct {
	scores map[string]float64
	fail   map[string]bool
	delay  time.Duration

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (g *fakeGrader) Grade(ctx context.Context, q model.Question, answer string) (model.Grade, error) {
	g.calls.Add(1)
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxSeen.Load()
		if n <= m || g.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.fail[q.Prompt] {
		return model.Grade{}, errors.New("gateway unavailable")
	}
	return model.Grade{Score: g.scores[q.Prompt], Feedback: "ok: " + answer}, nil
}

var (
	examStart = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	examEnd   = examStart.Add(90 * time.Minute)
)

const sampleBank = `[
  {"mata_pelajaran": "Sejarah", "soal": "Q1", "kunci_jawaban": "K1"},
  {"mata_pelajaran": "Sejarah", "soal": "Q2"},
  {"mata_pelajaran": "Sejarah", "soal": "Q3"}
]`

type fixture struct {
	svc    *Service
	store  *store.Store
	clock  *fakeClock
	grader *fakeGrader
}

func newFixture(t *testing.T, bank string) *fixture {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := &fakeClock{t: examStart.Add(-time.Hour)}
	grader := &fakeGrader{scores: map[string]float64{"Q1": 80, "Q2": 60, "Q3": 100}}
	svc := New(st, grader, Options{Now: clock.Now, TickInterval: 10 * time.Millisecond})
	t.Cleanup(svc.Close)

	if bank != "" {
		_, err := svc.UploadQuestions([]byte(bank))
		require.NoError(t, err)
	}
	return &fixture{svc: svc, store: st, clock: clock, grader: grader}
}

// enter schedules the standard window, opens it and enters as student.
func (f *fixture) enter(t *testing.T) *Session {
	t.Helper()
	_, err := f.svc.ConfigureSchedule(examStart, examEnd)
	require.NoError(t, err)
	f.clock.Set(examStart.Add(10 * time.Minute))
	sess, err := f.svc.Enter(model.User{ID: "123456789", DisplayName: "Budi Santoso", NISN: "123456789", Role: model.UserRoleStudent})
	require.NoError(t, err)
	return sess
}

func TestParseQuestionBank(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"valid", sampleBank, 3, false},
		{"empty array", `[]`, 0, false},
		{"object instead of array", `{"soal": "Q1"}`, 0, true},
		{"not json", `soal: Q1`, 0, true},
		{"missing prompt", `[{"mata_pelajaran": "Sejarah"}]`, 0, true},
		{"blank subject", `[{"mata_pelajaran": "  ", "soal": "Q1"}]`, 0, true},
		{"one bad record rejects all", `[{"mata_pelajaran": "A", "soal": "Q1"}, {"soal": "Q2"}]`, 0, true},
		{"record not an object", `["Q1"]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQuestionBank([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidQuestionBank)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestParseQuestionBankFields(t *testing.T) {
	got, err := ParseQuestionBank([]byte(sampleBank))
	require.NoError(t, err)
	assert.Equal(t, model.Question{Subject: "Sejarah", Prompt: "Q1", ReferenceAnswer: "K1"}, got[0])
	assert.Empty(t, got[1].ReferenceAnswer)
}

func TestUploadRejectedKeepsBank(t *testing.T) {
	f := newFixture(t, sampleBank)
	_, err := f.svc.UploadQuestions([]byte(`[{"soal": "only prompt"}]`))
	require.ErrorIs(t, err, ErrInvalidQuestionBank)

	questions, err := f.svc.Questions()
	require.NoError(t, err)
	assert.Len(t, questions, 3)
}

func TestConfigureSchedule(t *testing.T) {
	t.Run("no questions", func(t *testing.T) {
		f := newFixture(t, "")
		_, err := f.svc.ConfigureSchedule(examStart, examEnd)
		assert.ErrorIs(t, err, ErrNoQuestions)
	})

	t.Run("valid window is retrievable", func(t *testing.T) {
		f := newFixture(t, sampleBank)
		sched, err := f.svc.ConfigureSchedule(examStart, examEnd)
		require.NoError(t, err)
		assert.Equal(t, "Sejarah", sched.Subject)
		assert.NotEmpty(t, sched.ID)

		got, err := f.svc.Schedule()
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sched.ID, got.ID)
		assert.True(t, got.Start.Equal(examStart))
		assert.True(t, got.End.Equal(examEnd))
	})

	t.Run("start not before end keeps prior schedule", func(t *testing.T) {
		f := newFixture(t, sampleBank)
		prior, err := f.svc.ConfigureSchedule(examStart, examEnd)
		require.NoError(t, err)

		for _, end := range []time.Time{examStart, examStart.Add(-time.Minute)} {
			_, err := f.svc.ConfigureSchedule(examStart, end)
			assert.ErrorIs(t, err, ErrInvalidSchedule)
		}
		got, err := f.svc.Schedule()
		require.NoError(t, err)
		assert.Equal(t, prior.ID, got.ID)
	})

	t.Run("blank subject uses default", func(t *testing.T) {
		f := newFixture(t, "")
		require.NoError(t, f.store.ReplaceQuestions([]model.Question{{Prompt: "Q1"}}))
		sched, err := f.svc.ConfigureSchedule(examStart, examEnd)
		require.NoError(t, err)
		assert.Equal(t, model.DefaultSubject, sched.Subject)
	})
}

func TestPhaseAt(t *testing.T) {
	sched := &model.ExamSchedule{Start: examStart, End: examEnd}
	assert.Equal(t, PhaseConfiguring, PhaseAt(nil, examStart))
	assert.Equal(t, PhaseIdle, PhaseAt(sched, examStart.Add(-time.Second)))
	assert.Equal(t, PhaseActive, PhaseAt(sched, examStart))
	assert.Equal(t, PhaseActive, PhaseAt(sched, examEnd.Add(-time.Nanosecond)))
	assert.Equal(t, PhaseClosed, PhaseAt(sched, examEnd))
}

func TestEnter(t *testing.T) {
	student := model.User{ID: "123456789", DisplayName: "Budi Santoso", Role: model.UserRoleStudent}

	t.Run("no schedule", func(t *testing.T) {
		f := newFixture(t, sampleBank)
		_, err := f.svc.Enter(student)
		assert.ErrorIs(t, err, ErrNoSchedule)
	})

	t.Run("before start and after end", func(t *testing.T) {
		f := newFixture(t, sampleBank)
		_, err := f.svc.ConfigureSchedule(examStart, examEnd)
		require.NoError(t, err)

		_, err = f.svc.Enter(student)
		assert.ErrorIs(t, err, ErrExamNotOpen)

		f.clock.Set(examEnd)
		_, err = f.svc.Enter(student)
		assert.ErrorIs(t, err, ErrExamClosed)
	})

	t.Run("re-entry returns the same session", func(t *testing.T) {
		f := newFixture(t, sampleBank)
		sess := f.enter(t)
		again, err := f.svc.Enter(student)
		require.NoError(t, err)
		assert.Same(t, sess, again)

		byID, err := f.svc.Session(sess.ID)
		require.NoError(t, err)
		assert.Same(t, sess, byID)

		_, err = f.svc.Session("missing")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestSessionOrderIsStablePermutation(t *testing.T) {
	f := newFixture(t, sampleBank)
	sess := f.enter(t)

	bank, err := f.svc.Questions()
	require.NoError(t, err)
	first := sess.Questions()
	assert.ElementsMatch(t, bank, first)
	for range 5 {
		assert.Equal(t, first, sess.Questions())
	}

	// Reconfiguring the bank does not reach an entered session.
	_, err = f.svc.UploadQuestions([]byte(`[{"mata_pelajaran": "Biologi", "soal": "B1"}]`))
	require.NoError(t, err)
	assert.Equal(t, first, sess.Questions())
}

func TestNavigateAndAnswer(t *testing.T) {
	f := newFixture(t, sampleBank)
	sess := f.enter(t)

	require.NoError(t, sess.Navigate(2))
	assert.Equal(t, 2, sess.Position())
	require.NoError(t, sess.Answer("third"))
	require.NoError(t, sess.Navigate(0))
	require.NoError(t, sess.Answer("first"))
	require.NoError(t, sess.AnswerAt(1, "second"))
	assert.Equal(t, 1, sess.Position())
	assert.Equal(t, []string{"first", "second", "third"}, sess.Answers())

	// Overwriting one slot leaves the others alone.
	require.NoError(t, sess.AnswerAt(1, "changed"))
	assert.Equal(t, []string{"first", "changed", "third"}, sess.Answers())

	assert.ErrorIs(t, sess.Navigate(3), ErrOutOfRange)
	assert.ErrorIs(t, sess.Navigate(-1), ErrOutOfRange)
	assert.ErrorIs(t, sess.AnswerAt(5, "x"), ErrOutOfRange)
	assert.Equal(t, 1, sess.Position())
}

func TestSubmitGradesEveryQuestion(t *testing.T) {
	f := newFixture(t, sampleBank)
	f.grader.fail = map[string]bool{"Q3": true}
	sess := f.enter(t)

	for i, q := range sess.Questions() {
		if q.Prompt != "Q2" {
			require.NoError(t, sess.AnswerAt(i, "jawaban "+q.Prompt))
		}
	}

	result, err := sess.Submit(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.grader.calls.Load())
	// Q3 failed and falls back to 0.
	assert.InDelta(t, (80.0+60.0+0.0)/3, result.Score, 1e-9)
	assert.Equal(t, "Budi Santoso", result.StudentName)
	assert.Equal(t, "123456789", result.StudentNISN)
	assert.Equal(t, "Sejarah", result.Subject)
	assert.True(t, result.SubmittedAt.Equal(f.clock.Now()))

	require.Len(t, result.Answers, 3)
	for i, a := range result.Answers {
		assert.Equal(t, sess.Questions()[i], a.Question)
		switch a.Question.Prompt {
		case "Q2":
			assert.Equal(t, model.UnansweredText, a.Answer)
		case "Q3":
			assert.Zero(t, a.Score)
			assert.Equal(t, gradingFailedFeedback, a.Feedback)
		}
	}

	assert.Equal(t, StateCompleted, sess.State())
	assert.Same(t, result, sess.Result())
	select {
	case <-sess.Done():
	default:
		t.Fatal("Done not closed after submit")
	}

	results, err := f.store.ListResults()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, sess.ID, results[0].SessionID)
}

func TestSubmitZeroQuestions(t *testing.T) {
	f := newFixture(t, sampleBank)
	_, err := f.svc.ConfigureSchedule(examStart, examEnd)
	require.NoError(t, err)
	require.NoError(t, f.store.ReplaceQuestions(nil))
	f.clock.Set(examStart)

	sess, err := f.svc.Enter(model.User{ID: "1", DisplayName: "Ani"})
	require.NoError(t, err)
	assert.Empty(t, sess.Questions())
	assert.ErrorIs(t, sess.Answer("x"), ErrOutOfRange)

	result, err := sess.Submit(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Score)
	assert.Empty(t, result.Answers)
	assert.Zero(t, f.grader.calls.Load())
}

func TestSubmitAtMostOnce(t *testing.T) {
	f := newFixture(t, sampleBank)
	f.grader.delay = 5 * time.Millisecond
	sched, err := f.svc.ConfigureSchedule(examStart, examEnd)
	require.NoError(t, err)
	questions, err := f.svc.Questions()
	require.NoError(t, err)
	// No background timer, so every trigger below is counted.
	sess := newSession(f.svc, model.User{ID: "123456789", DisplayName: "Budi Santoso"}, *sched, questions)
	f.clock.Set(examEnd.Add(time.Second))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := sess.Submit(context.Background()); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrSubmissionStarted)
			}
		}()
		go func() {
			defer wg.Done()
			if sess.Tick(context.Background()) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	<-sess.Done()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 3, f.grader.calls.Load())
	count, err := f.store.ResultCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Ticking after completion does nothing.
	assert.False(t, sess.Tick(context.Background()))
	_, err = sess.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmissionStarted)
}

func TestFrozenAfterSubmit(t *testing.T) {
	f := newFixture(t, sampleBank)
	sess := f.enter(t)
	require.NoError(t, sess.AnswerAt(0, "before"))

	_, err := sess.Submit(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, sess.Navigate(1), ErrSubmissionStarted)
	assert.ErrorIs(t, sess.Answer("after"), ErrSubmissionStarted)
	assert.ErrorIs(t, sess.AnswerAt(2, "after"), ErrSubmissionStarted)
	assert.Equal(t, []string{"before", "", ""}, sess.Answers())
	assert.Equal(t, 0, sess.Position())
}

func TestTickBeforeDeadline(t *testing.T) {
	f := newFixture(t, sampleBank)
	sess := f.enter(t)
	assert.False(t, sess.Tick(context.Background()))
	assert.Equal(t, StateActive, sess.State())
}

func TestAutoSubmitOnExpiry(t *testing.T) {
	f := newFixture(t, sampleBank)
	sess := f.enter(t)
	f.clock.Set(examEnd)

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session was not auto-submitted")
	}
	result, err := sess.Wait(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, result)
	assert.EqualValues(t, 3, f.grader.calls.Load())
}

func TestGradeConcurrencyLimit(t *testing.T) {
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	grader := &fakeGrader{delay: 10 * time.Millisecond}
	svc := New(st, grader, Options{GradeConcurrency: 2})
	t.Cleanup(svc.Close)

	answers := make([]model.StudentAnswer, 6)
	for i := range answers {
		answers[i] = model.StudentAnswer{Question: model.Question{Prompt: "Q"}, Answer: "a"}
	}
	svc.gradeAll(context.Background(), "limit", answers)
	assert.EqualValues(t, 6, grader.calls.Load())
	assert.LessOrEqual(t, grader.maxSeen.Load(), int32(2))
}

func TestRemaining(t *testing.T) {
	assert.Equal(t, 90*time.Minute, Remaining(examEnd, examStart))
	assert.Zero(t, Remaining(examEnd, examEnd))
	assert.Zero(t, Remaining(examEnd, examEnd.Add(time.Hour)))
}

func TestFormatCountdown(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Minute, "00:00:00"},
		{999 * time.Millisecond, "00:00:00"},
		{1500 * time.Millisecond, "00:00:01"},
		{59*time.Minute + 59*time.Second + 999*time.Millisecond, "00:59:59"},
		{90 * time.Minute, "01:30:00"},
		{25*time.Hour + 2*time.Second, "25:00:02"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatCountdown(tt.d), tt.d.String())
	}
}

func TestIsUrgent(t *testing.T) {
	assert.False(t, IsUrgent(0))
	assert.True(t, IsUrgent(time.Second))
	assert.True(t, IsUrgent(5*time.Minute-time.Millisecond))
	assert.False(t, IsUrgent(5*time.Minute))
}

func TestClampScore(t *testing.T) {
	assert.Zero(t, ClampScore(-5))
	assert.Equal(t, 100.0, ClampScore(150))
	assert.Equal(t, 42.5, ClampScore(42.5))
}

func TestStatus(t *testing.T) {
	f := newFixture(t, sampleBank)

	st, err := f.svc.Status("")
	require.NoError(t, err)
	assert.Equal(t, PhaseConfiguring, st.Phase)
	assert.Equal(t, 3, st.QuestionCount)

	_, err = f.svc.ConfigureSchedule(examStart, examEnd)
	require.NoError(t, err)
	st, err = f.svc.Status("123456789")
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, "01:00:00", st.Countdown)
	assert.Empty(t, st.SessionID)

	f.clock.Set(examEnd.Add(-2 * time.Minute))
	sess, err := f.svc.Enter(model.User{ID: "123456789", DisplayName: "Budi Santoso"})
	require.NoError(t, err)
	st, err = f.svc.Status("123456789")
	require.NoError(t, err)
	assert.Equal(t, PhaseActive, st.Phase)
	assert.True(t, st.Urgent)
	assert.EqualValues(t, 120, st.RemainingSeconds)
	assert.Equal(t, sess.ID, st.SessionID)
	assert.Equal(t, StateActive, st.SessionState)
}

func TestView(t *testing.T) {
	f := newFixture(t, sampleBank)
	sess := f.enter(t)
	require.NoError(t, sess.AnswerAt(1, "  "))

	v := sess.View()
	assert.Equal(t, 3, v.Total)
	assert.Equal(t, 1, v.Position)
	assert.Equal(t, "01:20:00", v.Countdown)
	assert.False(t, v.Questions[1].Answered)
	assert.Nil(t, v.Score)

	_, err := sess.Submit(context.Background())
	require.NoError(t, err)
	v = sess.View()
	assert.Equal(t, StateCompleted, v.State)
	require.NotNil(t, v.Score)
}

package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleAdmin manages the question bank, the schedule and students.
	UserRoleAdmin UserRole = "admin"
	// UserRoleStudent takes exams.
	UserRoleStudent UserRole = "student"
)

// User is a registered identity. Administrators authenticate with a password,
// students with their NISN.
type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Role         UserRole  `json:"role"`
	PasswordHash string    `json:"-"`
	NISN         string    `json:"nisn,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

const (
	// UnansweredText replaces blank answers when a session is frozen for grading.
	UnansweredText = "Tidak dijawab"
	// DefaultSubject labels a schedule when no question carries a subject.
	DefaultSubject = "Ujian Umum"
)

// Question is a single essay question of the bank.
type Question struct {
	ID              int64  `json:"id"`
	Subject         string `json:"subject"`
	Prompt          string `json:"prompt"`
	ReferenceAnswer string `json:"reference_answer,omitempty"`
}

// QuestionImport is one record of an uploaded question bank file.
type QuestionImport struct {
	Subject         string `json:"mata_pelajaran" validate:"required"`
	Prompt          string `json:"soal" validate:"required"`
	ReferenceAnswer string `json:"kunci_jawaban"`
}

// ExamSchedule is the configured exam window.
type ExamSchedule struct {
	ID      string    `json:"id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Subject string    `json:"subject"`
}

// Grade is the grading gateway's verdict on one answer.
type Grade struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// StudentAnswer is one frozen answer of a submitted session.
type StudentAnswer struct {
	Question Question `json:"question"`
	Answer   string   `json:"answer"`
	Score    float64  `json:"score"`
	Feedback string   `json:"feedback,omitempty"`
}

// StudentResult is a completed, graded attempt as recorded in the ledger.
type StudentResult struct {
	ID          int64           `json:"id"`
	SessionID   string          `json:"session_id"`
	StudentName string          `json:"student_name"`
	StudentNISN string          `json:"student_nisn"`
	Subject     string          `json:"subject"`
	Score       float64         `json:"score"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Answers     []StudentAnswer `json:"answers"`
}

// SubmissionTime renders the submission instant the way result tables show it.
func (r StudentResult) SubmissionTime() string {
	return FormatTimestamp(r.SubmittedAt)
}

// FormatTimestamp formats t as dd/mm/yyyy hh.mm.ss.
func FormatTimestamp(t time.Time) string {
	return t.Format("02/01/2006 15.04.05")
}

// Config holds runtime parameters set via CLI flags.
type Config struct {
	SessionSecret  []byte
	SessionTTL     time.Duration
	SecureCookies  bool
	AllowedOrigins []string
	Location       *time.Location
}

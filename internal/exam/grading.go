package exam

import (
	"context"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/essayexam/internal/model"
)

const gradingFailedFeedback = "Terjadi kesalahan saat menghubungi layanan penilaian AI."

// gradeAll grades every answer in place and returns the mean score. A failed
// call scores 0 and never affects its siblings.
func (s *Service) gradeAll(ctx context.Context, sessionID string, answers []model.StudentAnswer) float64 {
	var g errgroup.Group
	if s.opts.GradeConcurrency > 0 {
		g.SetLimit(s.opts.GradeConcurrency)
	}
	for i := range answers {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.opts.GradeTimeout)
			defer cancel()
			grade, err := s.grader.Grade(callCtx, answers[i].Question, answers[i].Answer)
			if err != nil {
				slog.Error("grading failed, scoring 0", "session_id", sessionID, "position", i, "error", err)
				answers[i].Score = 0
				answers[i].Feedback = gradingFailedFeedback
				return nil
			}
			answers[i].Score = ClampScore(grade.Score)
			answers[i].Feedback = grade.Feedback
			return nil
		})
	}
	_ = g.Wait()
	return MeanScore(answers)
}

// MeanScore is the arithmetic mean of the answer scores, 0 for no answers.
func MeanScore(answers []model.StudentAnswer) float64 {
	if len(answers) == 0 {
		return 0
	}
	var total float64
	for _, a := range answers {
		total += a.Score
	}
	return total / float64(len(answers))
}

// ClampScore limits a score to [0, 100]. NaN becomes 0.
func ClampScore(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

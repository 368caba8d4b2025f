package store

import (
	"fmt"

	"github.com/pavelanni/essayexam/internal/model"
)

// AppendResult records a completed attempt and its answers. It is the only
// mutator of the ledger; a session can be recorded once.
func (s *Store) AppendResult(r model.StudentResult) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM results WHERE session_id = ?`, r.SessionID).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, ErrAlreadyRecorded
	}

	res, err := tx.Exec(
		`INSERT INTO results (session_id, student_name, student_nisn, subject, score, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.StudentName, r.StudentNISN, r.Subject, r.Score, r.SubmittedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, a := range r.Answers {
		_, err := tx.Exec(
			`INSERT INTO result_answers (result_id, position, subject, prompt, reference_answer, answer, score, feedback)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, i, a.Question.Subject, a.Question.Prompt, a.Question.ReferenceAnswer, a.Answer, a.Score, a.Feedback,
		)
		if err != nil {
			return 0, fmt.Errorf("insert answer %d: %w", i, err)
		}
	}
	return id, tx.Commit()
}

// ListResults returns the full ledger in insertion order.
func (s *Store) ListResults() ([]model.StudentResult, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, student_name, student_nisn, subject, score, submitted_at
		 FROM results ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	var results []model.StudentResult
	index := make(map[int64]int)
	for rows.Next() {
		var r model.StudentResult
		if err := rows.Scan(&r.ID, &r.SessionID, &r.StudentName, &r.StudentNISN, &r.Subject, &r.Score, &r.SubmittedAt); err != nil {
			rows.Close()
			return nil, err
		}
		r.Answers = []model.StudentAnswer{}
		index[r.ID] = len(results)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// The store holds a single connection, so answers are read only after the
	// result rows are released.
	arows, err := s.db.Query(
		`SELECT result_id, subject, prompt, reference_answer, answer, score, feedback
		 FROM result_answers ORDER BY result_id, position`,
	)
	if err != nil {
		return nil, err
	}
	defer arows.Close()
	for arows.Next() {
		var resultID int64
		var a model.StudentAnswer
		if err := arows.Scan(&resultID, &a.Question.Subject, &a.Question.Prompt, &a.Question.ReferenceAnswer,
			&a.Answer, &a.Score, &a.Feedback); err != nil {
			return nil, err
		}
		if i, ok := index[resultID]; ok {
			results[i].Answers = append(results[i].Answers, a)
		}
	}
	return results, arows.Err()
}

// GetResultBySession returns the recorded result of a session.
func (s *Store) GetResultBySession(sessionID string) (*model.StudentResult, error) {
	results, err := s.ListResults()
	if err != nil {
		return nil, err
	}
	for i := range results {
		if results[i].SessionID == sessionID {
			return &results[i], nil
		}
	}
	return nil, ErrNotFound
}

// ResultCount returns the number of recorded results.
func (s *Store) ResultCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&count)
	return count, err
}

package store

import (
	"fmt"

	"github.com/pavelanni/essayexam/internal/model"
)

// ReplaceQuestions swaps the whole question bank in one transaction.
func (s *Store) ReplaceQuestions(questions []model.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM questions`); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}
	for i, q := range questions {
		_, err := tx.Exec(
			`INSERT INTO questions (position, subject, prompt, reference_answer) VALUES (?, ?, ?, ?)`,
			i, q.Subject, q.Prompt, q.ReferenceAnswer,
		)
		if err != nil {
			return fmt.Errorf("insert question %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ListQuestions returns the current bank in upload order.
func (s *Store) ListQuestions() ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, subject, prompt, reference_answer FROM questions ORDER BY position`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Subject, &q.Prompt, &q.ReferenceAnswer); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in the bank.
func (s *Store) QuestionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

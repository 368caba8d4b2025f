package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pavelanni/essayexam/internal/model"
)

const (
	metaScheduleID    = "schedule_id"
	metaScheduleStart = "schedule_start"
	metaScheduleEnd   = "schedule_end"
	metaSubject       = "subject"
)

// SetMetadata upserts a key-value pair in the exam_metadata table.
func (s *Store) SetMetadata(key, value string) error {
	return setMetadata(s.db, key, value)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func setMetadata(e execer, key, value string) error {
	_, err := e.Exec(
		`INSERT INTO exam_metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM exam_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetSchedule replaces the exam schedule. All fields are written in one
// transaction so readers never observe a half-updated window.
func (s *Store) SetSchedule(sched model.ExamSchedule) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pairs := []struct{ k, v string }{
		{metaScheduleID, sched.ID},
		{metaScheduleStart, sched.Start.Format(time.RFC3339Nano)},
		{metaScheduleEnd, sched.End.Format(time.RFC3339Nano)},
		{metaSubject, sched.Subject},
	}
	for _, p := range pairs {
		if err := setMetadata(tx, p.k, p.v); err != nil {
			return fmt.Errorf("set %s: %w", p.k, err)
		}
	}
	return tx.Commit()
}

// GetSchedule returns the configured schedule, or nil if none is set.
func (s *Store) GetSchedule() (*model.ExamSchedule, error) {
	rows, err := s.db.Query(`SELECT key, value FROM exam_metadata WHERE key IN (?, ?, ?, ?)`,
		metaScheduleID, metaScheduleStart, metaScheduleEnd, metaSubject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	values := make(map[string]string, 4)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if values[metaScheduleID] == "" {
		return nil, nil
	}

	sched := &model.ExamSchedule{
		ID:      values[metaScheduleID],
		Subject: values[metaSubject],
	}
	if sched.Start, err = time.Parse(time.RFC3339Nano, values[metaScheduleStart]); err != nil {
		return nil, fmt.Errorf("parse schedule start: %w", err)
	}
	if sched.End, err = time.Parse(time.RFC3339Nano, values[metaScheduleEnd]); err != nil {
		return nil, fmt.Errorf("parse schedule end: %w", err)
	}
	return sched, nil
}

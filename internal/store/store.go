package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned when registering an identifier that is already taken.
	ErrDuplicateID = errors.New("identifier already registered")
	// ErrEmptyCredentials is returned when a login is attempted with blank fields.
	ErrEmptyCredentials = errors.New("name and credential are required")
	// ErrInvalidCredentials is returned when no identity matches a login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAlreadyRecorded is returned when a session's result is appended twice.
	ErrAlreadyRecorded = errors.New("result already recorded for session")
)

// Store is the application state shared by administrator and student actions:
// identities, the question bank, the exam schedule and the result ledger.
type Store struct {
	db *sql.DB
}

// New opens the store. Use ":memory:" for process-lifetime state.
func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// An in-memory database exists only inside its connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		role TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		nisn TEXT UNIQUE,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position INTEGER NOT NULL,
		subject TEXT NOT NULL,
		prompt TEXT NOT NULL,
		reference_answer TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS exam_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		student_name TEXT NOT NULL,
		student_nisn TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		score REAL NOT NULL DEFAULT 0,
		submitted_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS result_answers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		result_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		subject TEXT NOT NULL,
		prompt TEXT NOT NULL,
		reference_answer TEXT NOT NULL DEFAULT '',
		answer TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (result_id) REFERENCES results(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

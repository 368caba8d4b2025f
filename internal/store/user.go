package store

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/essayexam/internal/model"
)

// CreateUser inserts a new user.
func (s *Store) CreateUser(u model.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, display_name, role, password_hash, nisn, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.DisplayName, u.Role, u.PasswordHash, nullString(u.NISN), time.Now(),
	)
	if err != nil {
		slog.Error("failed to create user", "id", u.ID, "error", err)
		return err
	}
	slog.Info("created user", "id", u.ID, "display_name", u.DisplayName, "role", u.Role)
	return nil
}

// RegisterStudent adds a student identified by NISN. A NISN that is already
// registered is rejected with ErrDuplicateID and nothing is written.
func (s *Store) RegisterStudent(name, nisn string) (*model.User, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var count int
	err = tx.QueryRow(`SELECT COUNT(*) FROM users WHERE nisn = ? OR id = ?`, nisn, nisn).Scan(&count)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrDuplicateID
	}

	u := model.User{
		ID:          nisn,
		DisplayName: name,
		Role:        model.UserRoleStudent,
		NISN:        nisn,
		CreatedAt:   time.Now(),
	}
	_, err = tx.Exec(
		`INSERT INTO users (id, display_name, role, password_hash, nisn, created_at)
		 VALUES (?, ?, ?, '', ?, ?)`,
		u.ID, u.DisplayName, u.Role, u.NISN, u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	slog.Info("registered student", "nisn", nisn, "display_name", name)
	return &u, nil
}

// Authenticate finds the identity whose display name matches name
// case-insensitively and whose role credential matches exactly: the password
// for administrators, the NISN for students.
func (s *Store) Authenticate(name, credential string) (*model.User, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(credential) == "" {
		return nil, ErrEmptyCredentials
	}
	users, err := s.ListUsers()
	if err != nil {
		return nil, err
	}
	for i := range users {
		u := &users[i]
		if !strings.EqualFold(u.DisplayName, name) {
			continue
		}
		switch u.Role {
		case model.UserRoleAdmin:
			if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(credential)) == nil {
				return u, nil
			}
		case model.UserRoleStudent:
			if u.NISN == credential {
				return u, nil
			}
		}
	}
	return nil, ErrInvalidCredentials
}

// GetUserByID returns a user by ID, or nil if there is none.
func (s *Store) GetUserByID(id string) (*model.User, error) {
	var u model.User
	var nisn sql.NullString
	err := s.db.QueryRow(
		`SELECT id, display_name, role, password_hash, nisn, created_at
		 FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.DisplayName, &u.Role, &u.PasswordHash, &nisn, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.NISN = nisn.String
	return &u, nil
}

// ListUsers returns all users in registration order.
func (s *Store) ListUsers() ([]model.User, error) {
	return s.listUsers(`SELECT id, display_name, role, password_hash, nisn, created_at
		FROM users ORDER BY rowid`)
}

// ListStudents returns all student identities in registration order.
func (s *Store) ListStudents() ([]model.User, error) {
	return s.listUsers(`SELECT id, display_name, role, password_hash, nisn, created_at
		FROM users WHERE role = 'student' ORDER BY rowid`)
}

func (s *Store) listUsers(query string) ([]model.User, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		var u model.User
		var nisn sql.NullString
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Role, &u.PasswordHash, &nisn, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.NISN = nisn.String
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserCount returns the total number of users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

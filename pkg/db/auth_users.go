package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmailTaken is returned when an account with the same email already exists.
var ErrEmailTaken = errors.New("user already registered")

// AuthUser is a local account used by the offline auth backend.
type AuthUser struct {
	ID           string
	Email        string
	PasswordHash string
	Metadata     map[string]string
}

// CreateAuthUser stores a new account.
func (r *Repository) CreateAuthUser(u *AuthUser) error {
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	query := `INSERT INTO auth_users (id, email, password_hash, metadata) VALUES (?, ?, ?, ?)`
	if _, err := r.db.Exec(query, u.ID, strings.ToLower(u.Email), u.PasswordHash, string(meta)); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create auth user: %w", err)
	}
	return nil
}

// GetAuthUserByEmail returns the account with email, or nil.
func (r *Repository) GetAuthUserByEmail(email string) (*AuthUser, error) {
	return r.getAuthUser(`SELECT id, email, password_hash, metadata FROM auth_users WHERE email = ?`, strings.ToLower(email))
}

// GetAuthUserByID returns the account with id, or nil.
func (r *Repository) GetAuthUserByID(id string) (*AuthUser, error) {
	return r.getAuthUser(`SELECT id, email, password_hash, metadata FROM auth_users WHERE id = ?`, id)
}

// UpdateAuthUser replaces the password hash and metadata of an account.
func (r *Repository) UpdateAuthUser(u *AuthUser) error {
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	query := `UPDATE auth_users SET password_hash = ?, metadata = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := r.db.Exec(query, u.PasswordHash, string(meta), u.ID); err != nil {
		return fmt.Errorf("failed to update auth user: %w", err)
	}
	return nil
}

func (r *Repository) getAuthUser(query string, arg string) (*AuthUser, error) {
	var u AuthUser
	var meta string
	err := r.db.QueryRow(query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get auth user: %w", err)
	}
	u.Metadata = map[string]string{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &u.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &u, nil
}

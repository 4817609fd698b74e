package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mklimuk/crm-pilot/pkg/db"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"golang.org/x/crypto/bcrypt"
)

const sessionTTL = 12 * time.Hour

// Auth is a local account store implementing session.Auth.
type Auth struct {
	session.Broadcaster

	repo *db.Repository
	now  func() time.Time
}

var _ session.Auth = (*Auth)(nil)

// NewAuth creates an Auth backed by the auth_users table.
func NewAuth(repo *db.Repository) *Auth {
	return &Auth{repo: repo, now: time.Now}
}

func (a *Auth) Current(_ context.Context) (*session.Session, error) {
	sess := a.Load()
	if sess != nil && !sess.ExpiresAt.IsZero() && a.now().After(sess.ExpiresAt) {
		a.Publish(nil)
		return nil, nil
	}
	return sess, nil
}

func (a *Auth) SignIn(_ context.Context, email, password string) (*session.Session, error) {
	u, err := a.repo.GetAuthUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, session.ErrInvalidCredentials
	}
	sess := a.sessionFor(u)
	a.Publish(sess)
	return sess, nil
}

func (a *Auth) SignUp(_ context.Context, req session.SignUpRequest) (*session.User, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, errors.New("email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	meta := map[string]string{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	u := &db.AuthUser{ID: uuid.NewString(), Email: email, PasswordHash: string(hash), Metadata: meta}
	if err := a.repo.CreateAuthUser(u); err != nil {
		return nil, err
	}
	return &session.User{ID: u.ID, Email: strings.ToLower(email), Metadata: meta}, nil
}

func (a *Auth) UpdateUser(_ context.Context, sess *session.Session, update session.UserUpdate) (*session.User, error) {
	if !sess.Active() {
		return nil, errors.New("not signed in")
	}
	u, err := a.repo.GetAuthUserByID(sess.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errors.New("user not found")
	}
	if update.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(update.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		u.PasswordHash = string(hash)
	}
	for k, v := range update.Metadata {
		u.Metadata[k] = v
	}
	if err := a.repo.UpdateAuthUser(u); err != nil {
		return nil, err
	}

	if cur := a.Load(); cur != nil && cur.UserID == u.ID {
		next := *cur
		next.FullName = u.Metadata["full_name"]
		a.Publish(&next)
	}
	return &session.User{ID: u.ID, Email: u.Email, Metadata: u.Metadata}, nil
}

func (a *Auth) SignOut(_ context.Context, _ *session.Session) error {
	a.Publish(nil)
	return nil
}

// EnsureUser creates the account unless one already exists for email.
func (a *Auth) EnsureUser(ctx context.Context, email, password string, role session.Role) error {
	u, err := a.repo.GetAuthUserByEmail(email)
	if err != nil {
		return err
	}
	if u != nil {
		return nil
	}
	_, err = a.SignUp(ctx, session.SignUpRequest{
		Email:    email,
		Password: password,
		Metadata: map[string]string{"role": string(role)},
	})
	return err
}

func (a *Auth) sessionFor(u *db.AuthUser) *session.Session {
	role := session.Role(u.Metadata["role"])
	if !role.Valid() {
		role = session.RoleMember
	}
	return &session.Session{
		UserID:      u.ID,
		Email:       u.Email,
		FullName:    u.Metadata["full_name"],
		Role:        role,
		AccessToken: uuid.NewString(),
		ExpiresAt:   a.now().Add(sessionTTL),
	}
}

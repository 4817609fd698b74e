package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Role is the CRM role of a user.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleMember
}

// ErrInvalidCredentials is returned by SignIn when the email/password pair is rejected.
var ErrInvalidCredentials = errors.New("invalid login credentials")

// Session is the authenticated identity threaded into every gateway call.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name,omitempty"`
	Role         Role      `json:"role"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the session carries a user identity.
func (s *Session) Active() bool {
	return s != nil && s.UserID != ""
}

// IsOwner reports whether the session belongs to an owner.
func (s *Session) IsOwner() bool {
	return s.Active() && s.Role == RoleOwner
}

// User is an account as reported by the auth backend.
type User struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"user_metadata,omitempty"`
}

// SignUpRequest provisions a new account.
type SignUpRequest struct {
	Email    string
	Password string
	Metadata map[string]string
}

// UserUpdate changes the current user's credentials or metadata. Empty fields are left untouched.
type UserUpdate struct {
	Password string
	Metadata map[string]string
}

// Auth is the session sub-interface of the gateway.
type Auth interface {
	// Current returns the active session or nil when signed out.
	Current(ctx context.Context) (*Session, error)
	// Subscribe registers fn for session changes. A nil session means signed out.
	Subscribe(fn func(*Session)) (cancel func())
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, req SignUpRequest) (*User, error)
	UpdateUser(ctx context.Context, sess *Session, update UserUpdate) (*User, error)
	SignOut(ctx context.Context, sess *Session) error
}

// Broadcaster keeps the current session and fans changes out to subscribers.
// Auth implementations embed it.
type Broadcaster struct {
	mu      sync.Mutex
	current *Session
	nextID  int
	subs    map[int]func(*Session)
}

// Load returns the current session.
func (b *Broadcaster) Load() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Publish stores sess and notifies every subscriber outside the lock.
func (b *Broadcaster) Publish(sess *Session) {
	b.mu.Lock()
	b.current = sess
	fns := make([]func(*Session), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(sess)
	}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster) Subscribe(fn func(*Session)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(*Session))
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

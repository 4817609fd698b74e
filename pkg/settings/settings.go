// Package settings implements the profile and team management workflows.
package settings

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/rs/zerolog"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var (
	ErrNotSignedIn          = errors.New("not signed in")
	ErrForbidden            = errors.New("only owners can manage the team")
	ErrProfilesUnavailable  = errors.New("user profiles are not set up on the backend yet")
	ErrPasswordTooShort     = errors.New("password must be at least 6 characters")
	ErrPasswordMismatch     = errors.New("passwords do not match")
	ErrConfirmationRequired = errors.New("deleting a user requires confirmation")
	ErrInvalidRole          = errors.New("invalid role")
	ErrEmailRequired        = errors.New("email is required")
)

// Profile is the signed-in user's profile record.
type Profile struct {
	ID       string       `json:"id"`
	Email    string       `json:"email"`
	FullName string       `json:"full_name"`
	Phone    string       `json:"phone"`
	Role     session.Role `json:"role"`
}

// ProfileInput is the editable part of a profile.
type ProfileInput struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

// Member is one team member as listed to owners.
type Member struct {
	ID       string       `json:"id"`
	Email    string       `json:"email"`
	FullName string       `json:"full_name"`
	Role     session.Role `json:"role"`
}

// NewUser provisions an account from the team screen.
type NewUser struct {
	Email    string       `json:"email"`
	Password string       `json:"password"`
	FullName string       `json:"full_name"`
	Role     session.Role `json:"role"`
}

// Invite is a pending invitation.
type Invite struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	Role      session.Role `json:"role"`
	Token     string       `json:"token"`
	InvitedBy string       `json:"invited_by"`
}

// Workflow runs the settings screens for one shell.
type Workflow struct {
	gw   gateway.Gateway
	auth session.Auth
	log  zerolog.Logger
	now  func() time.Time

	mu        sync.Mutex
	members   []Member
	lastError string
}

// New creates a Workflow.
func New(gw gateway.Gateway, auth session.Auth, log zerolog.Logger) *Workflow {
	return &Workflow{
		gw:   gw,
		auth: auth,
		log:  log.With().Str("component", "settings").Logger(),
		now:  time.Now,
	}
}

func (w *Workflow) profilesErr(err error) error {
	if gateway.Classify(err, gateway.TableProfiles) == gateway.KindMissingRelation {
		return ErrProfilesUnavailable
	}
	return err
}

func (w *Workflow) timestamp() string {
	return w.now().UTC().Format(time.RFC3339)
}

// Profile loads the current user's profile, falling back to session data when no record exists.
func (w *Workflow) Profile(ctx context.Context, sess *session.Session) (Profile, error) {
	if !sess.Active() {
		return Profile{}, ErrNotSignedIn
	}
	p := Profile{ID: sess.UserID, Email: sess.Email, FullName: sess.FullName, Role: sess.Role}
	rows, err := w.gw.Select(ctx, sess, gateway.TableProfiles, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("id", sess.UserID)},
		Limit:   1,
	})
	if err != nil {
		return p, w.profilesErr(err)
	}
	if len(rows) == 0 {
		return p, nil
	}
	r := rows[0]
	if v := r.String("email"); v != "" {
		p.Email = v
	}
	if v := r.String("full_name"); v != "" {
		p.FullName = v
	}
	p.Phone = r.String("phone")
	if role := session.Role(r.String("role")); role.Valid() {
		p.Role = role
	}
	return p, nil
}

// SaveProfile stores the profile record and mirrors name and phone into the auth metadata.
func (w *Workflow) SaveProfile(ctx context.Context, sess *session.Session, in ProfileInput) (Profile, error) {
	if !sess.Active() {
		return Profile{}, ErrNotSignedIn
	}
	in.FullName = strings.TrimSpace(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)

	row := gateway.Row{
		"id":         sess.UserID,
		"email":      sess.Email,
		"full_name":  in.FullName,
		"phone":      in.Phone,
		"updated_at": w.timestamp(),
	}
	if _, err := w.gw.Upsert(ctx, sess, gateway.TableProfiles, row, "id"); err != nil {
		return Profile{}, w.profilesErr(err)
	}
	if _, err := w.auth.UpdateUser(ctx, sess, session.UserUpdate{Metadata: map[string]string{
		"full_name": in.FullName,
		"phone":     in.Phone,
	}}); err != nil {
		return Profile{}, err
	}
	w.log.Info().Str("user", sess.UserID).Msg("profile saved")
	return Profile{ID: sess.UserID, Email: sess.Email, FullName: in.FullName, Phone: in.Phone, Role: sess.Role}, nil
}

// ChangePassword validates and sets a new password for the current user.
func (w *Workflow) ChangePassword(ctx context.Context, sess *session.Session, password, confirm string) error {
	if !sess.Active() {
		return ErrNotSignedIn
	}
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	if _, err := w.auth.UpdateUser(ctx, sess, session.UserUpdate{Password: password}); err != nil {
		return err
	}
	w.log.Info().Str("user", sess.UserID).Msg("password changed")
	return nil
}

func requireOwner(sess *session.Session) error {
	if !sess.Active() {
		return ErrNotSignedIn
	}
	if !sess.IsOwner() {
		return ErrForbidden
	}
	return nil
}

// Members loads the team list.
func (w *Workflow) Members(ctx context.Context, sess *session.Session) ([]Member, error) {
	if err := requireOwner(sess); err != nil {
		return nil, err
	}
	rows, err := w.gw.Select(ctx, sess, gateway.TableProfiles, gateway.Query{})
	if err != nil {
		return nil, w.fail(w.profilesErr(err))
	}
	members := make([]Member, 0, len(rows))
	for _, r := range rows {
		role := session.Role(r.String("role"))
		if !role.Valid() {
			role = session.RoleMember
		}
		members = append(members, Member{ID: r.ID(), Email: r.String("email"), FullName: r.String("full_name"), Role: role})
	}
	sort.SliceStable(members, func(i, j int) bool {
		return strings.ToLower(members[i].Email) < strings.ToLower(members[j].Email)
	})

	w.mu.Lock()
	w.members = members
	w.lastError = ""
	w.mu.Unlock()
	return cloneMembers(members), nil
}

// CreateUser signs a new account up and records its profile.
func (w *Workflow) CreateUser(ctx context.Context, sess *session.Session, nu NewUser) (Member, error) {
	if err := requireOwner(sess); err != nil {
		return Member{}, err
	}
	nu.Email = strings.TrimSpace(nu.Email)
	if nu.Email == "" {
		return Member{}, ErrEmailRequired
	}
	if len(nu.Password) < MinPasswordLength {
		return Member{}, ErrPasswordTooShort
	}
	if nu.Role == "" {
		nu.Role = session.RoleMember
	}
	if !nu.Role.Valid() {
		return Member{}, ErrInvalidRole
	}

	user, err := w.auth.SignUp(ctx, session.SignUpRequest{
		Email:    nu.Email,
		Password: nu.Password,
		Metadata: map[string]string{"full_name": nu.FullName, "role": string(nu.Role)},
	})
	if err != nil {
		return Member{}, w.fail(err)
	}
	m := Member{ID: user.ID, Email: user.Email, FullName: nu.FullName, Role: nu.Role}
	if m.Email == "" {
		m.Email = nu.Email
	}
	if _, err := w.gw.Upsert(ctx, sess, gateway.TableProfiles, gateway.Row{
		"id":         m.ID,
		"email":      m.Email,
		"full_name":  m.FullName,
		"role":       string(m.Role),
		"updated_at": w.timestamp(),
	}, "id"); err != nil {
		return m, w.fail(w.profilesErr(err))
	}

	w.mu.Lock()
	w.members = append(w.members, m)
	w.lastError = ""
	w.mu.Unlock()
	w.log.Info().Str("user", m.ID).Str("role", string(m.Role)).Msg("user created")
	return m, nil
}

// Invite records an invitation for email.
func (w *Workflow) Invite(ctx context.Context, sess *session.Session, email string, role session.Role) (Invite, error) {
	if err := requireOwner(sess); err != nil {
		return Invite{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Invite{}, ErrEmailRequired
	}
	if role == "" {
		role = session.RoleMember
	}
	if !role.Valid() {
		return Invite{}, ErrInvalidRole
	}
	inv := Invite{Email: email, Role: role, Token: uuid.NewString(), InvitedBy: sess.UserID}
	row, err := w.gw.Insert(ctx, sess, gateway.TableInvites, gateway.Row{
		"email":      inv.Email,
		"role":       string(inv.Role),
		"token":      inv.Token,
		"invited_by": inv.InvitedBy,
		"created_at": w.timestamp(),
	})
	if err != nil {
		return Invite{}, w.fail(err)
	}
	inv.ID = row.ID()
	return inv, nil
}

// UpdateRole changes a member's role. The local list is updated before the
// request and is not reverted when it fails; the error is kept in LastError.
func (w *Workflow) UpdateRole(ctx context.Context, sess *session.Session, userID string, role session.Role) ([]Member, error) {
	if err := requireOwner(sess); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	w.mu.Lock()
	for i := range w.members {
		if w.members[i].ID == userID {
			w.members[i].Role = role
		}
	}
	w.lastError = ""
	w.mu.Unlock()

	_, err := w.gw.Update(ctx, sess, gateway.TableProfiles, []gateway.Filter{gateway.Eq("id", userID)}, gateway.Row{
		"role":       string(role),
		"updated_at": w.timestamp(),
	})
	if err != nil {
		err = w.fail(w.profilesErr(err))
	}
	return w.Snapshot(), err
}

// DeleteUser removes a member's profile after explicit confirmation. The
// previous list is restored when the request fails.
func (w *Workflow) DeleteUser(ctx context.Context, sess *session.Session, userID string, confirmed bool) ([]Member, error) {
	if err := requireOwner(sess); err != nil {
		return nil, err
	}
	if !confirmed {
		return w.Snapshot(), ErrConfirmationRequired
	}

	w.mu.Lock()
	prev := cloneMembers(w.members)
	kept := w.members[:0:0]
	for _, m := range w.members {
		if m.ID != userID {
			kept = append(kept, m)
		}
	}
	w.members = kept
	w.lastError = ""
	w.mu.Unlock()

	if err := w.gw.Delete(ctx, sess, gateway.TableProfiles, []gateway.Filter{gateway.Eq("id", userID)}); err != nil {
		w.mu.Lock()
		w.members = prev
		w.mu.Unlock()
		return w.Snapshot(), w.fail(w.profilesErr(err))
	}
	w.log.Info().Str("user", userID).Msg("user deleted")
	return w.Snapshot(), nil
}

// Snapshot returns the last known team list.
func (w *Workflow) Snapshot() []Member {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cloneMembers(w.members)
}

// LastError is the message of the most recent failed team action.
func (w *Workflow) LastError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastError
}

func (w *Workflow) fail(err error) error {
	w.mu.Lock()
	w.lastError = gateway.Message(err)
	w.mu.Unlock()
	w.log.Warn().Err(err).Msg("team action failed")
	return err
}

func cloneMembers(in []Member) []Member {
	if in == nil {
		return nil
	}
	return append([]Member(nil), in...)
}

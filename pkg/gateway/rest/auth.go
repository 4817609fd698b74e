package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/session"
)

// refreshMargin refreshes tokens slightly before they expire.
const refreshMargin = 30 * time.Second

// Auth implements session.Auth against a GoTrue-compatible endpoint.
type Auth struct {
	session.Broadcaster

	client *Client
	now    func() time.Time
}

var _ session.Auth = (*Auth)(nil)

// NewAuth creates an Auth sharing client.
func NewAuth(client *Client) *Auth {
	return &Auth{client: client, now: time.Now}
}

type userPayload struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
}

func (u *userPayload) toUser() *session.User {
	meta := map[string]string{}
	for k, v := range u.UserMetadata {
		if s, ok := v.(string); ok {
			meta[k] = s
		}
	}
	return &session.User{ID: u.ID, Email: u.Email, Metadata: meta}
}

type tokenPayload struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int         `json:"expires_in"`
	User         userPayload `json:"user"`
}

func (a *Auth) Current(ctx context.Context) (*session.Session, error) {
	sess := a.Load()
	if sess == nil || sess.ExpiresAt.IsZero() || a.now().Add(refreshMargin).Before(sess.ExpiresAt) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		a.Publish(nil)
		return nil, nil
	}
	next, err := a.token(ctx, "refresh_token", map[string]string{"refresh_token": sess.RefreshToken})
	if err != nil {
		a.Publish(nil)
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	a.Publish(next)
	return next, nil
}

func (a *Auth) SignIn(ctx context.Context, email, password string) (*session.Session, error) {
	sess, err := a.token(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) && (gwErr.Status == http.StatusBadRequest || gwErr.Status == http.StatusUnauthorized) {
			return nil, session.ErrInvalidCredentials
		}
		return nil, err
	}
	a.Publish(sess)
	return sess, nil
}

func (a *Auth) token(ctx context.Context, grant string, body map[string]string) (*session.Session, error) {
	var out tokenPayload
	resp, err := a.client.request(nil).
		SetContext(ctx).
		SetQueryParam("grant_type", grant).
		SetBody(body).
		SetResult(&out).
		Post("/auth/v1/token")
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	return a.sessionFrom(&out), nil
}

func (a *Auth) sessionFrom(t *tokenPayload) *session.Session {
	u := t.User.toUser()
	role := session.Role(u.Metadata["role"])
	if r, ok := t.User.AppMetadata["role"].(string); ok && session.Role(r).Valid() {
		role = session.Role(r)
	}
	if !role.Valid() {
		role = session.RoleMember
	}
	sess := &session.Session{
		UserID:       u.ID,
		Email:        u.Email,
		FullName:     u.Metadata["full_name"],
		Role:         role,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
	}
	if t.ExpiresIn > 0 {
		sess.ExpiresAt = a.now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return sess
}

func (a *Auth) SignUp(ctx context.Context, req session.SignUpRequest) (*session.User, error) {
	body := map[string]any{
		"email":    req.Email,
		"password": req.Password,
	}
	if len(req.Metadata) > 0 {
		body["data"] = req.Metadata
	}
	// Depending on email confirmation settings the endpoint answers with either
	// a bare user or a token payload wrapping it.
	var out struct {
		userPayload
		User *userPayload `json:"user"`
	}
	resp, err := a.client.request(nil).
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/auth/v1/signup")
	if err != nil {
		return nil, fmt.Errorf("signup request: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	if out.User != nil && out.User.ID != "" {
		return out.User.toUser(), nil
	}
	return out.userPayload.toUser(), nil
}

func (a *Auth) UpdateUser(ctx context.Context, sess *session.Session, update session.UserUpdate) (*session.User, error) {
	if !sess.Active() {
		return nil, errors.New("not signed in")
	}
	body := map[string]any{}
	if update.Password != "" {
		body["password"] = update.Password
	}
	if len(update.Metadata) > 0 {
		body["data"] = update.Metadata
	}
	var out userPayload
	resp, err := a.client.request(sess).
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Put("/auth/v1/user")
	if err != nil {
		return nil, fmt.Errorf("update user request: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}
	user := out.toUser()

	if cur := a.Load(); cur != nil && cur.UserID == user.ID {
		next := *cur
		if name, ok := user.Metadata["full_name"]; ok {
			next.FullName = name
		}
		a.Publish(&next)
	}
	return user, nil
}

func (a *Auth) SignOut(ctx context.Context, sess *session.Session) error {
	defer a.Publish(nil)
	if !sess.Active() {
		return nil
	}
	resp, err := a.client.request(sess).SetContext(ctx).Post("/auth/v1/logout")
	if err != nil {
		return fmt.Errorf("logout request: %w", err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusUnauthorized {
		return apiError(resp)
	}
	return nil
}

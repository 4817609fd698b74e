package rest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenReply = `{
	"access_token": "at-1",
	"refresh_token": "rt-1",
	"expires_in": 3600,
	"user": {"id": "u1", "email": "olga@example.com", "user_metadata": {"full_name": "Olga", "role": "owner"}}
}`

func TestSignInPublishesSession(t *testing.T) {
	client, calls := newServer(t, http.StatusOK, tokenReply)
	a := NewAuth(client)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	var seen []*session.Session
	cancel := a.Subscribe(func(s *session.Session) { seen = append(seen, s) })
	defer cancel()

	sess, err := a.SignIn(context.Background(), "olga@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, "Olga", sess.FullName)
	assert.Equal(t, session.RoleOwner, sess.Role)
	assert.Equal(t, "at-1", sess.AccessToken)
	assert.Equal(t, now.Add(time.Hour), sess.ExpiresAt)

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, "/auth/v1/token", c.Path)
	assert.Equal(t, "password", c.Query.Get("grant_type"))
	assert.Equal(t, "olga@example.com", c.Body["email"])

	require.Len(t, seen, 1)
	assert.Equal(t, sess, seen[0])

	cur, err := a.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sess, cur)
}

func TestSignInRejected(t *testing.T) {
	client, _ := newServer(t, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
	_, err := NewAuth(client).SignIn(context.Background(), "olga@example.com", "nope")
	assert.ErrorIs(t, err, session.ErrInvalidCredentials)
}

func TestCurrentRefreshesExpiredSession(t *testing.T) {
	client, calls := newServer(t, http.StatusOK, tokenReply)
	a := NewAuth(client)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	a.Publish(&session.Session{UserID: "u1", AccessToken: "old", RefreshToken: "rt-0", ExpiresAt: now.Add(-time.Minute)})

	cur, err := a.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", cur.AccessToken)
	require.Len(t, *calls, 1)
	assert.Equal(t, "refresh_token", (*calls)[0].Query.Get("grant_type"))
	assert.Equal(t, "rt-0", (*calls)[0].Body["refresh_token"])
}

func TestSignUpAcceptsBothShapes(t *testing.T) {
	for name, reply := range map[string]string{
		"bare user":     `{"id":"u2","email":"new@example.com","user_metadata":{"role":"member"}}`,
		"token wrapped": `{"access_token":"x","user":{"id":"u2","email":"new@example.com","user_metadata":{"role":"member"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			client, calls := newServer(t, http.StatusOK, reply)
			u, err := NewAuth(client).SignUp(context.Background(), session.SignUpRequest{
				Email:    "new@example.com",
				Password: "secret1",
				Metadata: map[string]string{"role": "member"},
			})
			require.NoError(t, err)
			assert.Equal(t, "u2", u.ID)
			assert.Equal(t, "member", u.Metadata["role"])
			assert.Equal(t, "/auth/v1/signup", (*calls)[0].Path)
			assert.Equal(t, map[string]any{"role": "member"}, (*calls)[0].Body["data"])
		})
	}
}

func TestUpdateUserRepublishesName(t *testing.T) {
	client, calls := newServer(t, http.StatusOK, `{"id":"u1","email":"olga@example.com","user_metadata":{"full_name":"Olga K"}}`)
	a := NewAuth(client)
	sess := &session.Session{UserID: "u1", AccessToken: "at-1", FullName: "Olga"}
	a.Publish(sess)

	_, err := a.UpdateUser(context.Background(), sess, session.UserUpdate{Metadata: map[string]string{"full_name": "Olga K"}})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, (*calls)[0].Method)
	assert.Equal(t, "/auth/v1/user", (*calls)[0].Path)
	assert.Equal(t, "Bearer at-1", (*calls)[0].Header.Get("Authorization"))

	cur, _ := a.Current(context.Background())
	assert.Equal(t, "Olga K", cur.FullName)
}

func TestSignOutClearsSession(t *testing.T) {
	client, calls := newServer(t, http.StatusNoContent, ``)
	a := NewAuth(client)
	sess := &session.Session{UserID: "u1", AccessToken: "at-1"}
	a.Publish(sess)

	require.NoError(t, a.SignOut(context.Background(), sess))
	assert.Equal(t, "/auth/v1/logout", (*calls)[0].Path)
	cur, _ := a.Current(context.Background())
	assert.Nil(t, cur)
}

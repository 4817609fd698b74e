// Package rest talks to the hosted backend: PostgREST for rows and a
// GoTrue-compatible endpoint for auth.
package rest

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/session"
)

const defaultTimeout = 15 * time.Second

// Client holds the shared HTTP client and project credentials.
type Client struct {
	http    *resty.Client
	anonKey string
}

// NewClient creates a Client for the project at baseURL using its public (anon) key.
func NewClient(baseURL, anonKey string) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("apikey", anonKey).
		SetTimeout(defaultTimeout)

	return &Client{http: c, anonKey: anonKey}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) *Client {
	c.http.SetTimeout(d)
	return c
}

func (c *Client) request(sess *session.Session) *resty.Request {
	token := c.anonKey
	if sess != nil && sess.AccessToken != "" {
		token = sess.AccessToken
	}
	return c.http.R().SetAuthToken(token)
}

// apiError converts a non-2xx response into a *gateway.Error.
func apiError(resp *resty.Response) error {
	e := &gateway.Error{Status: resp.StatusCode()}
	body := resp.Body()
	if len(body) > 0 {
		var payload struct {
			Code             any    `json:"code"`
			Message          string `json:"message"`
			Details          string `json:"details"`
			Hint             string `json:"hint"`
			Msg              string `json:"msg"`
			ErrorCode        string `json:"error_code"`
			ErrorDescription string `json:"error_description"`
			Err              string `json:"error"`
		}
		if err := json.Unmarshal(body, &payload); err == nil {
			if s, ok := payload.Code.(string); ok {
				e.Code = s
			} else if payload.ErrorCode != "" {
				e.Code = payload.ErrorCode
			}
			e.Message = firstNonEmpty(payload.Message, payload.Msg, payload.ErrorDescription, payload.Err)
			e.Details = payload.Details
			e.Hint = payload.Hint
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(resp.String())
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode())
	}
	return e
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package google builds authenticated clients for Google APIs from a service
// account key file.
package google

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// NewHTTPClient creates an HTTP client authorized for scopes.
func NewHTTPClient(ctx context.Context, credentialsFile string, scopes ...string) (*http.Client, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	conf, err := google.JWTConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return conf.Client(ctx), nil
}

// ClientOption returns a service constructor option limited to scopes. The
// key file is read eagerly so a bad path fails at startup.
func ClientOption(ctx context.Context, credentialsFile string, scopes ...string) (option.ClientOption, error) {
	client, err := NewHTTPClient(ctx, credentialsFile, scopes...)
	if err != nil {
		return nil, err
	}
	return option.WithHTTPClient(client), nil
}

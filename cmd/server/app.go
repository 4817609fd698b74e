package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/mklimuk/crm-pilot/pkg/config"
	"github.com/mklimuk/crm-pilot/pkg/db"
	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/gateway/rest"
	"github.com/mklimuk/crm-pilot/pkg/gateway/sqlite"
	"github.com/mklimuk/crm-pilot/pkg/logging"
	"github.com/mklimuk/crm-pilot/pkg/reminder"
	"github.com/mklimuk/crm-pilot/pkg/session"
	"github.com/mklimuk/crm-pilot/pkg/shell"
	"github.com/rs/zerolog"
)

// app holds the wiring shared by every command.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	database *db.DB
	repo     *db.Repository
	gw       gateway.Gateway
	auth     session.Auth
	shell    *shell.Shell
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	log := logging.New("crm-pilot", level)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	database, err := db.NewDB(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, database: database, repo: db.NewRepository(database)}

	switch cfg.Backend.Kind {
	case config.BackendSQLite:
		if err := database.InitSchema(); err != nil {
			a.Close()
			return nil, err
		}
		auth := sqlite.NewAuth(a.repo)
		if cfg.Auth.BootstrapOwner && cfg.Auth.Email != "" {
			if err := auth.EnsureUser(ctx, cfg.Auth.Email, cfg.Auth.Password, session.RoleOwner); err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to bootstrap owner: %w", err)
			}
		}
		a.gw, a.auth = sqlite.New(database), auth
	default:
		if err := database.InitStateSchema(); err != nil {
			a.Close()
			return nil, err
		}
		client := rest.NewClient(cfg.Backend.URL, cfg.Backend.AnonKey).SetTimeout(cfg.Backend.Timeout)
		a.gw, a.auth = rest.NewGateway(client), rest.NewAuth(client)
	}

	a.shell = shell.New(a.gw, a.auth, shell.Config{
		Title:         cfg.Title,
		PollInterval:  cfg.Reminders.PollInterval,
		DebounceDelay: cfg.Search.DebounceDelay,
		BlinkInterval: cfg.Reminders.BlinkInterval,
		Reminders: reminder.Config{
			LookaheadDays: cfg.Reminders.LookaheadDays,
			SoonDays:      cfg.Reminders.SoonDays,
			Location:      loc,
		},
	}, log)

	log.Info().
		Str("backend", cfg.Backend.Kind).
		Str("store", cfg.Store.Path).
		Str("timezone", loc.String()).
		Msg("crm-pilot configured")
	return a, nil
}

// signIn uses the configured account. It is a no-op without credentials
// unless required is set.
func (a *app) signIn(ctx context.Context, required bool) (*session.Session, error) {
	if a.cfg.Auth.Email == "" {
		if required {
			return nil, errors.New("auth.email and auth.password are required (CRM_AUTH_EMAIL, CRM_AUTH_PASSWORD)")
		}
		return nil, nil
	}
	sess, err := a.auth.SignIn(ctx, a.cfg.Auth.Email, a.cfg.Auth.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in as %s: %w", a.cfg.Auth.Email, err)
	}
	a.log.Info().Str("user", sess.UserID).Str("role", string(sess.Role)).Msg("signed in")
	return sess, nil
}

func (a *app) Close() {
	if a.shell != nil {
		a.shell.Close()
	}
	if err := a.database.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close database")
	}
}

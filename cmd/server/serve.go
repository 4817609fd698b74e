package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mklimuk/crm-pilot/pkg/api"
	"github.com/mklimuk/crm-pilot/pkg/integration/calendar"
	"github.com/mklimuk/crm-pilot/pkg/integration/chat"
	"github.com/mklimuk/crm-pilot/pkg/integration/discord"
	"github.com/mklimuk/crm-pilot/pkg/integration/drive"
	"github.com/mklimuk/crm-pilot/pkg/integration/telegram"
	"golang.org/x/sync/errgroup"
)

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	if err := a.shell.Start(ctx); err != nil {
		return err
	}

	// Initialize Telegram Bot (Optional)
	if a.cfg.Telegram.Token != "" {
		responder := &chat.Responder{Shell: a.shell, Prefix: telegram.Prefix}
		tgBot, err := telegram.NewBot(a.cfg.Telegram.Token, a.cfg.Telegram.ChatID, responder, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to create Telegram bot")
		} else if err := tgBot.Start(); err != nil {
			log.Error().Err(err).Msg("failed to start Telegram bot")
		} else {
			log.Info().Msg("Telegram bot started")
			defer tgBot.Stop()
			if a.cfg.Telegram.ChatID != 0 {
				n := chat.NewNotifier(a.repo, telegram.Channel, tgBot, log)
				n.Start(a.shell.Reminders())
				defer n.Stop()
			}
		}
	}

	// Initialize Discord Bot (Optional)
	if a.cfg.Discord.Token != "" {
		responder := &chat.Responder{Shell: a.shell, Prefix: discord.Prefix}
		dcBot, err := discord.NewBot(a.cfg.Discord.Token, a.cfg.Discord.ChannelID, responder, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to create Discord bot")
		} else if err := dcBot.Start(); err != nil {
			log.Error().Err(err).Msg("failed to start Discord bot")
		} else {
			log.Info().Msg("Discord bot started")
			defer func() {
				if err := dcBot.Stop(); err != nil {
					log.Warn().Err(err).Msg("failed to close Discord session")
				}
			}()
			if a.cfg.Discord.ChannelID != "" {
				n := chat.NewNotifier(a.repo, discord.Channel, dcBot, log)
				n.Start(a.shell.Reminders())
				defer n.Stop()
			}
		}
	}

	// Initialize Calendar mirror (Optional)
	if a.cfg.Calendar.CredentialsFile != "" {
		svc, err := calendar.NewService(ctx, a.cfg.Calendar.CredentialsFile, a.cfg.Calendar.CalendarID)
		if err != nil {
			log.Error().Err(err).Msg("failed to create calendar service")
		} else {
			syncer := calendar.NewSyncer(svc, a.repo, loc, a.cfg.Calendar.DefaultTime, log)
			syncer.Start(a.shell.Reminders())
			defer syncer.Stop()
			log.Info().Str("calendar", a.cfg.Calendar.CalendarID).Msg("calendar mirror started")
		}
	}

	// Initialize Drive backup (Optional)
	if a.cfg.Drive.FolderID != "" {
		svc, err := drive.NewService(ctx, a.cfg.DriveCredentials(), a.cfg.Drive.FolderID)
		if err != nil {
			log.Error().Err(err).Msg("failed to create drive service")
		} else {
			backup := drive.NewBackup(svc, a.database, filepath.Base(a.cfg.Store.Path), a.cfg.Drive.Interval, log)
			backup.Start()
			defer backup.Stop()
			log.Info().Dur("interval", a.cfg.Drive.Interval).Msg("drive backup started")
		}
	}

	// Subscribers are in place, so the first refresh after sign-in reaches them.
	if _, err := a.signIn(ctx, false); err != nil {
		log.Warn().Err(err).Msg("starting signed out")
	}
	if !a.cfg.HTTP.Loopback() {
		log.Info().Str("addr", a.cfg.HTTP.Addr).Msg("API requires a bearer token")
	}

	server := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      api.NewRouter(a.shell, a.cfg.HTTP.Token, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server exited")
	return nil
}

// Package telegram answers CRM commands in Telegram and delivers reminder pushes.
package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mklimuk/crm-pilot/pkg/integration/chat"
	"github.com/rs/zerolog"
)

// Prefix introduces commands, e.g. /reminders.
const Prefix = "/"

// Channel names this integration in the notification log.
const Channel = "telegram"

const replyTimeout = 30 * time.Second

// Bot wraps the Telegram bot API and dependencies
type Bot struct {
	API       *tgbotapi.BotAPI
	ChatID    int64
	Responder *chat.Responder
	log       zerolog.Logger
	stopCh    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// NewBot creates a Telegram bot. When chatID is set, commands from other
// chats are ignored and pushes go to that chat.
func NewBot(token string, chatID int64, responder *chat.Responder, log zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("error creating Telegram bot: %w", err)
	}

	return &Bot{
		API:       api,
		ChatID:    chatID,
		Responder: responder,
		log:       log.With().Str("component", Channel).Logger(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start begins polling for updates in a goroutine
func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.API.GetUpdatesChan(u)

	go func() {
		defer close(b.done)
		for {
			select {
			case <-b.stopCh:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					b.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop stops polling for updates
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.API.StopReceivingUpdates()
		<-b.done
	})
}

// Send posts text to the configured chat.
func (b *Bot) Send(text string) error {
	if b.ChatID == 0 {
		return fmt.Errorf("telegram chat id is not configured")
	}
	if _, err := b.API.Send(tgbotapi.NewMessage(b.ChatID, text)); err != nil {
		return fmt.Errorf("failed to send Telegram message: %w", err)
	}
	return nil
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if !Accepts(b.ChatID, msg.Chat.ID) {
		return
	}
	cmd, ok := ParseCommand(msg.Text)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	reply := tgbotapi.NewMessage(msg.Chat.ID, b.Responder.Reply(ctx, cmd))
	reply.ReplyToMessageID = msg.MessageID
	if _, err := b.API.Send(reply); err != nil {
		b.log.Warn().Err(err).Str("command", cmd.Name).Msg("failed to send Telegram reply")
	}
}

// ParseCommand extracts a CRM command from a message text.
func ParseCommand(text string) (chat.Command, bool) {
	return chat.Parse(Prefix, text)
}

// Accepts reports whether messages from chatID are served. A zero configured
// id serves every chat.
func Accepts(configured, chatID int64) bool {
	return configured == 0 || configured == chatID
}

// Package discord answers CRM commands in Discord and delivers reminder pushes.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/mklimuk/crm-pilot/pkg/integration/chat"
	"github.com/rs/zerolog"
)

// Prefix introduces commands, e.g. !reminders.
const Prefix = "!"

// Channel names this integration in the notification log.
const Channel = "discord"

const replyTimeout = 30 * time.Second

// Bot wraps the Discord session and dependencies
type Bot struct {
	Session   *discordgo.Session
	ChannelID string
	Responder *chat.Responder
	log       zerolog.Logger
}

// NewBot creates a Discord bot. When channelID is set, commands from other
// channels are ignored and pushes go to that channel.
func NewBot(token, channelID string, responder *chat.Responder, log zerolog.Logger) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	bot := &Bot{
		Session:   dg,
		ChannelID: channelID,
		Responder: responder,
		log:       log.With().Str("component", Channel).Logger(),
	}

	dg.AddHandler(bot.messageCreate)

	return bot, nil
}

// Start opens the websocket connection
func (b *Bot) Start() error {
	return b.Session.Open()
}

// Stop closes the websocket connection
func (b *Bot) Stop() error {
	return b.Session.Close()
}

// Send posts text to the configured channel.
func (b *Bot) Send(text string) error {
	if b.ChannelID == "" {
		return fmt.Errorf("discord channel id is not configured")
	}
	if _, err := b.Session.ChannelMessageSend(b.ChannelID, text); err != nil {
		return fmt.Errorf("failed to send Discord message: %w", err)
	}
	return nil
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	if b.ChannelID != "" && m.ChannelID != b.ChannelID {
		return
	}
	cmd, ok := ParseCommand(m.Content)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	if _, err := s.ChannelMessageSend(m.ChannelID, b.Responder.Reply(ctx, cmd)); err != nil {
		b.log.Warn().Err(err).Str("command", cmd.Name).Msg("failed to send Discord reply")
	}
}

// ParseCommand extracts a CRM command from a message.
func ParseCommand(content string) (chat.Command, bool) {
	return chat.Parse(Prefix, content)
}

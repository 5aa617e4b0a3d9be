// Package discord connects to the Discord gateway.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/pigforge/gopig/internal/bot"
)

// Config holds Discord adapter settings.
type Config struct {
	Token string
}

// Adapter implements bot.Adapter over a discordgo gateway session.
type Adapter struct {
	session   *discordgo.Session
	botUserID string
}

func New(cfg Config) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Adapter{session: session}, nil
}

func (a *Adapter) Platform() string { return "discord" }

// Start opens the gateway connection and begins receiving events.
func (a *Adapter) Start(ctx context.Context, inbox chan<- bot.UniversalMessage) error {
	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// Never echo our own messages back into the agent.
		if m.Author == nil || m.Author.ID == a.botUserID || m.Author.Bot {
			return
		}
		if m.Content == "" {
			return
		}

		um := bot.UniversalMessage{
			Platform:  "discord",
			ChannelID: m.ChannelID,
			UserID:    m.Author.ID,
			UserName:  m.Author.Username,
			Text:      m.Content,
			Timestamp: m.Timestamp,
			Raw:       m,
		}
		if m.Message != nil && m.Message.Thread != nil {
			um.ThreadID = m.Message.Thread.ID
			um.IsThread = true
		}

		select {
		case inbox <- um:
		case <-ctx.Done():
		}
	})

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	a.botUserID = user.ID

	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (a *Adapter) Stop(_ context.Context) error {
	return a.session.Close()
}

// Send delivers text to a channel, chunked to Discord's message limit.
// When threadID is set the message goes to the thread channel instead.
func (a *Adapter) Send(ctx context.Context, channelID, text, threadID string) error {
	target := channelID
	if threadID != "" {
		target = threadID
	}

	for _, chunk := range splitMessage(text, 2000) {
		if _, err := a.session.ChannelMessageSend(target, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// splitMessage breaks text into chunks no longer than limit, preferring
// newline boundaries.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if text[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

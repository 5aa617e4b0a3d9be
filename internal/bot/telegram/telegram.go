// Package telegram connects to the Telegram Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/pigforge/gopig/internal/bot"
)

// Config holds Telegram adapter settings.
type Config struct {
	Token string
	Proxy string
}

// Adapter implements bot.Adapter over telego long polling.
type Adapter struct {
	bot        *telego.Bot
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg Config) (*Adapter, error) {
	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	b, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Adapter{bot: b}, nil
}

func (a *Adapter) Platform() string { return "telegram" }

// Start begins long polling for updates.
func (a *Adapter) Start(ctx context.Context, inbox chan<- bot.UniversalMessage) error {
	pollCtx, cancel := context.WithCancel(ctx)
	a.pollCancel = cancel
	a.pollDone = make(chan struct{})

	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	slog.Info("telegram bot connected", "username", a.bot.Username())

	go func() {
		defer close(a.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message == nil || update.Message.Text == "" {
					continue
				}
				m := convertMessage(update.Message)
				select {
				case inbox <- m:
				case <-pollCtx.Done():
					return
				}
			}
		}
	}()

	return nil
}

// Stop cancels the long polling context and waits for the poller to exit
// so Telegram releases the getUpdates lock.
func (a *Adapter) Stop(_ context.Context) error {
	if a.pollCancel != nil {
		a.pollCancel()
	}
	if a.pollDone != nil {
		select {
		case <-a.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// Send delivers text to a chat. threadID targets a forum topic when set.
func (a *Adapter) Send(ctx context.Context, channelID, text, threadID string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", channelID, err)
	}

	msg := tu.Message(tu.ID(chatID), text)
	if threadID != "" {
		topicID, err := strconv.Atoi(threadID)
		if err != nil {
			return fmt.Errorf("invalid telegram thread ID %q: %w", threadID, err)
		}
		msg.MessageThreadID = topicID
	}

	if _, err := a.bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func convertMessage(m *telego.Message) bot.UniversalMessage {
	um := bot.UniversalMessage{
		Platform:  "telegram",
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		Text:      m.Text,
		Timestamp: time.Unix(m.Date, 0),
		Raw:       m,
	}
	if m.From != nil {
		um.UserID = strconv.FormatInt(m.From.ID, 10)
		um.UserName = m.From.Username
		if um.UserName == "" {
			um.UserName = m.From.FirstName
		}
	}
	if m.MessageThreadID != 0 {
		um.ThreadID = strconv.Itoa(m.MessageThreadID)
		um.IsThread = true
	}
	return um
}

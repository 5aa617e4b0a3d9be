// Package slack connects to Slack over Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/pigforge/gopig/internal/bot"
)

// Config holds Slack adapter settings.
type Config struct {
	BotToken string // xoxb- token for API calls
	AppToken string // xapp- token for Socket Mode
}

// Adapter implements bot.Adapter over a Socket Mode connection.
type Adapter struct {
	client       *slack.Client
	socketClient *socketmode.Client
	botUserID    string
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func New(cfg Config) *Adapter {
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Adapter{
		client:       client,
		socketClient: socketmode.New(client),
	}
}

func (a *Adapter) Platform() string { return "slack" }

// Start authenticates, opens the Socket Mode connection, and begins
// forwarding message events.
func (a *Adapter) Start(ctx context.Context, inbox chan<- bot.UniversalMessage) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	authResp, err := a.client.AuthTestContext(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("slack auth: %w", err)
	}
	a.botUserID = authResp.UserID
	slog.Info("slack bot connected", "user_id", authResp.UserID)

	a.wg.Add(1)
	go a.handleEvents(runCtx, inbox)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.socketClient.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack socket mode exited", "error", err)
		}
	}()

	return nil
}

// Stop cancels the Socket Mode connection and waits for the handlers.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send posts text to a channel, threading the reply when threadID (a
// Slack thread timestamp) is set.
func (a *Adapter) Send(ctx context.Context, channelID, text, threadID string) error {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadID != "" {
		options = append(options, slack.MsgOptionTS(threadID))
	}
	if _, _, err := a.client.PostMessageContext(ctx, channelID, options...); err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (a *Adapter) handleEvents(ctx context.Context, inbox chan<- bot.UniversalMessage) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socketClient.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeConnected:
				slog.Info("slack socket mode connected")
			case socketmode.EventTypeConnectionError:
				slog.Warn("slack connection error", "data", event.Data)
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(ctx, event, inbox)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				if event.Request != nil {
					a.socketClient.Ack(*event.Request)
				}
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(ctx context.Context, event socketmode.Event, inbox chan<- bot.UniversalMessage) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		if event.Request != nil {
			a.socketClient.Ack(*event.Request)
		}
		return
	}
	if event.Request != nil {
		a.socketClient.Ack(*event.Request)
	}

	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}

	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.forward(ctx, inbox, ev.User, ev.Channel, ev.Text, ev.TimeStamp, ev.ThreadTimeStamp, ev)
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.SubType != "" {
			return
		}
		// Outside DMs, require a mention or an ongoing thread.
		isDM := strings.HasPrefix(ev.Channel, "D")
		isMention := strings.Contains(ev.Text, "<@"+a.botUserID+">")
		if !isDM && !isMention && ev.ThreadTimeStamp == "" {
			return
		}
		a.forward(ctx, inbox, ev.User, ev.Channel, ev.Text, ev.TimeStamp, ev.ThreadTimeStamp, ev)
	}
}

func (a *Adapter) forward(ctx context.Context, inbox chan<- bot.UniversalMessage, user, channel, text, ts, threadTS string, raw interface{}) {
	um := bot.UniversalMessage{
		Platform:  "slack",
		ChannelID: channel,
		UserID:    user,
		UserName:  user,
		Text:      stripMentions(text),
		Raw:       raw,
	}
	if t, err := parseSlackTimestamp(ts); err == nil {
		um.Timestamp = t
	} else {
		um.Timestamp = time.Now()
	}
	if threadTS != "" {
		um.ThreadID = threadTS
		um.IsThread = true
	}
	if um.Text == "" {
		return
	}

	select {
	case inbox <- um:
	case <-ctx.Done():
	}
}

// stripMentions removes <@USERID> tokens from message text.
func stripMentions(text string) string {
	for {
		start := strings.Index(text, "<@")
		if start < 0 {
			break
		}
		end := strings.Index(text[start:], ">")
		if end < 0 {
			break
		}
		text = text[:start] + text[start+end+1:]
	}
	return strings.TrimSpace(text)
}

// parseSlackTimestamp converts "1234567890.123456" to a time.Time.
func parseSlackTimestamp(ts string) (time.Time, error) {
	var sec, usec int64
	if _, err := fmt.Sscanf(ts, "%d.%d", &sec, &usec); err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	return time.Unix(sec, usec*1000), nil
}

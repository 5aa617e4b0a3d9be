package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pigforge/gopig/internal/session"
)

const errorNotice = "Something went wrong processing your message."

// RunFunc executes one agent turn for a session and returns the reply.
type RunFunc func(ctx context.Context, s *session.Session, text string) (string, error)

// Dispatcher fans inbound messages from all adapters into per-channel
// sessions. Each (platform, channel) pair maps to one session; turns for
// one session are serialized, different sessions run in parallel.
type Dispatcher struct {
	adapters []Adapter
	sessions *session.Manager
	run      RunFunc

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	limiters map[string]*rate.Limiter

	// outbound messages per channel per second
	sendRate  rate.Limit
	sendBurst int
}

func NewDispatcher(sessions *session.Manager, run RunFunc, adapters ...Adapter) *Dispatcher {
	return &Dispatcher{
		adapters:  adapters,
		sessions:  sessions,
		run:       run,
		locks:     make(map[string]*sync.Mutex),
		limiters:  make(map[string]*rate.Limiter),
		sendRate:  rate.Every(time.Second),
		sendBurst: 5,
	}
}

// Run starts every adapter and processes inbound messages until the
// context is cancelled or an adapter fails to start. Adapters are stopped
// cooperatively on the way out.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.adapters) == 0 {
		return fmt.Errorf("no adapters configured")
	}

	inbox := make(chan UniversalMessage, 128)
	g, ctx := errgroup.WithContext(ctx)

	for _, a := range d.adapters {
		a := a
		g.Go(func() error {
			if err := a.Start(ctx, inbox); err != nil {
				return fmt.Errorf("start %s adapter: %w", a.Platform(), err)
			}
			slog.Info("adapter started", "platform", a.Platform())
			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.Stop(stopCtx); err != nil {
				slog.Warn("adapter stop failed", "platform", a.Platform(), "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case m := <-inbox:
				go d.handle(ctx, m)
			}
		}
	})

	return g.Wait()
}

// handle processes one inbound message end to end. Failures never
// propagate into the adapter; the user gets a notice instead.
func (d *Dispatcher) handle(ctx context.Context, m UniversalMessage) {
	if strings.TrimSpace(m.Text) == "" {
		return
	}

	key := routeKey(m.Platform, m.ChannelID)
	lock := d.sessionLock(key)
	lock.Lock()
	defer lock.Unlock()

	s := d.sessions.GetOrCreate(key)
	slog.Info("dispatching message",
		"platform", m.Platform, "channel", m.ChannelID, "user", m.UserName, "session", s.ID)

	reply, err := d.run(ctx, s, m.Text)
	if err != nil {
		slog.Error("agent run failed", "platform", m.Platform, "channel", m.ChannelID, "error", err)
		reply = errorNotice
	}
	if reply == "" {
		return
	}

	threadID := ""
	if m.IsThread {
		threadID = m.ThreadID
	}
	d.send(ctx, m.Platform, m.ChannelID, reply, threadID)
}

func (d *Dispatcher) send(ctx context.Context, platform, channelID, text, threadID string) {
	a := d.adapter(platform)
	if a == nil {
		slog.Error("no adapter for platform", "platform", platform)
		return
	}

	if err := d.limiter(routeKey(platform, channelID)).Wait(ctx); err != nil {
		return
	}
	if err := a.Send(ctx, channelID, text, threadID); err != nil {
		slog.Error("send failed", "platform", platform, "channel", channelID, "error", err)
	}
}

func (d *Dispatcher) adapter(platform string) Adapter {
	for _, a := range d.adapters {
		if a.Platform() == platform {
			return a
		}
	}
	return nil
}

func (d *Dispatcher) sessionLock(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[key]
	if !ok {
		l = &sync.Mutex{}
		d.locks[key] = l
	}
	return l
}

func (d *Dispatcher) limiter(key string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[key]
	if !ok {
		l = rate.NewLimiter(d.sendRate, d.sendBurst)
		d.limiters[key] = l
	}
	return l
}

func routeKey(platform, channelID string) string {
	return platform + "-" + channelID
}

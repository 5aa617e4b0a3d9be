// Package bot routes chat-platform messages to agent sessions. Adapters
// translate between platform events and the platform-neutral message
// shape; the dispatcher owns the (platform, channel) to session mapping.
package bot

import (
	"context"
	"time"
)

// UniversalMessage is the platform-neutral inbound message every adapter
// produces.
type UniversalMessage struct {
	Platform  string
	ChannelID string
	ThreadID  string
	UserID    string
	UserName  string
	Text      string
	IsThread  bool
	Timestamp time.Time
	Raw       interface{}
}

// Adapter is one platform connection.
type Adapter interface {
	// Platform returns the stable adapter name ("telegram", "discord", ...).
	Platform() string

	// Start connects and begins delivering inbound messages to inbox. It
	// returns once the connection is established; delivery continues in
	// the background until Stop or context cancellation.
	Start(ctx context.Context, inbox chan<- UniversalMessage) error

	// Stop disconnects and stops delivery.
	Stop(ctx context.Context) error

	// Send delivers text to a channel. threadID is empty outside threads.
	Send(ctx context.Context, channelID, text, threadID string) error
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pigforge/gopig/internal/bot"
	"github.com/pigforge/gopig/internal/bot/discord"
	"github.com/pigforge/gopig/internal/bot/slack"
	"github.com/pigforge/gopig/internal/bot/telegram"
	"github.com/pigforge/gopig/internal/config"
	"github.com/pigforge/gopig/internal/session"
)

func botCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the configured chat-platform bots",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rt, err := buildRuntime(ctx, cfg, false, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer rt.close(context.Background())

			adapters, err := buildAdapters(cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(adapters) == 0 {
				fmt.Fprintln(os.Stderr, "Error: config: bots: no bot adapters enabled")
				os.Exit(1)
			}

			run := func(ctx context.Context, s *session.Session, text string) (string, error) {
				res, err := rt.loop.Run(ctx, s, text)
				if err != nil {
					return "", err
				}
				return res.Content, nil
			}

			d := bot.NewDispatcher(rt.sessions, run, adapters...)
			if err := d.Run(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}
}

func buildAdapters(cfg *config.Config) ([]bot.Adapter, error) {
	var adapters []bot.Adapter

	if cfg.Bots.Telegram.Enabled {
		a, err := telegram.New(telegram.Config{
			Token: cfg.Bots.Telegram.Token,
			Proxy: cfg.Bots.Telegram.Proxy,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	if cfg.Bots.Discord.Enabled {
		a, err := discord.New(discord.Config{Token: cfg.Bots.Discord.Token})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	if cfg.Bots.Slack.Enabled {
		adapters = append(adapters, slack.New(slack.Config{
			BotToken: cfg.Bots.Slack.BotToken,
			AppToken: cfg.Bots.Slack.AppToken,
		}))
	}

	return adapters, nil
}

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pigforge/gopig/internal/fileref"
	"github.com/pigforge/gopig/internal/output"
	"github.com/pigforge/gopig/internal/session"
)

func chatCmd() *cobra.Command {
	var (
		jsonMode  bool
		message   string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent (interactive REPL or one-shot)",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			var emitter *output.Emitter
			var onToken func(string)
			if jsonMode {
				emitter = output.NewEmitter(os.Stdout)
				onToken = emitter.Token
			} else if cfg.Agent.Stream {
				onToken = func(text string) { fmt.Print(text) }
			}

			rt, err := buildRuntime(ctx, cfg, cfg.Agent.Stream || jsonMode, onToken)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer rt.close(context.Background())

			if emitter != nil {
				emitter.Subscribe(rt.hub)
			}

			s := rt.sessions.GetOrCreate(sessionID)

			if message != "" {
				runOnce(ctx, rt, s, message, emitter)
				return
			}
			runREPL(ctx, rt, s, emitter)
		},
	}

	cmd.Flags().BoolVar(&jsonMode, "json", false, "emit JSON event lines instead of plain text")
	cmd.Flags().StringVarP(&message, "message", "m", "", "run a single message and exit")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "cli-default", "session ID")
	return cmd
}

func runOnce(ctx context.Context, rt *runtime, s *session.Session, text string, emitter *output.Emitter) {
	expanded := fileref.Expand(text, rt.workspace)
	res, err := rt.loop.Run(ctx, s, expanded)
	if err != nil {
		if emitter != nil {
			emitter.Error(err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	if emitter != nil {
		emitter.Done(res)
		return
	}
	fmt.Println(res.Content)
}

func runREPL(ctx context.Context, rt *runtime, s *session.Session, emitter *output.Emitter) {
	if emitter == nil {
		fmt.Fprintf(os.Stderr, "gopig chat — model %s, session %s\n", rt.loop.Model(), s.ID)
		fmt.Fprintf(os.Stderr, "/help for commands; ! to steer; >> to queue a follow-up; @file to inline a file\n\n")
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return
		}
		if emitter == nil {
			fmt.Fprint(os.Stderr, "> ")
		}
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "/"):
			if handleCommand(ctx, rt, &s, line) {
				return
			}

		case strings.HasPrefix(line, "!"):
			text := strings.TrimSpace(strings.TrimLeft(line, "!"))
			if text != "" {
				m := rt.queue.Enqueue(text)
				fmt.Fprintf(os.Stderr, "steering queued (#%d)\n", m.Seq)
			}

		case strings.HasPrefix(line, ">>"):
			text := strings.TrimSpace(strings.TrimPrefix(line, ">>"))
			if text != "" {
				m := rt.queue.EnqueueFollowUp(text)
				fmt.Fprintf(os.Stderr, "follow-up queued (#%d)\n", m.Seq)
			}

		default:
			expanded := fileref.Expand(line, rt.workspace)
			res, err := rt.loop.Run(ctx, s, expanded)
			if err != nil {
				if emitter != nil {
					emitter.Error(err)
				} else {
					fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
				}
				continue
			}
			if emitter != nil {
				emitter.Done(res)
			} else if rt.cfg.Agent.Stream {
				fmt.Print("\n\n")
			} else {
				fmt.Printf("\n%s\n\n", res.Content)
			}
		}
	}
}

// handleCommand runs one slash command. Returns true when the REPL should
// exit.
func handleCommand(ctx context.Context, rt *runtime, s **session.Session, line string) bool {
	name, args, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	args = strings.TrimSpace(args)

	switch name {
	case "exit", "quit":
		return true

	case "help":
		fmt.Fprintln(os.Stderr, "built-in commands:")
		fmt.Fprintln(os.Stderr, "  /help /status /clear /compact /fork [name] /sessions /model <name> /exit")
		if names := rt.api.CommandNames(); len(names) > 0 {
			fmt.Fprintf(os.Stderr, "extension commands: /%s\n", strings.Join(names, " /"))
		}

	case "status":
		st := rt.queue.Status()
		fmt.Fprintf(os.Stderr, "session %s: %d entries | model %s | queued: %d steering, %d follow-ups\n",
			(*s).ID, (*s).Len(), rt.loop.Model(), st.Steering, st.FollowUps)

	case "clear":
		steering, followUps := rt.queue.Clear()
		if n := len(steering) + len(followUps); n > 0 {
			fmt.Fprintf(os.Stderr, "dropped %d queued message(s)\n", n)
		}
		fresh := session.New("")
		if err := rt.sessions.Put(fresh); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		*s = fresh
		fmt.Fprintf(os.Stderr, "new session: %s\n", fresh.ID)

	case "compact":
		if !(*s).Compact() {
			fmt.Fprintln(os.Stderr, "nothing to compact")
			break
		}
		if err := rt.sessions.Save(*s); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		fmt.Fprintf(os.Stderr, "compacted to %d entries on the active path\n", len((*s).EffectivePath()))

	case "fork":
		fork := (*s).Fork(args)
		if err := rt.sessions.Put(fork); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		*s = fork
		fmt.Fprintf(os.Stderr, "forked into session %s\n", fork.ID)

	case "sessions":
		metas, err := rt.sessions.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		for _, m := range metas {
			fmt.Fprintf(os.Stderr, "%s  %s  %d entries  updated %s\n",
				m.ID, m.Name, m.Entries, m.UpdatedAt.Format("2006-01-02 15:04"))
		}

	case "model":
		if args == "" {
			fmt.Fprintf(os.Stderr, "model: %s\n", rt.loop.Model())
			break
		}
		rt.loop.SetModel(args)
		fmt.Fprintf(os.Stderr, "model set to %s\n", args)

	default:
		if fn, ok := rt.api.Command(name); ok {
			out, err := fn(ctx, args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				break
			}
			if out != "" {
				fmt.Fprintln(os.Stderr, out)
			}
			break
		}
		fmt.Fprintf(os.Stderr, "unknown command /%s (try /help)\n", name)
	}
	return false
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pigforge/gopig/internal/output"
	"github.com/pigforge/gopig/internal/session"
)

func rpcCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "rpc",
		Short: "Serve line-oriented RPC requests over stdio",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			rt, err := buildRuntime(ctx, cfg, false, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer rt.close(context.Background())

			runner := &rpcRunner{rt: rt, session: rt.sessions.GetOrCreate(sessionID)}
			server := output.NewServer(runner, os.Stdout)
			if err := server.Run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "rpc-default", "session ID")
	return cmd
}

// rpcRunner adapts the agent loop to the RPC server surface.
type rpcRunner struct {
	rt      *runtime
	session *session.Session
}

func (r *rpcRunner) Complete(ctx context.Context, message string) (interface{}, error) {
	return r.rt.loop.Run(ctx, r.session, message)
}

func (r *rpcRunner) Stream(ctx context.Context, message string, onToken func(string)) (interface{}, error) {
	return r.rt.loop.RunStream(ctx, r.session, message, onToken)
}

func (r *rpcRunner) Status() interface{} {
	st := r.rt.queue.Status()
	return map[string]interface{}{
		"session":    r.session.ID,
		"entries":    r.session.Len(),
		"model":      r.rt.loop.Model(),
		"steering":   st.Steering,
		"follow_ups": st.FollowUps,
	}
}

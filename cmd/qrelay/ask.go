package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Veraticus/qrelay/internal/agent"
	"github.com/Veraticus/qrelay/internal/conversation"
	"github.com/Veraticus/qrelay/internal/delivery"
)

const (
	localAppID  = "local"
	localTarget = "terminal"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask q chat one question and print the streamed batches",
		Long: `Ask runs a single question through the same agent pipeline the webhook
uses and prints each flushed batch as it would be delivered to Lark.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}

			history := conversation.NewHistory(conversation.WithLogger(logger))
			sink := &printSink{w: cmd.OutOrStdout()}
			runner, err := newRunner(cfg, sink, history, nil, logger)
			if err != nil {
				return err
			}

			question := strings.Join(args, " ")
			history.Append(userID, conversation.RoleUser, question)
			runner.Run(cmd.Context(), agent.Request{
				Message:     question,
				AppID:       localAppID,
				ReplyTarget: localTarget,
				UserID:      userID,
			})
			return sink.err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "local", "user id the question is recorded under")
	return cmd
}

// printSink writes every delivery unit to w, one block per batch.
type printSink struct {
	w   io.Writer
	mu  sync.Mutex
	err error
}

func (s *printSink) Send(_ context.Context, unit delivery.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, "%s\n\n", unit.Text); err != nil {
		s.err = err
		return &delivery.Error{AppID: unit.AppID, ReplyTarget: unit.ReplyTarget, Err: err}
	}
	return nil
}

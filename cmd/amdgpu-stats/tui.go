package main

import (
	"context"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/retry"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/tui"
)

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var logHandler *tui.LogHandler
	s, err := newSession(ctx, cmd.Flags(), func(level slog.Leveler) slog.Handler {
		logHandler = tui.NewLogHandler(level)
		return logHandler
	})
	if err != nil {
		return err
	}
	defer s.Close()

	evaluator, err := s.evaluator()
	if err != nil {
		return err
	}

	dev, cat, err := s.acquire(ctx, retry.Config{MaxAttempts: 1})
	if err != nil {
		return err
	}

	feed := tui.NewFeed()
	p := s.newPoller(feed.Publish)

	model := tui.New(ctx, tui.Config{
		Poller:    p,
		Locator:   s.locator,
		Evaluator: evaluator,
		Feed:      feed,
		Colors:    true,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	logHandler.SetProgram(program)

	// Records are delivered only while the program runs, so the target is
	// set from the polling goroutine. The metric sources it logs then show
	// on the log screen.
	go func() {
		p.SetTarget(dev, cat)
		_ = p.Run(ctx)
	}()

	_, err = program.Run()
	logHandler.SetProgram(nil)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

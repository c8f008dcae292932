package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
)

// snapshotMsg carries a snapshot published by the polling goroutine.
type snapshotMsg struct {
	snap *gpu.Snapshot
}

// Feed hands snapshots from the polling goroutine to the model. Only the
// newest undelivered snapshot is kept, so a slow screen never blocks polling.
type Feed struct {
	ch chan *gpu.Snapshot
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{ch: make(chan *gpu.Snapshot, 1)}
}

// Publish offers snap to the model, replacing any snapshot not yet delivered.
// It has the signature of poller.Config.OnSnapshot.
func (f *Feed) Publish(snap *gpu.Snapshot) {
	for {
		select {
		case f.ch <- snap:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

// wait returns a command that delivers the next published snapshot.
func (f *Feed) wait(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case snap := <-f.ch:
			return snapshotMsg{snap: snap}
		case <-ctx.Done():
			return nil
		}
	}
}

package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/alert"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/poller"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/retry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	tree    *gpu.FakeTree
	poller  *poller.Poller
	locator *gpu.Locator
	feed    *Feed
}

func newFixture(t *testing.T, cards ...int) *fixture {
	t.Helper()
	tree, err := gpu.NewFakeTree(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, idx := range cards {
		if err := tree.AddAMDCard(idx, idx); err != nil {
			t.Fatal(err)
		}
	}

	feed := NewFeed()
	loc := gpu.NewLocator(gpu.WithRoot(tree.Root()), gpu.WithLogger(quietLogger()))
	p := poller.New(gpu.NewBuilder(gpu.NewReader(gpu.WithTimeout(0))), poller.Config{
		OnSnapshot: feed.Publish,
		Logger:     quietLogger(),
	})
	dev, cat, err := poller.Acquire(context.Background(), loc, "", retry.Config{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.SetTarget(dev, cat)
	return &fixture{tree: tree, poller: p, locator: loc, feed: feed}
}

func (f *fixture) model(t *testing.T, evaluator *alert.Evaluator) Model {
	t.Helper()
	return New(context.Background(), Config{
		Poller:    f.poller,
		Locator:   f.locator,
		Evaluator: evaluator,
		Feed:      f.feed,
	})
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

// deliver runs the model's Init command after one poll and feeds the
// resulting message back into the model.
func deliver(t *testing.T, f *fixture, m Model) Model {
	t.Helper()
	if _, ok := f.poller.PollOnce(context.Background()); !ok {
		t.Fatal("PollOnce() skipped")
	}
	msg := m.Init()()
	if _, ok := msg.(snapshotMsg); !ok {
		t.Fatalf("Init() produced %T, want snapshotMsg", msg)
	}
	updated, cmd := m.Update(msg)
	if cmd == nil {
		t.Error("snapshot should re-arm the feed")
	}
	return updated.(Model)
}

func TestModel_WaitingView(t *testing.T) {
	f := newFixture(t, 0)
	m := f.model(t, nil)

	view := m.View()
	if !strings.Contains(view, "waiting for first reading") {
		t.Errorf("View() before any snapshot = %q", view)
	}
	if !strings.Contains(view, "card0") {
		t.Errorf("header should name the target card: %q", view)
	}
}

func TestModel_SnapshotView(t *testing.T) {
	f := newFixture(t, 0)
	m := deliver(t, f, f.model(t, nil))

	view := m.View()
	for _, want := range []string{
		"Clocks", "Power", "Misc",
		"card0", "Radeon RX 7900 XTX", "units: adaptive",
		"GPU clock:", "1.85 GHz",
		"edge temp:", "45.0°C",
		"Power:", "150.0 W",
		"GPU busy:", "37%",
		"c colors", "q quit",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q:\n%s", want, view)
		}
	}
}

func TestModel_BoxContents(t *testing.T) {
	f := newFixture(t, 0)
	m := deliver(t, f, f.model(t, nil))

	tests := []struct {
		box     string
		want    []string
		notWant []string
	}{
		{"Clocks", []string{"GPU clock:", "GPU voltage:"}, []string{"Fan:"}},
		{"Power", []string{"Power:"}, []string{"Fan:", "edge temp:"}},
		{"Misc", []string{"GPU busy:", "edge temp:", "Fan:"}, []string{"GPU clock:"}},
	}

	for _, tt := range tests {
		t.Run(tt.box, func(t *testing.T) {
			var rendered string
			for _, bx := range boxes {
				if bx.title == tt.box {
					rendered = m.renderBox(bx)
				}
			}
			if rendered == "" {
				t.Fatalf("no box titled %s", tt.box)
			}
			for _, want := range tt.want {
				if !strings.Contains(rendered, want) {
					t.Errorf("%s box missing %q:\n%s", tt.box, want, rendered)
				}
			}
			for _, unwanted := range tt.notWant {
				if strings.Contains(rendered, unwanted) {
					t.Errorf("%s box should not contain %q:\n%s", tt.box, unwanted, rendered)
				}
			}
		})
	}
}

func TestModel_Placeholders(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.tree.RemoveHwmon(0, "fan1_input"); err != nil {
		t.Fatal(err)
	}
	if err := f.tree.WriteHwmon(0, "freq1_input", "garbage"); err != nil {
		t.Fatal(err)
	}
	m := deliver(t, f, f.model(t, nil))

	view := m.View()
	if !strings.Contains(view, gpu.PlaceholderAbsent) {
		t.Errorf("View() should show %q for the missing fan:\n%s", gpu.PlaceholderAbsent, view)
	}
	if !strings.Contains(view, gpu.PlaceholderError) {
		t.Errorf("View() should show %q for the unparsable clock:\n%s", gpu.PlaceholderError, view)
	}
}

func TestModel_Quit(t *testing.T) {
	f := newFixture(t, 0)
	m := f.model(t, nil)

	for _, msg := range []tea.KeyMsg{keyPress('q'), {Type: tea.KeyCtrlC}} {
		_, cmd := m.Update(msg)
		if cmd == nil {
			t.Fatalf("%s: expected quit command", msg)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: command did not quit", msg)
		}
	}
}

func TestModel_ToggleColors(t *testing.T) {
	f := newFixture(t, 0)
	m := f.model(t, nil)

	updated, _ := m.Update(keyPress('c'))
	if !updated.(Model).colors {
		t.Error("colors = false after first toggle, want true")
	}
	updated, _ = updated.Update(keyPress('c'))
	if updated.(Model).colors {
		t.Error("colors = true after second toggle, want false")
	}
}

func TestModel_LogScreen(t *testing.T) {
	f := newFixture(t, 0)
	var m tea.Model = f.model(t, nil)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 20})

	m, _ = m.Update(logRecordMsg{Time: time.Now(), Level: slog.LevelInfo, Summary: "polling device (card=card0)"})
	m, _ = m.Update(logRecordMsg{Time: time.Now(), Level: slog.LevelWarn, Summary: "metric unavailable (metric=fan_rpm)"})

	if got := m.(Model).status; got != "metric unavailable (metric=fan_rpm)" {
		t.Errorf("status = %q, want the warning", got)
	}
	if !strings.Contains(m.View(), "metric unavailable") {
		t.Error("stats screen should show the latest warning")
	}

	m, _ = m.Update(keyPress('l'))
	view := m.View()
	if !strings.Contains(view, "Logs (2)") {
		t.Errorf("log screen title missing:\n%s", view)
	}
	if !strings.Contains(view, "polling device (card=card0)") {
		t.Errorf("log screen missing info record:\n%s", view)
	}

	m, _ = m.Update(keyPress('l'))
	if strings.Contains(m.View(), "Logs (") {
		t.Error("second toggle should return to the stats screen")
	}
}

func TestModel_LogRingBuffer(t *testing.T) {
	f := newFixture(t, 0)
	var m tea.Model = f.model(t, nil)

	for i := range maxLogLines + 25 {
		m, _ = m.Update(logRecordMsg{Level: slog.LevelInfo, Summary: fmt.Sprintf("line %d", i)})
	}

	logs := m.(Model).logs
	if len(logs) != maxLogLines {
		t.Fatalf("len(logs) = %d, want %d", len(logs), maxLogLines)
	}
	if logs[0].Summary != "line 25" {
		t.Errorf("oldest kept = %q, want line 25", logs[0].Summary)
	}
	if last := logs[len(logs)-1].Summary; last != fmt.Sprintf("line %d", maxLogLines+24) {
		t.Errorf("newest = %q", last)
	}
}

func TestModel_NextCard(t *testing.T) {
	f := newFixture(t, 0, 1)
	m := deliver(t, f, f.model(t, nil))

	_, cmd := m.Update(keyPress('n'))
	if cmd == nil {
		t.Fatal("next card should return a command")
	}
	cycled, ok := cmd().(cycledMsg)
	if !ok {
		t.Fatal("command did not produce cycledMsg")
	}
	if cycled.err != nil {
		t.Fatalf("Cycle() error = %v", cycled.err)
	}
	if cycled.device.ID != "card1" {
		t.Errorf("switched to %s, want card1", cycled.device.ID)
	}

	updated, cmd := m.Update(cycled)
	if cmd == nil {
		t.Fatal("switching cards should poll the new card")
	}
	updated, _ = updated.Update(cmd())

	got := updated.(Model)
	if got.snap.Device().ID != "card1" {
		t.Errorf("snapshot device = %s, want card1", got.snap.Device().ID)
	}
	if !strings.Contains(got.View(), "switched to card1") {
		t.Errorf("View() should report the switch:\n%s", got.View())
	}
}

func TestModel_NextCardError(t *testing.T) {
	f := newFixture(t, 0)
	m := f.model(t, nil)

	updated, cmd := m.Update(cycledMsg{err: errors.New("boom")})
	if cmd != nil {
		t.Error("failed switch should not poll")
	}
	if got := updated.(Model).status; got != "next card: boom" {
		t.Errorf("status = %q", got)
	}
}

func TestModel_Alerts(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.tree.SetHwmon(0, "temp1_input", 101000); err != nil {
		t.Fatal(err)
	}
	evaluator, err := alert.NewEvaluator(alert.DefaultPolicy())
	if err != nil {
		t.Fatal(err)
	}
	m := deliver(t, f, f.model(t, evaluator))

	view := m.View()
	if !strings.Contains(view, "CRITICAL: edge-critical, edge-hot") {
		t.Errorf("alert line missing:\n%s", view)
	}
}

func TestFeed_KeepsNewest(t *testing.T) {
	feed := NewFeed()
	first := gpu.NewSnapshot(gpu.Device{ID: "card0"}, time.Now(), gpu.Adaptive(), nil, nil)
	second := gpu.NewSnapshot(gpu.Device{ID: "card0"}, time.Now(), gpu.Adaptive(), nil, nil)

	feed.Publish(first)
	feed.Publish(second)

	msg := feed.wait(context.Background())()
	got, ok := msg.(snapshotMsg)
	if !ok {
		t.Fatalf("wait() produced %T", msg)
	}
	if got.snap != second {
		t.Error("feed delivered a stale snapshot")
	}
}

func TestFeed_WaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if msg := NewFeed().wait(ctx)(); msg != nil {
		t.Errorf("wait() after cancel = %v, want nil", msg)
	}
}

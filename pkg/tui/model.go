// Package tui is the interactive stats screen: a bubbletea program that
// renders the latest snapshot of the polled card.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/alert"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/poller"
)

// maxLogLines is the number of log records kept for the log screen.
const maxLogLines = 200

// labelWidth is the column width of metric titles inside a box.
const labelWidth = 14

// polledMsg carries the result of an on-demand poll.
type polledMsg struct {
	snap *gpu.Snapshot
	err  error
}

// cycledMsg reports the outcome of switching to the next card.
type cycledMsg struct {
	device gpu.Device
	err    error
}

// box groups metric categories under a title.
type box struct {
	title      string
	categories []gpu.Category
}

var boxes = []box{
	{"Clocks", []gpu.Category{gpu.CategoryClock, gpu.CategoryVoltage}},
	{"Power", []gpu.Category{gpu.CategoryPower}},
	{"Misc", []gpu.Category{gpu.CategoryUtilization, gpu.CategoryTemperature, gpu.CategoryFan, gpu.CategoryMemory}},
}

// Config configures a Model.
type Config struct {
	Poller *poller.Poller

	// Locator enables switching cards. Nil disables the next-card key.
	Locator *gpu.Locator

	// Evaluator, if set, evaluates every snapshot for the alert line.
	Evaluator *alert.Evaluator

	// Feed delivers snapshots from the polling goroutine.
	Feed *Feed

	Theme  *Theme
	Colors bool
}

// Model is the bubbletea model of the stats screen.
type Model struct {
	ctx       context.Context
	poller    *poller.Poller
	locator   *gpu.Locator
	evaluator *alert.Evaluator
	feed      *Feed
	keys      KeyMap
	help      help.Model
	theme     Theme
	styles    styles
	colors    bool

	snap   *gpu.Snapshot
	alerts *alert.Result

	// status is the most recent warning or error shown above the footer.
	status string

	showLogs bool
	logs     []logRecordMsg
	logView  viewport.Model

	width  int
	height int
}

// New creates the model. ctx bounds the polls and card switches it starts.
func New(ctx context.Context, cfg Config) Model {
	theme := DefaultTheme
	if cfg.Theme != nil {
		theme = *cfg.Theme
	}
	m := Model{
		ctx:       ctx,
		poller:    cfg.Poller,
		locator:   cfg.Locator,
		evaluator: cfg.Evaluator,
		feed:      cfg.Feed,
		keys:      DefaultKeyMap,
		help:      help.New(),
		theme:     theme,
		styles:    newStyles(theme, cfg.Colors),
		colors:    cfg.Colors,
		logView:   viewport.New(0, 0),
	}
	m.styleHelp()
	if snap := cfg.Poller.Latest(); snap != nil {
		m.apply(snap)
	}
	return m
}

func (m *Model) styleHelp() {
	m.help.Styles.ShortKey = m.styles.value
	m.help.Styles.ShortDesc = m.styles.help
	m.help.Styles.ShortSeparator = m.styles.help
}

// Init waits for the first published snapshot.
func (m Model) Init() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	return m.feed.wait(m.ctx)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.logView.Width = msg.Width
		m.logView.Height = max(msg.Height-2, 1)
		m.refreshLogView()
		return m, nil

	case snapshotMsg:
		m.apply(msg.snap)
		return m, m.feed.wait(m.ctx)

	case polledMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
			return m, nil
		}
		m.apply(msg.snap)
		return m, nil

	case cycledMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("next card: %v", msg.err)
			return m, nil
		}
		m.status = "switched to " + msg.device.String()
		return m, m.pollNow()

	case logRecordMsg:
		m.appendLog(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Colors):
		m.colors = !m.colors
		m.styles = newStyles(m.theme, m.colors)
		m.styleHelp()
	case key.Matches(msg, m.keys.Logs):
		m.showLogs = !m.showLogs
		if m.showLogs {
			m.refreshLogView()
		}
	case key.Matches(msg, m.keys.NextCard):
		if m.locator != nil {
			return m, m.cycle()
		}
	case m.showLogs && key.Matches(msg, m.keys.Up):
		m.logView.LineUp(1)
	case m.showLogs && key.Matches(msg, m.keys.Down):
		m.logView.LineDown(1)
	}
	return m, nil
}

func (m *Model) apply(snap *gpu.Snapshot) {
	if snap == nil {
		return
	}
	m.snap = snap
	if m.evaluator != nil {
		m.alerts = m.evaluator.Evaluate(m.ctx, snap)
	}
}

func (m *Model) appendLog(rec logRecordMsg) {
	if len(m.logs) >= maxLogLines {
		m.logs = append([]logRecordMsg(nil), m.logs[len(m.logs)-maxLogLines+1:]...)
	}
	m.logs = append(m.logs, rec)
	if rec.Level >= slog.LevelWarn {
		m.status = rec.Summary
	}
	m.refreshLogView()
}

func (m *Model) refreshLogView() {
	lines := make([]string, len(m.logs))
	for i, rec := range m.logs {
		lines[i] = fmt.Sprintf("%s %-5s %s", rec.Time.Format("15:04:05"), rec.Level, rec.Summary)
	}
	m.logView.SetContent(strings.Join(lines, "\n"))
	m.logView.GotoBottom()
}

// pollNow returns a command that polls the current target once.
func (m Model) pollNow() tea.Cmd {
	ctx, p := m.ctx, m.poller
	return func() tea.Msg {
		snap, err := p.Snapshot(ctx)
		return polledMsg{snap: snap, err: err}
	}
}

// cycle returns a command that switches the poller to the next card.
func (m Model) cycle() tea.Cmd {
	ctx, p, loc := m.ctx, m.poller, m.locator
	return func() tea.Msg {
		dev, err := p.Cycle(ctx, loc)
		return cycledMsg{device: dev, err: err}
	}
}

// View renders the stats screen, or the log screen when toggled.
func (m Model) View() string {
	if m.showLogs {
		return m.logScreen()
	}

	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n\n")

	if m.snap == nil {
		b.WriteString(m.styles.absent.Render("waiting for first reading..."))
		b.WriteString("\n")
	} else {
		rendered := make([]string, len(boxes))
		for i, bx := range boxes {
			rendered[i] = m.renderBox(bx)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
		b.WriteString("\n")
	}

	if line := m.alertLine(); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(m.styles.warning.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) header() string {
	dev, _, ok := m.poller.Target()
	if m.snap != nil {
		dev, ok = m.snap.Device(), true
	}
	if !ok {
		return m.styles.header.Render("no card selected")
	}

	parts := []string{dev.ID}
	if dev.Product != "" {
		parts = append(parts, dev.Product)
	} else if dev.Vendor != "" {
		parts = append(parts, dev.Vendor)
	}
	if dev.PCISlot != "" {
		parts = append(parts, dev.PCISlot)
	}
	parts = append(parts, "units: "+m.poller.Mode().String())
	return m.styles.header.Render(strings.Join(parts, "  "))
}

func (m Model) renderBox(bx box) string {
	var rows []string
	for _, cat := range bx.categories {
		for _, e := range m.snap.ByCategory(cat) {
			rows = append(rows, m.row(e))
		}
	}
	if len(rows) == 0 {
		rows = append(rows, m.styles.absent.Render("no sensors"))
	}
	return m.styles.box.Render(m.styles.title.Render(bx.title) + "\n" + strings.Join(rows, "\n"))
}

func (m Model) row(e gpu.Entry) string {
	label := m.styles.label.Render(fmt.Sprintf("%-*s", labelWidth, e.Title()+":"))
	style := m.styles.value
	switch e.Status {
	case gpu.StatusAbsent:
		style = m.styles.absent
	case gpu.StatusError:
		style = m.styles.failed
	}
	return label + " " + style.Render(e.Text())
}

func (m Model) alertLine() string {
	if m.alerts == nil || !m.alerts.Firing() {
		return ""
	}
	names := make([]string, 0, len(m.alerts.Matches))
	for _, match := range m.alerts.Matches {
		names = append(names, match.Rule)
	}
	style := m.styles.warning
	if m.alerts.Severity == alert.SeverityCritical {
		style = m.styles.critical
	}
	return style.Render(fmt.Sprintf("%s: %s", strings.ToUpper(string(m.alerts.Severity)), strings.Join(names, ", ")))
}

func (m Model) logScreen() string {
	title := m.styles.title.Render(fmt.Sprintf("Logs (%d)", len(m.logs)))
	return title + "\n" + m.logView.View() + "\n" + m.help.View(logKeys{m.keys})
}

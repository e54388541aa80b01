// Package lockmon is an interactive terminal view of the lock event stream
// of a running database.
package lockmon

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"xmlstore/pkg/concurrency/lock"
	"xmlstore/pkg/debug/lockdump"
	"xmlstore/pkg/debug/ui"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	maxEvents     = 500
	refreshPeriod = 500 * time.Millisecond
	visibleRows   = 20
)

// Feed is a lock table listener that buffers events for the monitor. When
// the buffer is full new events are counted and dropped, so the lock table
// consumer never waits for the screen.
type Feed struct {
	events  chan lock.Event
	dropped atomic.Int64
}

func NewFeed(buffer int) *Feed {
	return &Feed{events: make(chan lock.Event, buffer)}
}

// Accept implements locktable.Listener.
func (f *Feed) Accept(ev lock.Event) {
	select {
	case f.events <- ev:
	default:
		f.dropped.Add(1)
	}
}

// Dropped returns how many events did not fit the buffer.
func (f *Feed) Dropped() int64 { return f.dropped.Load() }

// Run shows the monitor until the user quits or ctx is done.
func Run(ctx context.Context, src lockdump.Source) error {
	feed := NewFeed(1024)
	table := src.LockTable()
	table.RegisterListener(feed)
	defer table.DeregisterListener(feed)

	p := tea.NewProgram(
		newModel(src, feed),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type eventMsg lock.Event

type tickMsg time.Time

type model struct {
	src  lockdump.Source
	feed *Feed

	events     []lock.Event
	cursor     int
	follow     bool
	detailMode bool
	locksMode  bool
	summary    string

	viewport viewport.Model
	locks    table.Model
	spinner  spinner.Model
	help     help.Model
	width    int
	height   int
}

var lockColumns = []table.Column{
	{Title: "Type", Width: 10},
	{Title: "Lock", Width: 28},
	{Title: "Mode", Width: 10},
	{Title: "Owners", Width: 18},
	{Title: "Wait R", Width: 14},
	{Title: "Wait W", Width: 14},
}

func newModel(src lockdump.Source, feed *Feed) model {
	t := table.New(
		table.WithColumns(lockColumns),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(visibleRows),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ui.PrimaryColor).
		BorderBottom(true).
		Bold(true).
		Foreground(ui.PrimaryColor)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(ui.PrimaryColor).
		Bold(false)
	t.SetStyles(s)

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(ui.SecondaryColor)

	return model{
		src:      src,
		feed:     feed,
		follow:   true,
		summary:  lockdump.Summary(src),
		viewport: viewport.New(80, 20),
		locks:    t,
		spinner:  sp,
		help:     help.New(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), tick(), m.spinner.Tick)
}

// lockRows turns the current lock snapshot into table rows. Idle locks are
// left out.
func lockRows(infos []lock.LockInfo) []table.Row {
	rows := make([]table.Row, 0, len(infos))
	for _, info := range infos {
		if len(info.Owners) == 0 && len(info.WaitingForRead) == 0 && len(info.WaitingForWrite) == 0 {
			continue
		}
		rows = append(rows, table.Row{
			info.Type.String(),
			info.ID,
			info.Mode.String(),
			strings.Join(info.Owners, ","),
			strings.Join(info.WaitingForRead, ","),
			strings.Join(info.WaitingForWrite, ","),
		})
	}
	return rows
}

func (m model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.feed.events)
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshPeriod, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keys := ui.CommonKeys

	switch msg := msg.(type) {
	case eventMsg:
		m.events = append(m.events, lock.Event(msg))
		if over := len(m.events) - maxEvents; over > 0 {
			m.events = m.events[over:]
			m.cursor = max(0, m.cursor-over)
		}
		if m.follow {
			m.cursor = len(m.events) - 1
		}
		return m, m.waitForEvent()

	case tickMsg:
		m.summary = lockdump.Summary(m.src)
		if m.detailMode {
			m.viewport.SetContent(m.renderDetailView())
		}
		if m.locksMode {
			m.locks.SetRows(lockRows(m.src.Locks()))
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport = viewport.New(msg.Width-4, msg.Height-10)
		m.locks.SetHeight(max(1, msg.Height-10))
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if m.detailMode {
			switch {
			case key.Matches(msg, keys.Back):
				m.detailMode = false
				return m, nil
			case key.Matches(msg, keys.Quit):
				return m, tea.Quit
			}
			break
		}

		if m.locksMode {
			switch {
			case key.Matches(msg, keys.Locks), key.Matches(msg, keys.Back):
				m.locksMode = false
				return m, nil
			case key.Matches(msg, keys.Quit):
				return m, tea.Quit
			}
			var cmd tea.Cmd
			m.locks, cmd = m.locks.Update(msg)
			return m, cmd
		}

		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Locks):
			m.locksMode = true
			m.locks.SetRows(lockRows(m.src.Locks()))
		case key.Matches(msg, keys.Up):
			m.follow = false
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.events)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Pause):
			m.follow = !m.follow
			if m.follow && len(m.events) > 0 {
				m.cursor = len(m.events) - 1
			}
		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, keys.Select):
			if m.cursor < len(m.events) {
				m.detailMode = true
				m.viewport.SetContent(m.renderDetailView())
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(ui.RenderTitle("🔒", "Lock Monitor") + "\n\n")

	switch {
	case m.detailMode:
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
		b.WriteString(ui.HelpStyle.Render("esc: back | q: quit"))
	case m.locksMode:
		b.WriteString(m.renderLocksView())
		b.WriteString(ui.HelpStyle.Render("↑/↓: move | tab: events | q: quit"))
	default:
		b.WriteString(m.renderListView())
		b.WriteString(ui.HelpStyle.Render(m.help.View(ui.CommonKeys)))
	}

	b.WriteString("\n" + m.renderStatusBar())
	return b.String()
}

func (m model) renderListView() string {
	var b strings.Builder
	b.WriteString(ui.HeaderStyle.Render(" "+m.summary+" ") + "\n\n")

	if len(m.events) == 0 {
		b.WriteString(ui.MutedStyle.Render("waiting for lock events...") + "\n")
		return b.String()
	}

	start := max(0, m.cursor-visibleRows/2)
	end := min(len(m.events), start+visibleRows)
	for i := start; i < end; i++ {
		line := formatEventLine(m.events[i])
		if i == m.cursor {
			line = ui.SelectedItemStyle.Render("▶ " + line)
		} else {
			line = ui.ItemStyle.Render("  " + line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m model) renderLocksView() string {
	var b strings.Builder
	b.WriteString(ui.HeaderStyle.Render(" "+m.summary+" ") + "\n\n")
	if len(m.locks.Rows()) == 0 {
		b.WriteString(ui.MutedStyle.Render("no lock is held or awaited") + "\n")
		return b.String()
	}
	b.WriteString(m.locks.View() + "\n")
	return b.String()
}

func formatEventLine(ev lock.Event) string {
	return fmt.Sprintf("%s %s │ %s │ %s │ %s",
		ui.MutedStyle.Render(ev.Timestamp.Format("15:04:05.000")),
		colorizeAction(ev.Action),
		ui.PadString(ev.Mode.String(), 10),
		ui.PadString(ev.Owner, 10),
		ui.TruncateString(ev.ID, 40))
}

func colorizeAction(a lock.Action) string {
	var color lipgloss.AdaptiveColor
	var icon string

	switch a {
	case lock.ActionAttempt:
		color, icon = ui.SecondaryColor, "…"
	case lock.ActionAcquired:
		color, icon = ui.SuccessColor, "✓"
	case lock.ActionAttemptFailed:
		color, icon = ui.ErrorColor, "✗"
	case lock.ActionReleased:
		color, icon = ui.MutedColor, "↶"
	default:
		color, icon = ui.MutedColor, "?"
	}
	return lipgloss.NewStyle().Foreground(color).Render(icon + " " + ui.PadString(a.String(), 13))
}

func (m model) renderDetailView() string {
	if m.cursor >= len(m.events) {
		return ""
	}
	ev := m.events[m.cursor]

	var b strings.Builder
	b.WriteString(renderKeyValue("Action", ev.Action.String()))
	b.WriteString(renderKeyValue("Lock", ev.ID))
	b.WriteString(renderKeyValue("Type", ev.Type.String()))
	b.WriteString(renderKeyValue("Mode", ev.Mode.String()))
	b.WriteString(renderKeyValue("Owner", ev.Owner))
	b.WriteString(renderKeyValue("Count", fmt.Sprint(ev.Count)))
	b.WriteString(renderKeyValue("Time", ev.Timestamp.Format(time.RFC3339Nano)))
	if ev.Reason != "" {
		b.WriteString(renderKeyValue("Call site", ev.Reason))
	}

	b.WriteString("\n")
	b.WriteString(lockdump.Printer{Styled: true}.Locks(m.src.Locks()))
	return ui.DetailStyle.Render(b.String())
}

func renderKeyValue(k, v string) string {
	return fmt.Sprintf("%s %s\n", ui.LabelStyle.Render(k+":"), ui.ValueStyle.Render(v))
}

func (m model) renderStatusBar() string {
	mode := m.spinner.View() + " Following"
	if !m.follow {
		mode = "Paused"
	}
	switch {
	case m.detailMode:
		mode = "Detail"
	case m.locksMode:
		mode = "Locks"
	}
	status := fmt.Sprintf(" %s | Event: %d/%d", mode, min(m.cursor+1, len(m.events)), len(m.events))
	if d := m.feed.Dropped(); d > 0 {
		status += fmt.Sprintf(" | dropped: %d", d)
	}
	return ui.RenderStatusBar(status + " ")
}

// Package ui holds the palette, styles and key bindings shared by the lock
// debugging tools.
package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

// Color palette - shared across all tools
var (
	PrimaryColor   = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7C79FF"}
	SecondaryColor = lipgloss.AdaptiveColor{Light: "#EE6FF8", Dark: "#F780FF"}
	SuccessColor   = lipgloss.AdaptiveColor{Light: "#02BA84", Dark: "#02D98E"}
	WarningColor   = lipgloss.AdaptiveColor{Light: "#FF8C00", Dark: "#FFA500"}
	ErrorColor     = lipgloss.AdaptiveColor{Light: "#FF5F56", Dark: "#FF6B6B"}
	MutedColor     = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
	FgColor        = lipgloss.AdaptiveColor{Light: "#1E1E2E", Dark: "#CDD6F4"}
)

// Common styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(PrimaryColor).
			Padding(0, 1)

	SelectedItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(PrimaryColor).
				Bold(true).
				Padding(0, 1)

	ItemStyle = lipgloss.NewStyle().
			Foreground(FgColor).
			Padding(0, 1)

	DetailStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(PrimaryColor).
			Padding(1, 2).
			MarginTop(1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)

	ValueStyle = lipgloss.NewStyle().
			Foreground(FgColor)

	MutedStyle = lipgloss.NewStyle().
			Foreground(MutedColor)

	HelpStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			MarginTop(1).
			Padding(0, 1)

	StatusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(PrimaryColor).
			Padding(0, 1).
			MarginTop(1)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true).
			Padding(1)

	WarningStyle = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(SuccessColor).
			Bold(true)
)

// Common key bindings
type CommonKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Back   key.Binding
	Pause  key.Binding
	Locks  key.Binding
	Help   key.Binding
	Quit   key.Binding
}

var CommonKeys = CommonKeyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "move up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "move down"),
	),
	Select: key.NewBinding(
		key.WithKeys("enter", " "),
		key.WithHelp("enter/space", "view details"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc", "backspace"),
		key.WithHelp("esc", "back"),
	),
	Pause: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "pause/follow"),
	),
	Locks: key.NewBinding(
		key.WithKeys("tab", "l"),
		key.WithHelp("tab/l", "events/locks"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "toggle help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp implements help.KeyMap.
func (k CommonKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Select, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k CommonKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Select, k.Back},
		{k.Pause, k.Locks, k.Help, k.Quit},
	}
}

// PadString pads s with spaces on the right to width runes.
func PadString(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// TruncateString shortens s to at most width runes, marking the cut.
func TruncateString(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width <= 1 {
		return string(r[:width])
	}
	return string(r[:width-1]) + "…"
}

// RenderError renders an error message with instructions to quit
func RenderError(err error) string {
	return ErrorStyle.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		"Error: "+err.Error(),
		"",
		"Press q to quit.",
	))
}

// RenderStatusBar renders a status bar with the given text
func RenderStatusBar(text string) string {
	return StatusBarStyle.Render(text)
}

// RenderTitle renders a title with an icon
func RenderTitle(icon, title string) string {
	return TitleStyle.Render(icon + "  " + title)
}

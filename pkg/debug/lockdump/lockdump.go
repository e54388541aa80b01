// Package lockdump renders a report of the locks of a database: live locks
// with their owners and waiters, the lock table projections and the wait
// registry.
package lockdump

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"xmlstore/pkg/concurrency/lock"
	"xmlstore/pkg/concurrency/locktable"
	"xmlstore/pkg/debug/ui"

	"github.com/charmbracelet/lipgloss"
)

// Source is what a report is built from; *database.Database satisfies it.
type Source interface {
	Locks() []lock.LockInfo
	LockTable() *locktable.LockTable
	Detector() *lock.DeadlockDetection
}

// Printer writes reports, optionally with terminal styling.
type Printer struct {
	Styled bool
	// All includes locks nobody holds or waits for.
	All bool
}

func (p Printer) style(s lipgloss.Style, text string) string {
	if !p.Styled {
		return text
	}
	return s.Render(text)
}

// Write writes the full report for src.
func (p Printer) Write(w io.Writer, src Source) error {
	var b strings.Builder

	b.WriteString(p.section("Locks"))
	b.WriteString(p.Locks(src.Locks()))

	table := src.LockTable()
	if table.Enabled() {
		b.WriteString(p.section("Acquired"))
		b.WriteString(p.Entries(table.Acquired()))
		b.WriteString(p.section("Attempting"))
		b.WriteString(p.Entries(table.Attempting()))
	}

	b.WriteString(p.section("Waits"))
	var waits bytes.Buffer
	if err := src.Detector().Dump(&waits); err != nil {
		return err
	}
	b.WriteString(p.style(ui.MutedStyle, waits.String()))

	_, err := io.WriteString(w, b.String())
	return err
}

func (p Printer) section(title string) string {
	if p.Styled {
		return ui.RenderTitle("▸", title) + "\n"
	}
	return "== " + title + " ==\n"
}

// Locks renders one line per lock.
func (p Printer) Locks(infos []lock.LockInfo) string {
	rows := [][]string{{"TYPE", "ID", "MODE", "OWNERS", "WAIT READ", "WAIT WRITE"}}
	for _, info := range infos {
		idle := info.Mode == lock.NoLock && len(info.WaitingForRead) == 0 && len(info.WaitingForWrite) == 0
		if idle && !p.All {
			continue
		}
		rows = append(rows, []string{
			info.Type.String(),
			info.ID,
			info.Mode.String(),
			join(info.Owners),
			join(info.WaitingForRead),
			join(info.WaitingForWrite),
		})
	}
	if len(rows) == 1 {
		return p.style(ui.MutedStyle, "no locks held") + "\n"
	}
	return p.table(rows, func(col int, cell string) string {
		if col == 2 {
			return p.modeStyle(cell)
		}
		return cell
	})
}

// Entries renders lock table projection rows.
func (p Printer) Entries(entries []locktable.Entry) string {
	if len(entries) == 0 {
		return p.style(ui.MutedStyle, "none") + "\n"
	}
	rows := [][]string{{"ID", "TYPE", "MODE", "OWNER", "COUNT"}}
	for _, e := range entries {
		rows = append(rows, []string{e.ID, e.Type.String(), e.Mode.String(), e.Owner, strconv.Itoa(e.Count)})
	}
	return p.table(rows, func(col int, cell string) string {
		if col == 2 {
			return p.modeStyle(cell)
		}
		return cell
	})
}

func (p Printer) modeStyle(mode string) string {
	switch mode {
	case lock.WriteLock.String():
		return p.style(ui.WarningStyle, mode)
	case lock.ReadLock.String():
		return p.style(ui.SuccessStyle, mode)
	}
	return mode
}

// table lays rows out in padded columns; the first row is the header.
func (p Printer) table(rows [][]string, cell func(col int, text string) string) string {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, c := range row {
			widths[i] = max(widths[i], len(c))
		}
	}

	var b strings.Builder
	for r, row := range rows {
		for i, c := range row {
			text := c
			if i < len(row)-1 {
				text = ui.PadString(c, widths[i]+2)
			}
			if r == 0 {
				text = p.style(ui.LabelStyle, text)
			} else {
				// Pad first so styling does not disturb alignment.
				text = strings.Replace(text, c, cell(i, c), 1)
			}
			b.WriteString(text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func join(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

// Summary is a one-line count of what Write would show.
func Summary(src Source) string {
	held, waiting := 0, 0
	for _, info := range src.Locks() {
		if info.Mode != lock.NoLock {
			held++
		}
		waiting += len(info.WaitingForRead) + len(info.WaitingForWrite)
	}
	return fmt.Sprintf("%d locks held, %d owners waiting", held, waiting)
}

package lockmon

import (
	"testing"
	"time"
	"xmlstore/pkg/concurrency/lock"
	"xmlstore/pkg/concurrency/locktable"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emptySource struct {
	table    *locktable.LockTable
	detector *lock.DeadlockDetection
}

func (s emptySource) Locks() []lock.LockInfo            { return nil }
func (s emptySource) LockTable() *locktable.LockTable   { return s.table }
func (s emptySource) Detector() *lock.DeadlockDetection { return s.detector }

func newTestModel() model {
	src := emptySource{
		table:    locktable.New(locktable.DefaultConfig()),
		detector: lock.NewDeadlockDetection(),
	}
	return newModel(src, NewFeed(4))
}

func send(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(model)
	require.True(t, ok)
	return out
}

func testEvent(id string, action lock.Action) eventMsg {
	return eventMsg(lock.Event{
		Action:    action,
		ID:        id,
		Type:      lock.ResourceLockType,
		Mode:      lock.WriteLock,
		Owner:     "owner-1",
		Count:     1,
		Timestamp: time.Now(),
	})
}

func TestFeed_DropsWhenFull(t *testing.T) {
	feed := NewFeed(2)
	for range 5 {
		feed.Accept(lock.Event{ID: "doc"})
	}
	assert.Len(t, feed.events, 2)
	assert.EqualValues(t, 3, feed.Dropped())
}

func TestModel_FollowsEvents(t *testing.T) {
	m := newTestModel()
	m = send(t, m, testEvent("doc1", lock.ActionAttempt))
	m = send(t, m, testEvent("doc1", lock.ActionAcquired))

	assert.Len(t, m.events, 2)
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.View(), "doc1")
	assert.Contains(t, m.View(), "Following")
}

func TestModel_Navigation(t *testing.T) {
	m := newTestModel()
	for _, id := range []string{"a", "b", "c"} {
		m = send(t, m, testEvent(id, lock.ActionAcquired))
	}

	m = send(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m.cursor)
	assert.False(t, m.follow)

	// New events no longer move the cursor.
	m = send(t, m, testEvent("d", lock.ActionReleased))
	assert.Equal(t, 1, m.cursor)

	m = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, m.detailMode)
	assert.Contains(t, m.viewport.View(), "Acquired")
	m = send(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.detailMode)

	m = send(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	assert.True(t, m.follow)
	assert.Equal(t, 3, m.cursor)
}

func TestModel_DetailShowsEvent(t *testing.T) {
	m := newTestModel()
	ev := testEvent("/db/apps", lock.ActionAcquired)
	ev.Reason = "main.run (main.go:42)"
	m = send(t, m, ev)

	detail := m.renderDetailView()
	assert.Contains(t, detail, "/db/apps")
	assert.Contains(t, detail, "WRITE_LOCK")
	assert.Contains(t, detail, "main.go:42")
}

func TestModel_KeepsRecentEvents(t *testing.T) {
	m := newTestModel()
	for range maxEvents + 10 {
		m = send(t, m, testEvent("doc", lock.ActionAttempt))
	}
	assert.Len(t, m.events, maxEvents)
	assert.Equal(t, maxEvents-1, m.cursor)
}

func TestModel_Quit(t *testing.T) {
	_, cmd := newTestModel().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

type fixedSource struct {
	emptySource
	infos []lock.LockInfo
}

func (s fixedSource) Locks() []lock.LockInfo { return s.infos }

func TestModel_LocksView(t *testing.T) {
	src := fixedSource{
		emptySource: emptySource{
			table:    locktable.New(locktable.DefaultConfig()),
			detector: lock.NewDeadlockDetection(),
		},
		infos: []lock.LockInfo{
			{Type: lock.CollectionLockType, ID: "/db/apps", Mode: lock.WriteLock, Owners: []string{"owner-1"}, WaitingForWrite: []string{"owner-2"}},
			{Type: lock.ResourceLockType, ID: "idle.xml", Mode: lock.NoLock},
		},
	}
	m := newModel(src, NewFeed(4))

	m = send(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.True(t, m.locksMode)
	require.Len(t, m.locks.Rows(), 1)
	assert.Equal(t, "/db/apps", m.locks.Rows()[0][1])
	assert.Equal(t, "owner-2", m.locks.Rows()[0][5])
	assert.Contains(t, m.View(), "Locks")

	m = send(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.locksMode)
}

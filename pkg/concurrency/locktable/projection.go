package locktable

import (
	"cmp"
	"xmlstore/pkg/concurrency/lock"

	"github.com/google/btree"
)

// Entry is one row of a projection: how many attempts or holds owner has on
// lock id in mode.
type Entry struct {
	ID    string
	Type  lock.Type
	Mode  lock.Mode
	Owner string
	Count int
}

func compareEntries(a, b *Entry) int {
	return cmp.Or(
		cmp.Compare(a.ID, b.ID),
		cmp.Compare(a.Type, b.Type),
		cmp.Compare(a.Mode, b.Mode),
		cmp.Compare(a.Owner, b.Owner),
	)
}

// projection counts events per (id, type, mode, owner), ordered by that key.
// It is only touched by the consumer and by snapshot readers holding the
// table's projection latch.
type projection struct {
	tree *btree.BTreeG[*Entry]
}

func newProjection() *projection {
	return &projection{
		tree: btree.NewG(16, func(a, b *Entry) bool {
			return compareEntries(a, b) < 0
		}),
	}
}

func keyOf(ev lock.Event) *Entry {
	return &Entry{ID: ev.ID, Type: ev.Type, Mode: ev.Mode, Owner: ev.Owner}
}

func (p *projection) add(ev lock.Event, n int) {
	key := keyOf(ev)
	if e, ok := p.tree.Get(key); ok {
		e.Count += n
		return
	}
	key.Count = n
	p.tree.ReplaceOrInsert(key)
}

// remove subtracts n, never going below zero, and drops the row at zero.
func (p *projection) remove(ev lock.Event, n int) {
	key := keyOf(ev)
	e, ok := p.tree.Get(key)
	if !ok {
		return
	}
	e.Count -= n
	if e.Count <= 0 {
		p.tree.Delete(key)
	}
}

func (p *projection) count(ev lock.Event) int {
	if e, ok := p.tree.Get(keyOf(ev)); ok {
		return e.Count
	}
	return 0
}

func (p *projection) snapshot() []Entry {
	out := make([]Entry, 0, p.tree.Len())
	p.tree.Ascend(func(e *Entry) bool {
		out = append(out, *e)
		return true
	})
	return out
}

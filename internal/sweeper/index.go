package sweeper

import (
	"sync"
	"time"

	"github.com/huandu/skiplist"
)

// Kind tells the sweeper which settlement entry point an item needs.
type Kind uint8

const (
	KindTrade Kind = iota + 1
	KindPledge
)

func (k Kind) String() string {
	switch k {
	case KindTrade:
		return "trade"
	case KindPledge:
		return "pledge"
	}
	return "unknown"
}

// Item is one pending deadline.
type Item struct {
	Kind Kind
	ID   string
	Due  time.Time
}

type itemKey struct {
	kind Kind
	id   string
}

// dueOrder sorts items by deadline, then kind and id so equal deadlines
// stay distinct keys.
type dueOrder struct{}

func (dueOrder) Compare(l, r interface{}) int {
	a, b := l.(Item), r.(Item)
	switch {
	case a.Due.Before(b.Due):
		return -1
	case a.Due.After(b.Due):
		return 1
	case a.Kind != b.Kind:
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func (dueOrder) CalcScore(key interface{}) float64 {
	return float64(key.(Item).Due.UnixMilli())
}

// Index is the in-memory expiry queue: pending features orders and active
// pledges ordered by deadline.
type Index struct {
	mu    sync.Mutex
	list  *skiplist.SkipList
	items map[itemKey]Item
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		list:  skiplist.New(dueOrder{}),
		items: make(map[itemKey]Item),
	}
}

// Add tracks it, replacing an earlier entry for the same entity.
func (x *Index) Add(it Item) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.add(it)
}

func (x *Index) add(it Item) {
	k := itemKey{it.Kind, it.ID}
	if old, ok := x.items[k]; ok {
		x.list.Remove(old)
	}
	x.items[k] = it
	x.list.Set(it, struct{}{})
}

// Remove stops tracking an entity. Unknown entities are ignored.
func (x *Index) Remove(kind Kind, id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	k := itemKey{kind, id}
	if old, ok := x.items[k]; ok {
		x.list.Remove(old)
		delete(x.items, k)
	}
}

// Due returns up to limit items whose deadline is at or before now, earliest
// first. Items stay tracked until removed. limit <= 0 means no limit.
func (x *Index) Due(now time.Time, limit int) []Item {
	x.mu.Lock()
	defer x.mu.Unlock()

	var out []Item
	for e := x.list.Front(); e != nil; e = e.Next() {
		it := e.Key().(Item)
		if it.Due.After(now) {
			break
		}
		out = append(out, it)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Next returns the earliest deadline tracked.
func (x *Index) Next() (time.Time, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e := x.list.Front()
	if e == nil {
		return time.Time{}, false
	}
	return e.Key().(Item).Due, true
}

// Reset replaces the whole index, used after reloading from the repository.
func (x *Index) Reset(items []Item) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.list = skiplist.New(dueOrder{})
	x.items = make(map[itemKey]Item, len(items))
	for _, it := range items {
		x.add(it)
	}
}

// Len returns the number of tracked items.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.items)
}

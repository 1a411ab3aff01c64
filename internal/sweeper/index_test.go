package sweeper

import (
	"testing"
	"time"
)

func TestIndexOrdersByDeadline(t *testing.T) {
	x := NewIndex()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	x.Add(Item{Kind: KindTrade, ID: "late", Due: base.Add(3 * time.Minute)})
	x.Add(Item{Kind: KindPledge, ID: "p", Due: base.Add(time.Minute)})
	x.Add(Item{Kind: KindTrade, ID: "early", Due: base.Add(time.Minute)})
	x.Add(Item{Kind: KindTrade, ID: "future", Due: base.Add(time.Hour)})

	due := x.Due(base.Add(5*time.Minute), 0)
	got := make([]string, len(due))
	for i, it := range due {
		got[i] = it.ID
	}
	want := []string{"early", "p", "late"}
	if len(got) != len(want) {
		t.Fatalf("due = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("due = %v, want %v", got, want)
		}
	}

	if limited := x.Due(base.Add(5*time.Minute), 2); len(limited) != 2 {
		t.Errorf("limit ignored: %d items", len(limited))
	}
	if next, ok := x.Next(); !ok || !next.Equal(base.Add(time.Minute)) {
		t.Errorf("Next = %v %v", next, ok)
	}
}

func TestIndexReplaceAndRemove(t *testing.T) {
	x := NewIndex()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	x.Add(Item{Kind: KindTrade, ID: "t1", Due: base})
	x.Add(Item{Kind: KindTrade, ID: "t1", Due: base.Add(time.Hour)})
	if x.Len() != 1 {
		t.Fatalf("re-adding should replace, Len = %d", x.Len())
	}
	if due := x.Due(base.Add(time.Minute), 0); len(due) != 0 {
		t.Errorf("old deadline still indexed: %v", due)
	}

	// Same id, different kind, is a different entry.
	x.Add(Item{Kind: KindPledge, ID: "t1", Due: base})
	if x.Len() != 2 {
		t.Fatalf("Len = %d", x.Len())
	}

	x.Remove(KindTrade, "t1")
	x.Remove(KindTrade, "missing")
	if x.Len() != 1 {
		t.Errorf("Len after remove = %d", x.Len())
	}

	x.Reset(nil)
	if _, ok := x.Next(); ok || x.Len() != 0 {
		t.Error("reset should empty the index")
	}
}

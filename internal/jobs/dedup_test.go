package jobs

import (
	"fmt"
	"testing"
)

func TestDedup_RemembersAndReports(t *testing.T) {
	d := NewDedup(10)

	if d.Seen("a") {
		t.Fatal("empty cache reported a as seen")
	}
	d.Remember("a")
	if !d.Seen("a") {
		t.Fatal("a not remembered")
	}
	if d.Len() != 1 {
		t.Fatalf("len = %d", d.Len())
	}
}

func TestDedup_BoundedEviction(t *testing.T) {
	d := NewDedup(100)

	for i := 0; i < 101; i++ {
		d.Remember(fmt.Sprintf("msg-%d", i))
	}

	if d.Len() != 100 {
		t.Fatalf("len = %d, want 100", d.Len())
	}
	if d.Seen("msg-0") {
		t.Fatal("oldest id survived past capacity")
	}
	if !d.Seen("msg-1") || !d.Seen("msg-100") {
		t.Fatal("recent ids evicted")
	}
	if d.Evictions() != 1 {
		t.Fatalf("evictions = %d, want 1", d.Evictions())
	}
}

func TestDedup_RememberRefreshesPosition(t *testing.T) {
	d := NewDedup(2)

	d.Remember("a")
	d.Remember("b")
	d.Remember("a") // a becomes the most recent
	d.Remember("c") // evicts b, not a

	if !d.Seen("a") {
		t.Fatal("refreshed id evicted")
	}
	if d.Seen("b") {
		t.Fatal("stale id survived")
	}
}

func TestDedup_MinimumCapacity(t *testing.T) {
	d := NewDedup(0)
	d.Remember("a")
	d.Remember("b")
	if d.Len() != 1 {
		t.Fatalf("len = %d, want 1", d.Len())
	}
}

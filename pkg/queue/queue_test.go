package queue

import (
	"errors"
	"testing"

	"github.com/daviddao/tixd/pkg/model"
)

func req(ts int64, owner model.NodeID, n int64) model.Request {
	return model.Request{Timestamp: ts, Owner: owner, Tickets: n}
}

func TestEmptyQueue(t *testing.T) {
	var q Queue
	if _, err := q.Head(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Head on empty queue: got %v, want ErrEmpty", err)
	}
	if _, err := q.PopHead(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("PopHead on empty queue: got %v, want ErrEmpty", err)
	}
}

func TestInsertKeepsTotalOrder(t *testing.T) {
	var q Queue
	for _, r := range []model.Request{
		req(5, 2, 1),
		req(1, 3, 1),
		req(1, 1, 6),
		req(3, 4, 2),
	} {
		if err := q.Insert(r); err != nil {
			t.Fatalf("Insert(%v): %v", r, err)
		}
	}

	want := []model.Request{req(1, 1, 6), req(1, 3, 1), req(3, 4, 2), req(5, 2, 1)}
	got := q.Snapshot()
	if len(got) != len(want) {
		t.Fatalf("Snapshot: got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPopHeadDrainsInOrder(t *testing.T) {
	var q Queue
	q.Insert(req(2, 1, 1))
	q.Insert(req(2, 2, 1))
	q.Insert(req(1, 3, 1))

	wantOwners := []model.NodeID{3, 1, 2}
	for i, w := range wantOwners {
		head, err := q.Head()
		if err != nil {
			t.Fatalf("Head %d: %v", i, err)
		}
		popped, err := q.PopHead()
		if err != nil {
			t.Fatalf("PopHead %d: %v", i, err)
		}
		if head != popped {
			t.Fatalf("Head %v and PopHead %v disagree", head, popped)
		}
		if popped.Owner != w {
			t.Fatalf("pop %d: got owner %d, want %d", i, popped.Owner, w)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("Len after drain: got %d, want 0", q.Len())
	}
}

func TestInsertRejectsSecondRequestFromOwner(t *testing.T) {
	var q Queue
	if err := q.Insert(req(1, 1, 2)); err != nil {
		t.Fatal(err)
	}
	err := q.Insert(req(7, 1, 3))
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("second Insert for owner 1: got %v, want ErrDuplicateRequest", err)
	}
	if q.Len() != 1 {
		t.Fatalf("rejected insert mutated queue: Len=%d", q.Len())
	}
}

func TestOwnerMayRequeueAfterPop(t *testing.T) {
	var q Queue
	q.Insert(req(1, 1, 2))
	if _, err := q.PopHead(); err != nil {
		t.Fatal(err)
	}
	if err := q.Insert(req(4, 1, 3)); err != nil {
		t.Fatalf("Insert after pop: %v", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	var q Queue
	q.Insert(req(1, 1, 1))
	snap := q.Snapshot()
	snap[0].Tickets = 99
	head, _ := q.Head()
	if head.Tickets != 1 {
		t.Fatalf("mutating snapshot changed queue: head tickets = %d", head.Tickets)
	}
}

package quorum

import (
	"errors"
	"testing"

	"github.com/daviddao/tixd/pkg/model"
)

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestResetEmptyIsComplete(t *testing.T) {
	var tr Tracker
	tr.Reset(nil)
	if !tr.Complete() {
		t.Fatal("empty expected set should be complete")
	}
	if !closed(tr.Done()) {
		t.Fatal("Done should be closed for an empty expected set")
	}
}

func TestCompletesAfterEveryAck(t *testing.T) {
	var tr Tracker
	tr.Reset([]model.NodeID{2, 3})
	done := tr.Done()

	if err := tr.Ack(3); err != nil {
		t.Fatalf("Ack(3): %v", err)
	}
	if tr.Complete() || closed(done) {
		t.Fatal("complete after one of two acks")
	}
	if got := tr.Pending(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("Pending: got %v, want [2]", got)
	}

	if err := tr.Ack(2); err != nil {
		t.Fatalf("Ack(2): %v", err)
	}
	if !tr.Complete() || !closed(done) {
		t.Fatal("not complete after all acks")
	}
	if got := tr.Pending(); len(got) != 0 {
		t.Fatalf("Pending after completion: got %v, want []", got)
	}
}

func TestUnexpectedAck(t *testing.T) {
	var tr Tracker
	tr.Reset([]model.NodeID{2})

	if err := tr.Ack(5); !errors.Is(err, ErrUnexpectedAck) {
		t.Fatalf("Ack from stranger: got %v, want ErrUnexpectedAck", err)
	}
	if err := tr.Ack(2); err != nil {
		t.Fatal(err)
	}
	if err := tr.Ack(2); !errors.Is(err, ErrUnexpectedAck) {
		t.Fatalf("duplicate Ack: got %v, want ErrUnexpectedAck", err)
	}
}

func TestAckAfterClearIsUnexpected(t *testing.T) {
	var tr Tracker
	tr.Reset([]model.NodeID{2})
	tr.Ack(2)
	tr.Clear()
	if err := tr.Ack(2); !errors.Is(err, ErrUnexpectedAck) {
		t.Fatalf("Ack after Clear: got %v, want ErrUnexpectedAck", err)
	}
}

func TestResetIssuesFreshDoneChannel(t *testing.T) {
	var tr Tracker
	tr.Reset([]model.NodeID{2})
	first := tr.Done()
	tr.Ack(2)

	tr.Reset([]model.NodeID{2})
	second := tr.Done()
	if !closed(first) {
		t.Fatal("earlier Done channel should stay closed")
	}
	if closed(second) {
		t.Fatal("new request should not start complete")
	}
}

func TestNeverResetIsIncomplete(t *testing.T) {
	var tr Tracker
	if tr.Complete() {
		t.Fatal("zero tracker should not be complete")
	}
	if closed(tr.Done()) {
		t.Fatal("zero tracker Done should be open")
	}
}

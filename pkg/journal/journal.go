// Package journal keeps an append-only log of the decisions a datacenter
// applied to its ledger, in the order it applied them.
//
// The journal is an audit trail, not a recovery mechanism: a node never
// reads it back on startup. Replaying it against the initial ticket count
// must reproduce the node's final count, and the journals of any two
// replicas must agree on the order of their common prefix.
package journal

import (
	"errors"
	"fmt"

	"github.com/daviddao/tixd/pkg/model"
)

// Recorder receives decisions as a node applies them.
type Recorder interface {
	Record(d model.Decision) error
}

// Reader lists the recorded decisions of one node, in Seq order.
type Reader interface {
	List(node model.NodeID) ([]model.Decision, error)
}

// ErrDiverged is returned when a journal is internally inconsistent or
// disagrees with another replica's journal.
var ErrDiverged = errors.New("journal diverged")

// Replay recomputes the remaining ticket count from initial, checking every
// step: Seq is contiguous, a decision consumes either nothing or exactly
// what was requested, never more than what remained, and the recorded
// Remaining matches the recomputed one.
func Replay(initial int64, ds []model.Decision) (int64, error) {
	remaining := initial
	for i, d := range ds {
		if d.Seq != int64(i+1) {
			return 0, fmt.Errorf("%w: entry %d has seq %d", ErrDiverged, i, d.Seq)
		}
		if d.Consumed != 0 && d.Consumed != d.Requested {
			return 0, fmt.Errorf("%w: seq %d consumed %d of %d requested", ErrDiverged, d.Seq, d.Consumed, d.Requested)
		}
		if d.Consumed > remaining {
			return 0, fmt.Errorf("%w: seq %d oversold: consumed %d with %d remaining", ErrDiverged, d.Seq, d.Consumed, remaining)
		}
		remaining -= d.Consumed
		if d.Remaining != remaining {
			return 0, fmt.Errorf("%w: seq %d recorded %d remaining, replay gives %d", ErrDiverged, d.Seq, d.Remaining, remaining)
		}
	}
	return remaining, nil
}

// CheckOrder verifies that two replicas applied the same decisions in the
// same order. A replica may lag behind, so only the common prefix is
// compared.
func CheckOrder(a, b []model.Decision) error {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		x, y := a[i], b[i]
		if x.Timestamp != y.Timestamp || x.Owner != y.Owner || x.Consumed != y.Consumed {
			return fmt.Errorf("%w: position %d: node %d applied (%d,%d)-%d, node %d applied (%d,%d)-%d",
				ErrDiverged, i+1, x.Node, x.Timestamp, x.Owner, x.Consumed, y.Node, y.Timestamp, y.Owner, y.Consumed)
		}
	}
	return nil
}

// Package quorum tracks which peers have replied to a datacenter's own
// outstanding request.
//
// A Tracker is not goroutine-safe; the owning node guards it. The channel
// returned by Done may be waited on without the guard, which is how a
// purchase suspends until every peer has replied.
package quorum

import (
	"errors"
	"fmt"
	"sort"

	"github.com/daviddao/tixd/pkg/model"
)

// ErrUnexpectedAck is returned for a reply from a peer outside the expected
// set, or from a peer that has already replied.
var ErrUnexpectedAck = errors.New("unexpected ack")

// Tracker records replies for one outstanding request.
type Tracker struct {
	expected map[model.NodeID]bool // id -> acked
	missing  int
	done     chan struct{}
}

// Reset starts tracking a new request that needs a reply from every id in
// expected. With no expected ids the tracker is complete immediately.
func (t *Tracker) Reset(expected []model.NodeID) {
	t.expected = make(map[model.NodeID]bool, len(expected))
	for _, id := range expected {
		t.expected[id] = false
	}
	t.missing = len(t.expected)
	t.done = make(chan struct{})
	if t.missing == 0 {
		close(t.done)
	}
}

// Ack records a reply from id.
func (t *Tracker) Ack(from model.NodeID) error {
	acked, ok := t.expected[from]
	switch {
	case !ok:
		return fmt.Errorf("%w: node %d is not awaited", ErrUnexpectedAck, from)
	case acked:
		return fmt.Errorf("%w: node %d already replied", ErrUnexpectedAck, from)
	}
	t.expected[from] = true
	t.missing--
	if t.missing == 0 {
		close(t.done)
	}
	return nil
}

// Complete reports whether every expected peer has replied. A tracker that
// was never Reset is not complete.
func (t *Tracker) Complete() bool {
	return t.done != nil && t.missing == 0
}

// Done returns a channel closed once the current request is complete.
// A later Reset does not affect channels handed out earlier.
func (t *Tracker) Done() <-chan struct{} {
	if t.done == nil {
		t.done = make(chan struct{})
	}
	return t.done
}

// Pending returns the ids that have not replied yet, in ascending order.
func (t *Tracker) Pending() []model.NodeID {
	var out []model.NodeID
	for id, acked := range t.expected {
		if !acked {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clear discards the tracked request. Every later Ack is unexpected.
func (t *Tracker) Clear() {
	t.expected = nil
	t.missing = 0
}

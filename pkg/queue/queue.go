// Package queue holds the pending purchase requests of one datacenter,
// ordered by the Lamport total order (timestamp, owner).
//
// The queue is the sole source of the global order: every replica inserts
// the same requests and pops them in the same order, so ledger mutations
// line up across the cluster. A Queue is not goroutine-safe.
package queue

import (
	"errors"
	"fmt"
	"sort"

	"github.com/daviddao/tixd/pkg/clock"
	"github.com/daviddao/tixd/pkg/model"
)

var (
	// ErrDuplicateRequest is returned when an owner already has a pending
	// request. Each datacenter has at most one outstanding request.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrEmpty is returned by Head and PopHead on an empty queue.
	ErrEmpty = errors.New("queue is empty")
)

// Queue is a sorted slice of pending requests, head first.
type Queue struct {
	reqs []model.Request
}

// Insert adds req in total order. It fails if req.Owner already has an
// entry in the queue.
func (q *Queue) Insert(req model.Request) error {
	for _, r := range q.reqs {
		if r.Owner == req.Owner {
			return fmt.Errorf("%w: node %d already queued %v, got %v", ErrDuplicateRequest, r.Owner, r, req)
		}
	}
	i := sort.Search(len(q.reqs), func(i int) bool {
		return clock.TotalOrderLess(req.Timestamp, req.Owner, q.reqs[i].Timestamp, q.reqs[i].Owner)
	})
	q.reqs = append(q.reqs, model.Request{})
	copy(q.reqs[i+1:], q.reqs[i:])
	q.reqs[i] = req
	return nil
}

// Head returns the lowest-ordered request.
func (q *Queue) Head() (model.Request, error) {
	if len(q.reqs) == 0 {
		return model.Request{}, ErrEmpty
	}
	return q.reqs[0], nil
}

// PopHead removes and returns the lowest-ordered request.
func (q *Queue) PopHead() (model.Request, error) {
	if len(q.reqs) == 0 {
		return model.Request{}, ErrEmpty
	}
	head := q.reqs[0]
	q.reqs = q.reqs[1:]
	return head, nil
}

// Len returns the number of pending requests.
func (q *Queue) Len() int { return len(q.reqs) }

// Snapshot returns a copy of the pending requests, head first.
func (q *Queue) Snapshot() []model.Request {
	out := make([]model.Request, len(q.reqs))
	copy(out, q.reqs)
	return out
}

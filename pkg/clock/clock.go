// Package clock implements a Lamport logical clock.
//
// From Lamport (1978), two implementation rules govern the clock:
//
//	IR1 (local event or send): Before the event, increment the clock.
//	IR2 (message receipt): On receiving a message with timestamp t,
//	     set the clock to max(own, t) + 1.
//
// The total order function TotalOrderLess breaks ties deterministically
// using node IDs, giving every datacenter the same ordering of purchase
// requests without a coordinator.
//
// Note: Clock is not goroutine-safe. A node guards its clock with the same
// mutex that guards its request queue, quorum and ledger, so that a
// timestamp and the state change it stamps are applied as one step.
package clock

import "github.com/daviddao/tixd/pkg/model"

// Clock is a Lamport logical clock. Not goroutine-safe; see package doc.
type Clock struct {
	ts int64
}

// Tick implements IR1: increment the clock before a send.
// Returns the new timestamp, which is the one attached to the message.
func (c *Clock) Tick() int64 {
	c.ts++
	return c.ts
}

// Receive implements IR2: on receiving a message with timestamp received,
// set the clock to max(own, received) + 1. Returns the new timestamp.
func (c *Clock) Receive(received int64) int64 {
	if received > c.ts {
		c.ts = received
	}
	c.ts++
	return c.ts
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() int64 { return c.ts }

// TotalOrderLess defines a deterministic total order over requests.
// Given two requests with timestamps tsA and tsB from nodes a and b,
// request A is "less" (has priority) if:
//
//	tsA < tsB, or
//	tsA == tsB and a < b
//
// This is the standard Lamport total order used for mutual exclusion.
func TotalOrderLess(tsA int64, a model.NodeID, tsB int64, b model.NodeID) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return a < b
}

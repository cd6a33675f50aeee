// Package model defines the core domain types for tixd.
//
// tixd replicates a finite ticket inventory across a fixed set of
// datacenters. Every purchase is ordered with Lamport's mutual exclusion
// algorithm (1978):
//
//   - Each purchase attempt is a Request stamped with the owner's Lamport
//     clock. Requests are totally ordered by (Timestamp, Owner).
//   - A datacenter decides its own request only when that request heads its
//     queue and every peer has replied to it.
//   - The decision (tickets actually consumed, 0 on denial) is broadcast so
//     every replica applies the same ledger mutations in the same order.
package model

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// NodeID identifies a datacenter. IDs are unique across the cluster and
// break timestamp ties in the total order.
type NodeID int

// Request is a pending purchase in a datacenter's request queue.
// Its identity is (Timestamp, Owner).
type Request struct {
	Timestamp int64  `json:"timestamp"`
	Owner     NodeID `json:"owner"`
	Tickets   int64  `json:"tickets"`
}

// SameKey reports whether r and other carry the same (Timestamp, Owner).
func (r Request) SameKey(other Request) bool {
	return r.Timestamp == other.Timestamp && r.Owner == other.Owner
}

func (r Request) String() string {
	return fmt.Sprintf("(%d,%d)x%d", r.Timestamp, r.Owner, r.Tickets)
}

// Peer is one datacenter entry from the cluster configuration.
type Peer struct {
	ID   NodeID `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns the host:port the peer listens on.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Outcome is the result of a purchase as seen by the client.
type Outcome string

const (
	OutcomeGranted Outcome = "granted"
	OutcomeDenied  Outcome = "denied"
)

// Decision is one ledger mutation, applied in total order on every replica.
// Node is the replica that applied it and Seq its apply position there,
// starting at 1.
type Decision struct {
	Node      NodeID    `json:"node"`
	Seq       int64     `json:"seq"`
	Timestamp int64     `json:"timestamp"`
	Owner     NodeID    `json:"owner"`
	Requested int64     `json:"requested"`
	Consumed  int64     `json:"consumed"`
	Remaining int64     `json:"remaining"`
	DecidedAt time.Time `json:"decided_at"`
}

// Outcome reports whether the decision sold tickets. A zero-ticket request
// that was granted is indistinguishable from a denial on peers, so both
// report OutcomeDenied there; only the owner knows the client's reply.
func (d Decision) Outcome() Outcome {
	if d.Consumed > 0 {
		return OutcomeGranted
	}
	return OutcomeDenied
}

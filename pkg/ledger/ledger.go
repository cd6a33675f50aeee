// Package ledger holds a datacenter's replica of the ticket inventory.
//
// The ledger has no conflict resolution of its own: the request queue
// guarantees that one decision is in flight cluster-wide, and every
// replica applies decisions in the same order.
package ledger

import (
	"errors"
	"fmt"
)

// ErrNegative is returned when a mutation would leave fewer than zero
// tickets, or when a ticket count is itself negative.
var ErrNegative = errors.New("ticket count would go negative")

// Ledger is the remaining ticket count. Not goroutine-safe.
type Ledger struct {
	remaining int64
}

// New returns a ledger holding total tickets.
func New(total int64) (*Ledger, error) {
	if total < 0 {
		return nil, fmt.Errorf("%w: initial total %d", ErrNegative, total)
	}
	return &Ledger{remaining: total}, nil
}

// TryConsume sells n tickets if that many remain. A request for more than
// what remains is denied without mutation; it is never partially granted.
func (l *Ledger) TryConsume(n int64) bool {
	if n < 0 || n > l.remaining {
		return false
	}
	l.remaining -= n
	return true
}

// ApplyRelease applies a decision taken by the owning datacenter. n is the
// number of tickets it sold, 0 for a denial.
func (l *Ledger) ApplyRelease(n int64) error {
	if n < 0 {
		return fmt.Errorf("%w: release of %d tickets", ErrNegative, n)
	}
	if n > l.remaining {
		return fmt.Errorf("%w: release of %d tickets with %d remaining", ErrNegative, n, l.remaining)
	}
	l.remaining -= n
	return nil
}

// Remaining returns the number of unsold tickets.
func (l *Ledger) Remaining() int64 { return l.remaining }

package ledger

import (
	"errors"
	"testing"
)

func newLedger(t *testing.T, total int64) *Ledger {
	t.Helper()
	l, err := New(total)
	if err != nil {
		t.Fatalf("New(%d): %v", total, err)
	}
	return l
}

func TestNewRejectsNegativeTotal(t *testing.T) {
	if _, err := New(-1); !errors.Is(err, ErrNegative) {
		t.Fatalf("New(-1): got %v, want ErrNegative", err)
	}
}

func TestTryConsume(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		n         int64
		granted   bool
		remaining int64
	}{
		{"exact", 3, 3, true, 0},
		{"partial", 10, 6, true, 4},
		{"too many", 4, 5, false, 4},
		{"zero", 4, 0, true, 4},
		{"negative", 4, -1, false, 4},
		{"empty ledger", 0, 1, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(t, tt.total)
			if got := l.TryConsume(tt.n); got != tt.granted {
				t.Fatalf("TryConsume(%d) = %v, want %v", tt.n, got, tt.granted)
			}
			if got := l.Remaining(); got != tt.remaining {
				t.Fatalf("Remaining: got %d, want %d", got, tt.remaining)
			}
		})
	}
}

func TestSingleNodeSequence(t *testing.T) {
	l := newLedger(t, 3)
	if !l.TryConsume(3) {
		t.Fatal("BUY 3 against 3 should be granted")
	}
	if l.TryConsume(1) {
		t.Fatal("BUY 1 against 0 should be denied")
	}
	if l.Remaining() != 0 {
		t.Fatalf("Remaining: got %d, want 0", l.Remaining())
	}
}

func TestApplyRelease(t *testing.T) {
	l := newLedger(t, 10)
	if err := l.ApplyRelease(6); err != nil {
		t.Fatalf("ApplyRelease(6): %v", err)
	}
	if err := l.ApplyRelease(0); err != nil {
		t.Fatalf("ApplyRelease(0): %v", err)
	}
	if got := l.Remaining(); got != 4 {
		t.Fatalf("Remaining: got %d, want 4", got)
	}
}

func TestApplyReleaseNeverGoesNegative(t *testing.T) {
	l := newLedger(t, 2)
	if err := l.ApplyRelease(3); !errors.Is(err, ErrNegative) {
		t.Fatalf("ApplyRelease(3) with 2 left: got %v, want ErrNegative", err)
	}
	if err := l.ApplyRelease(-1); !errors.Is(err, ErrNegative) {
		t.Fatalf("ApplyRelease(-1): got %v, want ErrNegative", err)
	}
	if got := l.Remaining(); got != 2 {
		t.Fatalf("rejected release mutated ledger: got %d, want 2", got)
	}
}

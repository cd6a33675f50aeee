// Package node runs one datacenter of the replicated ticket inventory.
//
// A Node owns the Lamport clock, the request queue, the quorum tracker and
// the ledger, all guarded by a single mutex. Peer links feed received
// messages through that mutex one at a time, and local purchases run one at
// a time through a FIFO pipeline:
//
//	Idle -> Requesting -> Waiting-Quorum -> Waiting-Turn -> Deciding -> Done
//
// A purchase suspends only while waiting for every peer's reply and while
// waiting for its own request to reach the head of the queue. Both waits
// are channel-based: a REPLY completing the quorum closes the tracker's
// Done channel, and every RELEASE closes and replaces the node's released
// channel.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	clocks "github.com/vimeo/go-clocks"

	"github.com/daviddao/tixd/pkg/clock"
	"github.com/daviddao/tixd/pkg/config"
	"github.com/daviddao/tixd/pkg/journal"
	"github.com/daviddao/tixd/pkg/ledger"
	"github.com/daviddao/tixd/pkg/model"
	"github.com/daviddao/tixd/pkg/queue"
	"github.com/daviddao/tixd/pkg/quorum"
	"github.com/daviddao/tixd/pkg/wire"
)

var (
	// ErrProtocolViolation means the replicated order has been broken.
	// The node halts instead of risking inventory divergence.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrHalted is returned for purchases on a node that has halted.
	ErrHalted = errors.New("node halted")
	// ErrStopped is returned for purchases on a node that is shutting down.
	ErrStopped = errors.New("node stopped")
)

// Config configures a Node.
type Config struct {
	// ID of this datacenter; must appear in Cluster.
	ID      model.NodeID
	Cluster *config.Cluster

	// Listener, if set, is used instead of listening on the configured
	// port. Run closes it on return.
	Listener net.Listener

	// Journal receives every decision applied to the ledger. Optional.
	Journal journal.Recorder

	// Logger for protocol events. Nil discards.
	Logger *log.Logger

	// PeerDelay is slept before every message sent to a peer.
	PeerDelay time.Duration

	// Clock used for backoff and PeerDelay sleeps. Nil uses the wall clock.
	Clock clocks.Clock

	// Dial opens outbound peer connections. Nil uses net.Dialer.
	Dial func(ctx context.Context, addr string) (net.Conn, error)
}

// Status is a snapshot of a node's replicated state.
type Status struct {
	ID        model.NodeID    `json:"id"`
	Clock     int64           `json:"clock"`
	Remaining int64           `json:"remaining"`
	Queue     []model.Request `json:"queue"`
	Peers     []model.NodeID  `json:"peers"`
	Applied   int64           `json:"applied"`
	Fault     string          `json:"fault,omitempty"`
}

type purchase struct {
	tickets int64
	result  chan purchaseResult
}

type purchaseResult struct {
	outcome model.Outcome
	err     error
}

// Node is one datacenter.
type Node struct {
	id      model.NodeID
	self    model.Peer
	others  []model.Peer
	journal journal.Recorder
	logger  *log.Logger
	clk     clocks.Clock
	delay   time.Duration
	dial    func(ctx context.Context, addr string) (net.Conn, error)
	ln      net.Listener

	mu       sync.Mutex
	lamport  clock.Clock
	queue    queue.Queue
	quorum   quorum.Tracker
	ledger   *ledger.Ledger
	links    map[model.NodeID]*peerLink
	released chan struct{}
	applied  int64
	fault    error
	halted   chan struct{}
	ready    chan struct{}
	isReady  bool

	decisions *outbox[model.Decision]

	purchases chan *purchase
	stopped   chan struct{}
	startOnce sync.Once
	wg        sync.WaitGroup
}

// New validates cfg and returns an idle node. Call Run to serve.
func New(cfg Config) (*Node, error) {
	if cfg.Cluster == nil {
		return nil, fmt.Errorf("missing cluster config")
	}
	self, ok := cfg.Cluster.Lookup(cfg.ID)
	if !ok {
		return nil, fmt.Errorf("datacenter %d is not in the cluster config", cfg.ID)
	}
	l, err := ledger.New(cfg.Cluster.Tickets)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clocks.DefaultClock()
	}
	dial := cfg.Dial
	if dial == nil {
		var d net.Dialer
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	n := &Node{
		id:        cfg.ID,
		self:      self,
		others:    cfg.Cluster.Others(cfg.ID),
		journal:   cfg.Journal,
		logger:    logger,
		clk:       clk,
		delay:     cfg.PeerDelay,
		dial:      dial,
		ln:        cfg.Listener,
		ledger:    l,
		links:     map[model.NodeID]*peerLink{},
		released:  make(chan struct{}),
		halted:    make(chan struct{}),
		ready:     make(chan struct{}),
		decisions: newOutbox[model.Decision](),
		purchases: make(chan *purchase),
		stopped:   make(chan struct{}),
	}
	n.mu.Lock()
	n.markReadyLocked()
	n.mu.Unlock()
	return n, nil
}

// ID returns the datacenter id.
func (n *Node) ID() model.NodeID { return n.id }

// Ready is closed once a link to every peer is up.
func (n *Node) Ready() <-chan struct{} { return n.ready }

// Halted is closed when the node stops mutating its ledger after a
// protocol violation.
func (n *Node) Halted() <-chan struct{} { return n.halted }

// Status returns a snapshot of the node's state.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	st := Status{
		ID:        n.id,
		Clock:     n.lamport.Value(),
		Remaining: n.ledger.Remaining(),
		Queue:     n.queue.Snapshot(),
		Applied:   n.applied,
	}
	for _, p := range n.others {
		if l, ok := n.links[p.ID]; ok && !l.down {
			st.Peers = append(st.Peers, p.ID)
		}
	}
	if n.fault != nil {
		st.Fault = n.fault.Error()
	}
	return st
}

// Buy runs a purchase of tickets through the protocol. Purchases are
// admitted one at a time, in arrival order, once every peer link is up.
//
// Cancelling ctx abandons the wait but not the purchase: once its REQUEST
// is broadcast the decision is taken and replicated regardless.
func (n *Node) Buy(ctx context.Context, tickets int64) (model.Outcome, error) {
	if tickets < 0 {
		return "", fmt.Errorf("invalid ticket count %d", tickets)
	}
	p := &purchase{tickets: tickets, result: make(chan purchaseResult, 1)}
	select {
	case n.purchases <- p:
	case <-n.stopped:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-p.result:
		return r.outcome, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// startPipeline starts the goroutine that admits local purchases and the
// journal writer.
func (n *Node) startPipeline(ctx context.Context) {
	n.startOnce.Do(func() {
		n.wg.Add(2)
		go func() {
			defer n.wg.Done()
			defer close(n.stopped)
			n.pipeline(ctx)
		}()
		go func() {
			defer n.wg.Done()
			n.journalLoop(ctx)
		}()
	})
}

func (n *Node) pipeline(ctx context.Context) {
	select {
	case <-n.ready:
	case <-ctx.Done():
		return
	}
	for {
		select {
		case p := <-n.purchases:
			outcome, err := n.purchase(ctx, p.tickets)
			p.result <- purchaseResult{outcome: outcome, err: err}
		case <-ctx.Done():
			return
		}
	}
}

// purchase drives one local purchase through the state machine.
func (n *Node) purchase(ctx context.Context, tickets int64) (model.Outcome, error) {
	// Requesting
	n.mu.Lock()
	if err := n.haltedErrLocked(); err != nil {
		n.mu.Unlock()
		return "", err
	}
	ts := n.lamport.Tick()
	own := model.Request{Timestamp: ts, Owner: n.id, Tickets: tickets}
	if err := n.queue.Insert(own); err != nil {
		n.haltLocked(fmt.Errorf("own request %v: %w", own, err))
		err = n.haltedErrLocked()
		n.mu.Unlock()
		return "", err
	}
	n.quorum.Reset(n.peerIDs())
	quorumDone := n.quorum.Done()
	n.broadcastLocked(wire.Message{Kind: wire.KindRequest, Tickets: tickets, Timestamp: ts})
	n.logLocked("request %v queued, queue %v", own, n.queue.Snapshot())
	n.mu.Unlock()

	// Waiting-Quorum
	select {
	case <-quorumDone:
	case <-n.halted:
		return "", n.haltedErr()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	// Waiting-Turn
	n.mu.Lock()
	for {
		if err := n.haltedErrLocked(); err != nil {
			n.mu.Unlock()
			return "", err
		}
		head, err := n.queue.Head()
		if err != nil {
			n.haltLocked(fmt.Errorf("%w: own request %v missing from queue", ErrProtocolViolation, own))
			continue
		}
		if head.SameKey(own) {
			break
		}
		wait := n.released
		n.mu.Unlock()
		select {
		case <-wait:
		case <-n.halted:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		n.mu.Lock()
	}

	// Deciding
	if err := n.popHeadLocked(own); err != nil {
		n.haltLocked(err)
		err = n.haltedErrLocked()
		n.mu.Unlock()
		return "", err
	}
	outcome, consumed := model.OutcomeDenied, int64(0)
	if n.ledger.TryConsume(tickets) {
		outcome, consumed = model.OutcomeGranted, tickets
	}
	n.quorum.Clear()
	n.recordLocked(own, consumed)
	n.broadcastLocked(wire.Message{Kind: wire.KindRelease, Tickets: consumed, Timestamp: n.lamport.Tick()})
	if outcome == model.OutcomeGranted {
		n.logLocked("sold %d tickets for %v, %d left", tickets, own, n.ledger.Remaining())
	} else {
		n.logLocked("denied %d tickets for %v, %d left", tickets, own, n.ledger.Remaining())
	}
	n.mu.Unlock()
	return outcome, nil
}

// popHeadLocked removes the queue head, which must be want.
func (n *Node) popHeadLocked(want model.Request) error {
	head, err := n.queue.PopHead()
	if err != nil {
		return fmt.Errorf("%w: popping %v: %v", ErrProtocolViolation, want, err)
	}
	if !head.SameKey(want) {
		return fmt.Errorf("%w: popped %v, want %v", ErrProtocolViolation, head, want)
	}
	return nil
}

// recordLocked counts a ledger mutation and queues it for the journal
// writer.
func (n *Node) recordLocked(req model.Request, consumed int64) {
	n.applied++
	if n.journal == nil {
		return
	}
	n.decisions.push(model.Decision{
		Node:      n.id,
		Seq:       n.applied,
		Timestamp: req.Timestamp,
		Owner:     req.Owner,
		Requested: req.Tickets,
		Consumed:  consumed,
		Remaining: n.ledger.Remaining(),
		DecidedAt: n.clk.Now(),
	})
}

// journalLoop writes queued decisions in apply order, outside the node
// mutex, until ctx is done.
func (n *Node) journalLoop(ctx context.Context) {
	if n.journal == nil {
		return
	}
	for {
		n.flushJournal()
		select {
		case <-n.decisions.wake:
		case <-ctx.Done():
			n.flushJournal()
			return
		}
	}
}

// flushJournal records every queued decision. A failed write is logged and
// the decision is left out of the journal. Only one goroutine may flush.
func (n *Node) flushJournal() {
	for _, d := range n.decisions.drain() {
		if err := n.journal.Record(d); err != nil {
			n.logf("journal seq %d: %v", d.Seq, err)
		}
	}
}

// haltLocked records the first fault and wakes every waiter.
func (n *Node) haltLocked(err error) {
	if n.fault != nil {
		return
	}
	n.fault = err
	close(n.halted)
	n.logLocked("HALT: %v", err)
}

func (n *Node) haltedErrLocked() error {
	if n.fault == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrHalted, n.fault)
}

func (n *Node) haltedErr() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.haltedErrLocked()
}

func (n *Node) peerIDs() []model.NodeID {
	ids := make([]model.NodeID, len(n.others))
	for i, p := range n.others {
		ids[i] = p.ID
	}
	return ids
}

func (n *Node) logLocked(format string, args ...interface{}) {
	n.logger.Printf("[%d][%d] "+format, append([]interface{}{n.lamport.Value(), n.id}, args...)...)
}

func (n *Node) logf(format string, args ...interface{}) {
	n.logger.Printf("[-][%d] "+format, append([]interface{}{n.id}, args...)...)
}

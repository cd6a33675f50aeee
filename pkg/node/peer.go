package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/daviddao/tixd/pkg/model"
	"github.com/daviddao/tixd/pkg/wire"
)

// peerLink is the connection to one peer: a receive loop feeding the
// node, and an outbox drained by a writer so that sends never block while
// the node mutex is held. The outbox preserves send order, which the
// protocol relies on (a peer's RELEASE must not overtake its REQUEST).
type peerLink struct {
	id   model.NodeID
	conn *wire.Conn
	down bool // guarded by Node.mu
	out  *outbox[string]
}

func newPeerLink(id model.NodeID, conn *wire.Conn) *peerLink {
	return &peerLink{id: id, conn: conn, out: newOutbox[string]()}
}

// attach promotes an identified connection to a peer link and starts its
// loops. Only one link per peer is accepted.
func (n *Node) attach(ctx context.Context, id model.NodeID, conn *wire.Conn) error {
	n.mu.Lock()
	if !n.isPeer(id) {
		n.mu.Unlock()
		return fmt.Errorf("datacenter %d is not a configured peer", id)
	}
	if _, dup := n.links[id]; dup {
		n.mu.Unlock()
		return fmt.Errorf("datacenter %d is already linked", id)
	}
	l := newPeerLink(id, conn)
	n.links[id] = l
	n.logLocked("connected to datacenter %d", id)
	n.markReadyLocked()
	n.mu.Unlock()

	linkCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	fail := func(err error) {
		once.Do(func() {
			cancel()
			conn.Close()
			n.linkDown(l, err)
		})
	}
	n.wg.Add(2)
	go func() {
		defer n.wg.Done()
		fail(n.readLoop(l))
	}()
	go func() {
		defer n.wg.Done()
		fail(n.writeLoop(linkCtx, l))
	}()
	return nil
}

func (n *Node) readLoop(l *peerLink) error {
	for {
		body, err := l.conn.Recv()
		if err != nil {
			return err
		}
		msg, err := wire.ParseMessage(body)
		if err != nil {
			return err
		}
		n.handle(l.id, msg)
	}
}

func (n *Node) writeLoop(ctx context.Context, l *peerLink) error {
	for {
		batch := l.out.drain()
		if len(batch) == 0 {
			select {
			case <-l.out.wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for _, body := range batch {
			if n.delay > 0 && !n.clk.SleepFor(ctx, n.delay) {
				return ctx.Err()
			}
			if err := l.conn.Send(body); err != nil {
				return err
			}
		}
	}
}

// linkDown marks a peer permanently unreachable. There is no reconnection:
// an outstanding request waiting on that peer's reply never completes.
func (n *Node) linkDown(l *peerLink, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l.down = true
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		n.logLocked("link to datacenter %d closed", l.id)
	default:
		n.logLocked("link to datacenter %d failed: %v", l.id, err)
	}
}

// handle applies one received peer message as a single step under the
// node mutex.
func (n *Node) handle(from model.NodeID, m wire.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fault != nil {
		n.logLocked("halted, ignoring %s from %d", m.Kind, from)
		return
	}
	n.lamport.Receive(m.Timestamp)

	switch m.Kind {
	case wire.KindRequest:
		req := model.Request{Timestamp: m.Timestamp, Owner: from, Tickets: m.Tickets}
		if err := n.queue.Insert(req); err != nil {
			n.haltLocked(fmt.Errorf("%w: request from %d: %v", ErrProtocolViolation, from, err))
			return
		}
		n.sendLocked(from, wire.Message{Kind: wire.KindReply, Tickets: m.Tickets, Timestamp: n.lamport.Tick()})
		n.logLocked("queued %v from %d, queue %v", req, from, n.queue.Snapshot())

	case wire.KindReply:
		if err := n.quorum.Ack(from); err != nil {
			n.logLocked("ignoring reply from %d: %v", from, err)
			return
		}
		n.logLocked("reply from %d, waiting on %v", from, n.quorum.Pending())

	case wire.KindRelease:
		head, err := n.queue.Head()
		if err != nil {
			n.haltLocked(fmt.Errorf("%w: release from %d with no pending request", ErrProtocolViolation, from))
			return
		}
		if head.Owner != from {
			n.haltLocked(fmt.Errorf("%w: release from %d but head is %v", ErrProtocolViolation, from, head))
			return
		}
		if m.Tickets != 0 && m.Tickets != head.Tickets {
			n.haltLocked(fmt.Errorf("%w: release of %d tickets for %v", ErrProtocolViolation, m.Tickets, head))
			return
		}
		if err := n.ledger.ApplyRelease(m.Tickets); err != nil {
			n.haltLocked(fmt.Errorf("%w: release from %d: %v", ErrProtocolViolation, from, err))
			return
		}
		if err := n.popHeadLocked(head); err != nil {
			n.haltLocked(err)
			return
		}
		n.recordLocked(head, m.Tickets)
		close(n.released)
		n.released = make(chan struct{})
		n.logLocked("release from %d: %d tickets for %v, %d left", from, m.Tickets, head, n.ledger.Remaining())
	}
}

// sendLocked queues msg for one peer. Messages to a down peer are dropped.
func (n *Node) sendLocked(to model.NodeID, m wire.Message) {
	l, ok := n.links[to]
	if !ok || l.down {
		n.logLocked("datacenter %d unreachable, dropping %s", to, m.Kind)
		return
	}
	l.out.push(m.Encode())
}

// broadcastLocked queues msg for every peer, in id order.
func (n *Node) broadcastLocked(m wire.Message) {
	for _, p := range n.others {
		n.sendLocked(p.ID, m)
	}
}

func (n *Node) isPeer(id model.NodeID) bool {
	for _, p := range n.others {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (n *Node) markReadyLocked() {
	if n.isReady || len(n.links) < len(n.others) {
		return
	}
	n.isReady = true
	close(n.ready)
}

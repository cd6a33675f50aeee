package node

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/daviddao/tixd/pkg/config"
	"github.com/daviddao/tixd/pkg/journal"
	"github.com/daviddao/tixd/pkg/model"
	"github.com/daviddao/tixd/pkg/wire"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t}, "", 0)
}

// testCluster returns a cluster of ids 1..size. Ports are never dialed.
func testCluster(size int, tickets int64) *config.Cluster {
	c := &config.Cluster{Tickets: tickets}
	for i := 1; i <= size; i++ {
		c.Peers = append(c.Peers, model.Peer{ID: model.NodeID(i), Host: "127.0.0.1", Port: 9000 + i})
	}
	return c
}

// fakePeer is the far end of a peer link, driven by the test.
type fakePeer struct {
	id   model.NodeID
	raw  net.Conn
	conn *wire.Conn
}

func (p *fakePeer) expect(t *testing.T, want string) {
	t.Helper()
	p.raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := p.conn.Recv()
	if err != nil {
		t.Fatalf("peer %d: waiting for %q: %v", p.id, want, err)
	}
	if got != want {
		t.Fatalf("peer %d: got %q, want %q", p.id, got, want)
	}
}

// quiet asserts that nothing reaches the peer for a short while.
func (p *fakePeer) quiet(t *testing.T) {
	t.Helper()
	p.raw.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	got, err := p.conn.Recv()
	if err == nil {
		t.Fatalf("peer %d: unexpected message %q", p.id, got)
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("peer %d: %v", p.id, err)
	}
}

func (p *fakePeer) send(t *testing.T, kind wire.Kind, tickets, ts int64) {
	t.Helper()
	m := wire.Message{Kind: kind, Tickets: tickets, Timestamp: ts}
	if err := p.conn.Send(m.Encode()); err != nil {
		t.Fatalf("peer %d: send %s: %v", p.id, m.Encode(), err)
	}
}

type harness struct {
	node  *Node
	peers map[model.NodeID]*fakePeer
	// journal receives the node's decisions unless cfg.Journal was set.
	journal *journal.Memory
}

// newHarness links cfg's node to a fake peer for every other datacenter
// and starts its purchase pipeline.
func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	mem := journal.NewMemory()
	if cfg.Journal == nil {
		cfg.Journal = mem
	}
	if cfg.Logger == nil {
		cfg.Logger = testLogger(t)
	}
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{node: n, peers: map[model.NodeID]*fakePeer{}, journal: mem}
	t.Cleanup(func() {
		cancel()
		n.closeLinks()
		for _, p := range h.peers {
			p.raw.Close()
		}
		n.wg.Wait()
	})

	for _, p := range n.others {
		near, far := net.Pipe()
		if err := n.attach(ctx, p.ID, wire.NewConn(near)); err != nil {
			t.Fatalf("attach %d: %v", p.ID, err)
		}
		h.peers[p.ID] = &fakePeer{id: p.ID, raw: far, conn: wire.NewConn(far)}
	}
	select {
	case <-n.Ready():
	default:
		t.Fatal("node not ready after linking every peer")
	}
	n.startPipeline(ctx)
	return h
}

type buyResult struct {
	outcome model.Outcome
	err     error
}

func (h *harness) buy(tickets int64) <-chan buyResult {
	ch := make(chan buyResult, 1)
	go func() {
		outcome, err := h.node.Buy(context.Background(), tickets)
		ch <- buyResult{outcome, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan buyResult) buyResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("purchase did not complete")
	}
	return buyResult{}
}

func pending(t *testing.T, ch <-chan buyResult) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("purchase decided early: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

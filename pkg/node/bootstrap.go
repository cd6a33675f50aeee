package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	retry "github.com/vimeo/go-retry"

	"github.com/daviddao/tixd/pkg/model"
	"github.com/daviddao/tixd/pkg/wire"
)

// Run serves the node until ctx is cancelled. It listens for peers with
// larger ids and for clients, and dials every peer with a smaller id,
// retrying with backoff until that peer is up. Datacenters may therefore
// be started in any order.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln := n.ln
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(n.self.Port)))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	n.logf("listening on %s", ln.Addr())

	n.startPipeline(ctx)
	for _, p := range n.others {
		if p.ID < n.id {
			p := p
			n.wg.Add(1)
			go func() {
				defer n.wg.Done()
				n.connect(ctx, p)
			}()
		}
	}

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- n.acceptLoop(ctx, ln) }()

	var err error
	select {
	case <-ctx.Done():
		ln.Close()
		err = <-acceptErr
	case err = <-acceptErr:
		cancel()
		ln.Close()
	}
	n.closeLinks()
	n.wg.Wait()
	if n.journal != nil {
		// Catch decisions applied after the writer stopped.
		n.flushJournal()
	}
	return err
}

// connect dials peer until a link is established or ctx is done.
func (n *Node) connect(ctx context.Context, peer model.Peer) {
	b := retry.DefaultBackoff()
	b.MinBackoff = 100 * time.Millisecond
	b.MaxBackoff = 5 * time.Second
	for {
		err := n.connectOnce(ctx, peer)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		wait := b.Next()
		n.logf("connect to datacenter %d at %s: %v (retry in %s)", peer.ID, peer.Addr(), err, wait)
		if !n.clk.SleepFor(ctx, wait) {
			return
		}
	}
}

func (n *Node) connectOnce(ctx context.Context, peer model.Peer) error {
	raw, err := n.dial(ctx, peer.Addr())
	if err != nil {
		return err
	}
	conn := wire.NewConn(raw)
	if err := conn.Send(wire.Identity(n.id)); err != nil {
		conn.Close()
		return fmt.Errorf("send identity: %w", err)
	}
	if err := n.attach(ctx, peer.ID, conn); err != nil {
		conn.Close()
		return err
	}
	return nil
}

func (n *Node) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.serveConn(ctx, wire.NewConn(raw))
		}()
	}
}

// serveConn identifies an inbound connection by its first frame: a DID
// from a larger-id peer becomes a peer link, a BUY is a client purchase.
func (n *Node) serveConn(ctx context.Context, conn *wire.Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	body, err := conn.Recv()
	if err != nil {
		conn.Close()
		return
	}
	hello, err := wire.ParseHello(body)
	if err != nil {
		n.logf("rejecting connection: %v", err)
		conn.Close()
		return
	}

	switch hello.Kind {
	case wire.HelloPeer:
		if hello.Node <= n.id {
			n.logf("rejecting datacenter %d: smaller ids are dialed, not accepted", hello.Node)
			conn.Close()
			return
		}
		if err := n.attach(ctx, hello.Node, conn); err != nil {
			n.logf("rejecting datacenter %d: %v", hello.Node, err)
			conn.Close()
		}

	case wire.HelloBuy:
		defer conn.Close()
		outcome, err := n.Buy(ctx, hello.Tickets)
		switch {
		case err == nil && outcome == model.OutcomeGranted:
			conn.Send(wire.Success)
		case err == nil, errors.Is(err, ErrHalted):
			conn.Send(wire.Fail)
		default:
			n.logf("purchase of %d tickets abandoned: %v", hello.Tickets, err)
		}
	}
}

func (n *Node) closeLinks() {
	n.mu.Lock()
	links := make([]*peerLink, 0, len(n.links))
	for _, l := range n.links {
		links = append(links, l)
	}
	n.mu.Unlock()
	for _, l := range links {
		l.conn.Close()
	}
}

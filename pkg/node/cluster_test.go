package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/daviddao/tixd/pkg/client"
	"github.com/daviddao/tixd/pkg/config"
	"github.com/daviddao/tixd/pkg/journal"
	"github.com/daviddao/tixd/pkg/model"
)

// TestClusterOverTCP runs three datacenters on loopback and buys from all
// of them at once.
func TestClusterOverTCP(t *testing.T) {
	if testing.Short() {
		t.Skip("starts real listeners")
	}
	const size, tickets, purchases = 3, 20, 15

	cluster := &config.Cluster{Tickets: tickets}
	listeners := map[model.NodeID]net.Listener{}
	for i := 1; i <= size; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		id := model.NodeID(i)
		listeners[id] = ln
		cluster.Peers = append(cluster.Peers, model.Peer{ID: id, Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port})
	}

	mem := journal.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodes := map[model.NodeID]*Node{}
	runErr := make(chan error, size)
	// Start in reverse order so the dialers have to retry.
	for i := size; i >= 1; i-- {
		id := model.NodeID(i)
		n, err := New(Config{ID: id, Cluster: cluster, Listener: listeners[id], Journal: mem, Logger: testLogger(t)})
		if err != nil {
			t.Fatal(err)
		}
		nodes[id] = n
		go func() { runErr <- n.Run(ctx) }()
	}
	for id, n := range nodes {
		select {
		case <-n.Ready():
		case <-time.After(10 * time.Second):
			t.Fatalf("datacenter %d never linked its peers", id)
		}
	}

	var (
		mu   sync.Mutex
		sold int64
		wg   sync.WaitGroup
	)
	for i := 0; i < purchases; i++ {
		target := cluster.Peers[i%size]
		count := int64(i%4 + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			bctx, bcancel := context.WithTimeout(ctx, 10*time.Second)
			defer bcancel()
			outcome, err := client.Buy(bctx, target.Addr(), count)
			if err != nil {
				t.Errorf("buy %d from %d: %v", count, target.ID, err)
				return
			}
			if outcome == model.OutcomeGranted {
				mu.Lock()
				sold += count
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if t.Failed() {
		return
	}

	for id, n := range nodes {
		eventually(t, fmt.Sprintf("datacenter %d to apply every decision", id), func() bool {
			return n.Status().Applied == purchases
		})
		st := n.Status()
		if st.Remaining != tickets-sold || st.Remaining < 0 {
			t.Errorf("datacenter %d: remaining %d, want %d", id, st.Remaining, tickets-sold)
		}
		if len(st.Queue) != 0 {
			t.Errorf("datacenter %d: queue not drained: %v", id, st.Queue)
		}
	}

	logs := map[model.NodeID][]model.Decision{}
	for id := range nodes {
		var ds []model.Decision
		eventually(t, fmt.Sprintf("datacenter %d journal", id), func() bool {
			ds, _ = mem.List(id)
			return len(ds) == purchases
		})
		if got, err := journal.Replay(tickets, ds); err != nil || got != tickets-sold {
			t.Errorf("datacenter %d: replay = %d, %v; want %d", id, got, err, tickets-sold)
		}
		logs[id] = ds
	}
	for i := model.NodeID(2); i <= size; i++ {
		if err := journal.CheckOrder(logs[1], logs[i]); err != nil {
			t.Errorf("datacenters 1 and %d: %v", i, err)
		}
	}

	cancel()
	for i := 0; i < size; i++ {
		select {
		case err := <-runErr:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

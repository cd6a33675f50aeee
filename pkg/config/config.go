// Package config reads the cluster file shared by every datacenter.
//
// The first non-comment line is the initial ticket count. Each following
// line describes one datacenter:
//
//	10
//	1 127.0.0.1 9001
//	2 127.0.0.1 9002
//
// Blank lines and lines starting with '#' are ignored.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/daviddao/tixd/pkg/model"
)

// Cluster is the parsed cluster file.
type Cluster struct {
	Tickets int64
	Peers   []model.Peer // sorted by ID
}

// Load reads and validates the cluster file at path.
func Load(path string) (*Cluster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse reads a cluster file from r.
func Parse(r io.Reader) (*Cluster, error) {
	var (
		c       Cluster
		haveTix bool
		seen    = map[model.NodeID]int{}
		lineNo  int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !haveTix {
			n, err := strconv.ParseInt(line, 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("line %d: ticket count %q must be a non-negative integer", lineNo, line)
			}
			c.Tickets = n
			haveTix = true
			continue
		}
		p, err := parsePeer(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if prev, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("line %d: datacenter %d already defined on line %d", lineNo, p.ID, prev)
		}
		seen[p.ID] = lineNo
		c.Peers = append(c.Peers, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if !haveTix {
		return nil, fmt.Errorf("missing ticket count")
	}
	if len(c.Peers) == 0 {
		return nil, fmt.Errorf("no datacenters defined")
	}
	sort.Slice(c.Peers, func(i, j int) bool { return c.Peers[i].ID < c.Peers[j].ID })
	return &c, nil
}

func parsePeer(line string) (model.Peer, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return model.Peer{}, fmt.Errorf("want \"<id> <host> <port>\", got %q", line)
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return model.Peer{}, fmt.Errorf("bad datacenter id %q", fields[0])
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil || port < 0 || port > 65535 {
		return model.Peer{}, fmt.Errorf("bad port %q", fields[2])
	}
	return model.Peer{ID: model.NodeID(id), Host: fields[1], Port: port}, nil
}

// Lookup returns the entry for id.
func (c *Cluster) Lookup(id model.NodeID) (model.Peer, bool) {
	for _, p := range c.Peers {
		if p.ID == id {
			return p, true
		}
	}
	return model.Peer{}, false
}

// Others returns every entry except self, sorted by ID.
func (c *Cluster) Others(self model.NodeID) []model.Peer {
	var out []model.Peer
	for _, p := range c.Peers {
		if p.ID != self {
			out = append(out, p)
		}
	}
	return out
}

package journal

import (
	"sync"

	"github.com/daviddao/tixd/pkg/model"
)

// Memory is an in-process journal. Several nodes in one process may share
// it, as the cluster tests do.
type Memory struct {
	mu     sync.Mutex
	byNode map[model.NodeID][]model.Decision
}

// NewMemory returns an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{byNode: map[model.NodeID][]model.Decision{}}
}

// Record appends d to its node's log.
func (m *Memory) Record(d model.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byNode[d.Node] = append(m.byNode[d.Node], d)
	return nil
}

// List returns a copy of node's decisions.
func (m *Memory) List(node model.NodeID) ([]model.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Decision, len(m.byNode[node]))
	copy(out, m.byNode[node])
	return out, nil
}

var (
	_ Recorder = (*Memory)(nil)
	_ Reader   = (*Memory)(nil)
)

package hub

import (
	"sort"
	"sync"

	"github.com/theaaf/blackmagic-c2/internal/protocol"
	"github.com/theaaf/blackmagic-c2/internal/shared/id"
)

type agentEntry struct {
	info protocol.AgentInfo
	conn *AgentConn
}

// Registry tracks connected agents by agent id and bridged shells by shell
// id. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*agentEntry
	shells map[id.ShellID]*ShellBridge
}

func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*agentEntry),
		shells: make(map[id.ShellID]*ShellBridge),
	}
}

// PutAgent records state reported over conn. When a different connection
// held agentID it is returned so the caller can drop it; the newest
// connection always wins.
func (r *Registry) PutAgent(agentID string, state protocol.AgentState, conn *AgentConn) (replaced *AgentConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.agents[agentID]
	if ok && e.conn != conn {
		replaced = e.conn
		ok = false
	}
	if !ok {
		e = &agentEntry{
			info: protocol.AgentInfo{ID: agentID, Remote: conn.Remote(), ConnectedAt: conn.ConnectedAt()},
			conn: conn,
		}
		r.agents[agentID] = e
	}
	e.info.State = state
	return replaced
}

// RemoveAgent drops agentID if it is still registered to conn.
func (r *Registry) RemoveAgent(agentID string, conn *AgentConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.agents[agentID]; ok && e.conn == conn {
		delete(r.agents, agentID)
		return true
	}
	return false
}

func (r *Registry) Agent(agentID string) (protocol.AgentInfo, *AgentConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.agents[agentID]
	if !ok {
		return protocol.AgentInfo{}, nil, false
	}
	return e.info, e.conn, true
}

// Agents returns every registered agent ordered by id.
func (r *Registry) Agents() []protocol.AgentInfo {
	r.mu.RLock()
	out := make([]protocol.AgentInfo, 0, len(r.agents))
	for _, e := range r.agents {
		out = append(out, e.info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) AgentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) PutShell(b *ShellBridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shells[b.ID()] = b
}

func (r *Registry) RemoveShell(shellID id.ShellID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shells, shellID)
}

func (r *Registry) Shell(shellID id.ShellID) (*ShellBridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.shells[shellID]
	return b, ok
}

// ShellsFor returns the shells bridged to conn.
func (r *Registry) ShellsFor(conn *AgentConn) []*ShellBridge {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*ShellBridge
	for _, b := range r.shells {
		if b.agent == conn {
			out = append(out, b)
		}
	}
	return out
}

// Conns returns every registered agent connection.
func (r *Registry) Conns() []*AgentConn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*AgentConn, 0, len(r.agents))
	for _, e := range r.agents {
		out = append(out, e.conn)
	}
	return out
}

func (r *Registry) ShellCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.shells)
}

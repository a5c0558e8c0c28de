// Package routing maintains the undirected multigraph of discovered nodes
// and answers shortest-route queries over it, weighting drones by their
// historical drop rate. Modeled on the teacher's device/router counters and
// dedupe bookkeeping, generalized from packet forwarding to route planning.
package routing

import (
	"container/heap"
	"sync"

	"github.com/kabili207/dronenet-go/core"
)

// nodeStats tracks forward/drop counts used to weight a drone during
// route computation (spec §3: per-node history of {forwarded, dropped}).
type nodeStats struct {
	forwarded uint64
	dropped   uint64
}

// Topology is the client's view of the overlay network: node kinds,
// symmetric adjacency, and per-drone forwarding statistics.
type Topology struct {
	mu        sync.RWMutex
	kinds     map[core.NodeId]core.NodeKind
	neighbors map[core.NodeId]map[core.NodeId]struct{}
	stats     map[core.NodeId]*nodeStats
}

// New returns an empty Topology.
func New() *Topology {
	return &Topology{
		kinds:     make(map[core.NodeId]core.NodeKind),
		neighbors: make(map[core.NodeId]map[core.NodeId]struct{}),
		stats:     make(map[core.NodeId]*nodeStats),
	}
}

// AddNode registers id with an unknown kind if it is not already present.
// Idempotent.
func (t *Topology) AddNode(id core.NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addNodeLocked(id)
}

func (t *Topology) addNodeLocked(id core.NodeId) {
	if _, ok := t.kinds[id]; !ok {
		t.kinds[id] = core.KindUnknown
	}
	if _, ok := t.neighbors[id]; !ok {
		t.neighbors[id] = make(map[core.NodeId]struct{})
	}
	if _, ok := t.stats[id]; !ok {
		t.stats[id] = &nodeStats{}
	}
}

// RemoveNode removes id and prunes it from every neighbor set. Idempotent.
func (t *Topology) RemoveNode(id core.NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for n := range t.neighbors[id] {
		delete(t.neighbors[n], id)
	}
	delete(t.neighbors, id)
	delete(t.kinds, id)
	delete(t.stats, id)
}

// AddEdge adds a symmetric edge between a and b, creating either node if
// absent. Idempotent.
func (t *Topology) AddEdge(a, b core.NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addNodeLocked(a)
	t.addNodeLocked(b)
	t.neighbors[a][b] = struct{}{}
	t.neighbors[b][a] = struct{}{}
}

// SetKind records the kind of an existing or new node.
func (t *Topology) SetKind(id core.NodeId, kind core.NodeKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addNodeLocked(id)
	t.kinds[id] = kind
}

// GetKind returns the recorded kind of id, or KindUnknown if id is unknown.
func (t *Topology) GetKind(id core.NodeId) core.NodeKind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.kinds[id]
}

// Neighbors returns a snapshot of id's neighbor set.
func (t *Topology) Neighbors(id core.NodeId) []core.NodeId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.NodeId, 0, len(t.neighbors[id]))
	for n := range t.neighbors[id] {
		out = append(out, n)
	}
	return out
}

// HasEdge reports whether a and b are adjacent.
func (t *Topology) HasEdge(a, b core.NodeId) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.neighbors[a][b]
	return ok
}

// RecordHop increments the forwarded counter, and the dropped counter if
// dropped is true, for every drone in route (spec §4.1: record_hop).
// Endpoints and non-drone intermediates are unaffected.
func (t *Topology) RecordHop(route []core.NodeId, dropped bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range route {
		if t.kinds[id] != core.KindDrone {
			continue
		}
		s, ok := t.stats[id]
		if !ok {
			s = &nodeStats{}
			t.stats[id] = s
		}
		s.forwarded++
		if dropped {
			s.dropped++
		}
	}
}

// weight returns the routing weight of a drone given its historical drop
// ratio. Monotonic non-decreasing in dropped/forwarded and always ≥ 1,
// per the Dijkstra weight Open Question decision recorded in DESIGN.md.
func weight(s *nodeStats) float64 {
	if s == nil {
		return 1
	}
	forwarded := s.forwarded
	if forwarded < 1 {
		forwarded = 1
	}
	return 1 + 9*float64(s.dropped)/float64(forwarded)
}

type heapEntry struct {
	id   core.NodeId
	dist float64
	idx  int
}

type priorityQueue []*heapEntry

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].dist != pq[j].dist {
		return pq[i].dist < pq[j].dist
	}
	return pq[i].id < pq[j].id
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].idx = i
	pq[j].idx = j
}
func (pq *priorityQueue) Push(x any) {
	e := x.(*heapEntry)
	e.idx = len(*pq)
	*pq = append(*pq, e)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return e
}

// ShortestRoute computes the lowest-weight path from src to dst, where only
// drones may act as intermediates (spec §4.1, §9 Open Question: intermediate
// weight for non-drones is infinite). Ties are broken by lower NodeId.
// Returns nil if src or dst is unknown or they are not connected through
// drones. If src == dst and the node is known, returns the one-hop route
// [src].
func (t *Topology) ShortestRoute(src, dst core.NodeId) []core.NodeId {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if src == dst {
		if _, ok := t.kinds[src]; ok {
			return []core.NodeId{src}
		}
		return nil
	}
	if _, ok := t.kinds[src]; !ok {
		return nil
	}
	if _, ok := t.kinds[dst]; !ok {
		return nil
	}

	dist := map[core.NodeId]float64{src: 0}
	prev := map[core.NodeId]core.NodeId{}
	visited := map[core.NodeId]bool{}

	pq := &priorityQueue{{id: src, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*heapEntry)
		if visited[cur.id] {
			continue
		}
		visited[cur.id] = true
		if cur.id == dst {
			break
		}

		neighbors := make([]core.NodeId, 0, len(t.neighbors[cur.id]))
		for n := range t.neighbors[cur.id] {
			neighbors = append(neighbors, n)
		}

		for _, n := range neighbors {
			if visited[n] {
				continue
			}
			// Only drones may serve as intermediates; dst may be any kind.
			if n != dst && t.kinds[n] != core.KindDrone {
				continue
			}
			w := weight(t.stats[n])
			nd := cur.dist + w
			if existing, ok := dist[n]; !ok || nd < existing || (nd == existing && cur.id < prev[n]) {
				dist[n] = nd
				prev[n] = cur.id
				heap.Push(pq, &heapEntry{id: n, dist: nd})
			}
		}
	}

	if _, ok := dist[dst]; !ok {
		return nil
	}

	route := []core.NodeId{dst}
	for route[len(route)-1] != src {
		p, ok := prev[route[len(route)-1]]
		if !ok {
			return nil
		}
		route = append(route, p)
	}
	// reverse
	for i, j := 0, len(route)-1; i < j; i, j = i+1, j-1 {
		route[i], route[j] = route[j], route[i]
	}
	return route
}

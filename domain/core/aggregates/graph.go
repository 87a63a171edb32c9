package aggregates

import (
	"errors"
	"sort"
	"time"

	"designgraph/domain/core/valueobjects"
	"designgraph/domain/events"
)

// InitialVersion is the version of a freshly created graph.
const InitialVersion = 1

// AppliedLogSize bounds how many recent patches a graph remembers.
const AppliedLogSize = 256

// AppliedPatch records which version a patch produced. PatchID is empty
// for anonymous patches.
type AppliedPatch struct {
	PatchID string `json:"patch_id,omitempty"`
	Version int    `json:"version"`
}

// Node is a typed vertex of a design graph.
type Node struct {
	ID    string                  `json:"id"`
	Type  string                  `json:"type"`
	Attrs valueobjects.Attributes `json:"attrs"`
}

// Edge connects two nodes. At most one edge exists per ordered pair.
type Edge struct {
	SourceID string                  `json:"source_id"`
	TargetID string                  `json:"target_id"`
	Attrs    valueobjects.Attributes `json:"attrs"`
}

// Key returns the identity of the edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.SourceID, Target: e.TargetID}
}

// EdgeKey identifies an edge by its ordered endpoints.
type EdgeKey struct {
	Source string
	Target string
}

func (k EdgeKey) String() string {
	return k.Source + "->" + k.Target
}

// Graph is the aggregate root for one session's design graph.
// A Graph value is never mutated once it has been handed out; applying a
// patch produces a new Graph.
type Graph struct {
	sessionID string
	version   int
	nodes     map[string]Node
	edges     map[EdgeKey]Edge
	meta      map[string]any
	createdAt time.Time
	updatedAt time.Time
	applied   []AppliedPatch // oldest first, one entry per version after the first
	events    []events.DomainEvent
}

// NewGraph creates an empty graph at version 1
func NewGraph(sessionID string) (*Graph, error) {
	if sessionID == "" {
		return nil, errors.New("session id required")
	}

	now := time.Now().UTC()
	g := &Graph{
		sessionID: sessionID,
		version:   InitialVersion,
		nodes:     make(map[string]Node),
		edges:     make(map[EdgeKey]Edge),
		meta:      make(map[string]any),
		createdAt: now,
		updatedAt: now,
	}
	g.addEvent(events.NewSessionCreated(sessionID, now))
	return g, nil
}

// ReconstructGraph recreates a graph from stored data
func ReconstructGraph(sessionID string, version int, nodes []Node, edges []Edge, meta map[string]any, createdAt, updatedAt time.Time) (*Graph, error) {
	if sessionID == "" {
		return nil, errors.New("session id required for graph reconstruction")
	}
	if version < InitialVersion {
		return nil, errors.New("graph version must be positive")
	}

	g := &Graph{
		sessionID: sessionID,
		version:   version,
		nodes:     make(map[string]Node, len(nodes)),
		edges:     make(map[EdgeKey]Edge, len(edges)),
		meta:      valueobjects.CloneMap(meta),
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
	if g.meta == nil {
		g.meta = make(map[string]any)
	}
	for _, n := range nodes {
		g.nodes[n.ID] = Node{ID: n.ID, Type: n.Type, Attrs: n.Attrs.Clone()}
	}
	for _, e := range edges {
		g.edges[e.Key()] = Edge{SourceID: e.SourceID, TargetID: e.TargetID, Attrs: e.Attrs.Clone()}
	}
	return g, nil
}

// SessionID returns the owning session
func (g *Graph) SessionID() string { return g.sessionID }

// Version returns the concurrency token of this snapshot
func (g *Graph) Version() int { return g.version }

// CreatedAt returns the creation time
func (g *Graph) CreatedAt() time.Time { return g.createdAt }

// UpdatedAt returns the time of the last applied patch
func (g *Graph) UpdatedAt() time.Time { return g.updatedAt }

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Node returns a copy of the node with the given id
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return Node{ID: n.ID, Type: n.Type, Attrs: n.Attrs.Clone()}, true
}

// HasNode reports whether a node exists
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Edge returns a copy of the edge between source and target
func (g *Graph) Edge(source, target string) (Edge, bool) {
	e, ok := g.edges[EdgeKey{Source: source, Target: target}]
	if !ok {
		return Edge{}, false
	}
	return Edge{SourceID: e.SourceID, TargetID: e.TargetID, Attrs: e.Attrs.Clone()}, true
}

// Nodes returns copies of all nodes ordered by id
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, Node{ID: n.ID, Type: n.Type, Attrs: n.Attrs.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns copies of all edges ordered by (source, target)
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{SourceID: e.SourceID, TargetID: e.TargetID, Attrs: e.Attrs.Clone()})
	}
	SortEdges(out)
	return out
}

// Meta returns a copy of the graph metadata
func (g *Graph) Meta() map[string]any {
	return valueobjects.CloneMap(g.meta)
}

// Clone returns a deep copy with no pending events
func (g *Graph) Clone() *Graph {
	c := &Graph{
		sessionID: g.sessionID,
		version:   g.version,
		nodes:     make(map[string]Node, len(g.nodes)),
		edges:     make(map[EdgeKey]Edge, len(g.edges)),
		meta:      valueobjects.CloneMap(g.meta),
		createdAt: g.createdAt,
		updatedAt: g.updatedAt,
		applied:   append([]AppliedPatch(nil), g.applied...),
	}
	if c.meta == nil {
		c.meta = make(map[string]any)
	}
	for id, n := range g.nodes {
		c.nodes[id] = Node{ID: n.ID, Type: n.Type, Attrs: n.Attrs.Clone()}
	}
	for k, e := range g.edges {
		c.edges[k] = Edge{SourceID: e.SourceID, TargetID: e.TargetID, Attrs: e.Attrs.Clone()}
	}
	return c
}

// Snapshot is the serializable form of a graph
type Snapshot struct {
	SessionID string         `json:"session_id"`
	Version   int            `json:"version"`
	Nodes     []Node         `json:"nodes"`
	Edges     []Edge         `json:"edges"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	AppliedPatches []AppliedPatch `json:"applied_patches,omitempty"`
}

// Snapshot renders the graph in its serializable form
func (g *Graph) Snapshot() Snapshot {
	return Snapshot{
		SessionID: g.sessionID,
		Version:   g.version,
		Nodes:     g.Nodes(),
		Edges:     g.Edges(),
		Meta:      g.Meta(),
		CreatedAt: g.createdAt,
		UpdatedAt: g.updatedAt,

		AppliedPatches: append([]AppliedPatch(nil), g.applied...),
	}
}

// FromSnapshot rebuilds a graph from its serializable form
func FromSnapshot(s Snapshot) (*Graph, error) {
	g, err := ReconstructGraph(s.SessionID, s.Version, s.Nodes, s.Edges, s.Meta, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	g.applied = append([]AppliedPatch(nil), s.AppliedPatches...)
	return g, nil
}

// PatchAppliedAfter looks for patchID among the patches that produced the
// versions after base. It returns the version the patch produced, or 0 when
// it was not applied after base. known is false when the log no longer
// reaches back to base.
func (g *Graph) PatchAppliedAfter(patchID string, base int) (version int, known bool) {
	if patchID == "" {
		return 0, false
	}
	for i := len(g.applied) - 1; i >= 0; i-- {
		entry := g.applied[i]
		if entry.Version <= base {
			return 0, true
		}
		if entry.PatchID == patchID {
			return entry.Version, true
		}
	}
	if g.version <= base {
		return 0, true
	}
	// every version after base is still logged
	return 0, len(g.applied) > 0 && g.applied[0].Version <= base+1
}

func (g *Graph) recordApplied(patchID string) {
	g.applied = append(g.applied, AppliedPatch{PatchID: patchID, Version: g.version})
	if over := len(g.applied) - AppliedLogSize; over > 0 {
		g.applied = append([]AppliedPatch(nil), g.applied[over:]...)
	}
}

// SortEdges orders edges by (source, target)
func SortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].SourceID != edges[j].SourceID {
			return edges[i].SourceID < edges[j].SourceID
		}
		return edges[i].TargetID < edges[j].TargetID
	})
}

// Domain event handling

func (g *Graph) addEvent(event events.DomainEvent) {
	g.events = append(g.events, event)
}

// GetUncommittedEvents returns events raised while building this snapshot
func (g *Graph) GetUncommittedEvents() []events.DomainEvent {
	out := make([]events.DomainEvent, len(g.events))
	copy(out, g.events)
	return out
}

// MarkEventsAsCommitted clears the event list
func (g *Graph) MarkEventsAsCommitted() {
	g.events = nil
}

// Package view projects design graphs into layer views and renders them.
package view

import (
	"sort"

	"designgraph/domain/core/aggregates"
)

// DefaultLayer holds every node that carries no layer attribute.
const DefaultLayer = "default"

// Grid layout used when no node in a view has a position.
const (
	GridColumnWidth = 220
	GridRowHeight   = 140
	GridPerRow      = 6
	GridOriginX     = 40
	GridOriginY     = 40
)

// View is a layer-filtered projection of one graph version.
type View struct {
	Layer   string            `json:"layer"`
	Version int               `json:"version"`
	Nodes   []aggregates.Node `json:"nodes"`
	Edges   []aggregates.Edge `json:"edges"`
}

// Delta answers whether a view changed since a known version.
type Delta struct {
	Changed bool  `json:"changed"`
	Version int   `json:"version"`
	View    *View `json:"view,omitempty"`
}

// NormalizeLayer maps the empty layer to DefaultLayer.
func NormalizeLayer(layer string) string {
	if layer == "" {
		return DefaultLayer
	}
	return layer
}

// Project filters g to the nodes of layer and the edges whose endpoints both
// survive. Nodes whose layer attribute is not a string are in no view.
func Project(g *aggregates.Graph, layer string) View {
	layer = NormalizeLayer(layer)

	v := View{
		Layer:   layer,
		Version: g.Version(),
		Nodes:   []aggregates.Node{},
		Edges:   []aggregates.Edge{},
	}

	kept := make(map[string]struct{})
	for _, n := range g.Nodes() {
		if l, ok := n.Attrs.ResolveLayer(DefaultLayer); !ok || l != layer {
			continue
		}
		v.Nodes = append(v.Nodes, n)
		kept[n.ID] = struct{}{}
	}

	for _, e := range g.Edges() {
		_, src := kept[e.SourceID]
		_, dst := kept[e.TargetID]
		if src && dst {
			v.Edges = append(v.Edges, e)
		}
	}
	return v
}

// ComputeDelta returns changed=false without a view when g is still at since.
func ComputeDelta(g *aggregates.Graph, since int, layer string) Delta {
	if g.Version() == since {
		return Delta{Changed: false, Version: g.Version()}
	}
	v := Project(g, layer)
	return Delta{Changed: true, Version: g.Version(), View: &v}
}

// EnsurePositions lays out a view on a grid when none of its nodes is
// positioned. The input is never modified; a view with at least one
// positioned node is returned as is.
func EnsurePositions(v View) View {
	for _, n := range v.Nodes {
		if n.Attrs.HasPosition() {
			return v
		}
	}

	out := View{
		Layer:   v.Layer,
		Version: v.Version,
		Nodes:   make([]aggregates.Node, len(v.Nodes)),
		Edges:   make([]aggregates.Edge, len(v.Edges)),
	}
	copy(out.Edges, v.Edges)

	order := make([]int, len(v.Nodes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		na, nb := v.Nodes[order[a]], v.Nodes[order[b]]
		if na.Type != nb.Type {
			return na.Type < nb.Type
		}
		return na.ID < nb.ID
	})

	for slot, idx := range order {
		n := v.Nodes[idx]
		x := float64(GridOriginX + (slot%GridPerRow)*GridColumnWidth)
		y := float64(GridOriginY + (slot/GridPerRow)*GridRowHeight)
		out.Nodes[idx] = aggregates.Node{ID: n.ID, Type: n.Type, Attrs: n.Attrs.WithPosition(x, y)}
	}
	return out
}

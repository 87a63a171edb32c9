package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"designgraph/domain/core/aggregates"
	"designgraph/domain/core/valueobjects"
)

func buildGraph(t *testing.T, ops ...aggregates.Operation) *aggregates.Graph {
	t.Helper()
	g, err := aggregates.NewGraph("s1")
	require.NoError(t, err)
	if len(ops) == 0 {
		return g
	}
	g, err = g.Apply(aggregates.NewPatch("", ops...))
	require.NoError(t, err)
	return g
}

func nodeIDs(v View) []string {
	ids := make([]string, 0, len(v.Nodes))
	for _, n := range v.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestProject(t *testing.T) {
	g := buildGraph(t,
		aggregates.AddNodeOp("", "p1", "panel", map[string]any{"layer": "single-line"}),
		aggregates.AddNodeOp("", "p2", "panel", map[string]any{"layer": "single-line"}),
		aggregates.AddNodeOp("", "r1", "room", map[string]any{"layer": "floor"}),
		aggregates.AddNodeOp("", "u1", "note", nil),
		aggregates.AddNodeOp("", "e1", "note", map[string]any{"layer": ""}),
		aggregates.AddNodeOp("", "z1", "note", map[string]any{"layer": 5}),
		aggregates.AddEdgeOp("", "p1", "p2", nil),
		aggregates.AddEdgeOp("", "p1", "r1", nil),
		aggregates.AddEdgeOp("", "u1", "p1", nil),
	)

	tests := []struct {
		name      string
		layer     string
		wantNodes []string
		wantEdges int
	}{
		{"named layer", "single-line", []string{"p1", "p2"}, 1},
		{"other layer", "floor", []string{"r1"}, 0},
		{"default layer", DefaultLayer, []string{"e1", "u1"}, 0},
		{"empty means default", "", []string{"e1", "u1"}, 0},
		{"numeric layer matches nothing", "5", []string{}, 0},
		{"unknown layer", "nope", []string{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Project(g, tt.layer)
			assert.Equal(t, NormalizeLayer(tt.layer), v.Layer)
			assert.Equal(t, g.Version(), v.Version)
			assert.Equal(t, tt.wantNodes, nodeIDs(v))
			assert.Len(t, v.Edges, tt.wantEdges)

			// an edge is present iff both endpoints are
			present := make(map[string]bool)
			for _, id := range nodeIDs(v) {
				present[id] = true
			}
			for _, e := range v.Edges {
				assert.True(t, present[e.SourceID] && present[e.TargetID])
			}
		})
	}
}

func TestComputeDelta(t *testing.T) {
	g := buildGraph(t, aggregates.AddNodeOp("", "n1", "panel", nil))

	unchanged := ComputeDelta(g, g.Version(), "")
	assert.False(t, unchanged.Changed)
	assert.Nil(t, unchanged.View)
	assert.Equal(t, g.Version(), unchanged.Version)

	changed := ComputeDelta(g, 1, "")
	assert.True(t, changed.Changed)
	require.NotNil(t, changed.View)
	assert.Equal(t, Project(g, ""), *changed.View)
}

func TestEnsurePositions(t *testing.T) {
	v := Project(buildGraph(t,
		aggregates.AddNodeOp("", "b", "panel", nil),
		aggregates.AddNodeOp("", "a", "panel", nil),
		aggregates.AddNodeOp("", "z", "breaker", nil),
		aggregates.AddNodeOp("", "c1", "load", nil),
		aggregates.AddNodeOp("", "c2", "load", nil),
		aggregates.AddNodeOp("", "c3", "load", nil),
		aggregates.AddNodeOp("", "c4", "load", nil),
	), "")

	laid := EnsurePositions(v)

	want := map[string][2]float64{
		"z":  {40, 40},
		"c1": {260, 40},
		"c2": {480, 40},
		"c3": {700, 40},
		"c4": {920, 40},
		"a":  {1140, 40},
		"b":  {40, 180},
	}
	for _, n := range laid.Nodes {
		require.NotNil(t, n.Attrs.X, n.ID)
		require.NotNil(t, n.Attrs.Y, n.ID)
		assert.Equal(t, want[n.ID][0], *n.Attrs.X, n.ID)
		assert.Equal(t, want[n.ID][1], *n.Attrs.Y, n.ID)
	}

	// input untouched
	for _, n := range v.Nodes {
		assert.False(t, n.Attrs.HasPosition())
	}
}

func TestEnsurePositions_KeepsExplicitLayout(t *testing.T) {
	v := View{
		Layer: DefaultLayer,
		Nodes: []aggregates.Node{
			{ID: "a", Type: "t", Attrs: valueobjects.NewAttributes(map[string]any{"pos": map[string]any{"x": 5.0, "y": 6.0}})},
			{ID: "b", Type: "t"},
		},
	}

	out := EnsurePositions(v)
	assert.Equal(t, v, out)
	assert.Nil(t, out.Nodes[1].Attrs.X)
}

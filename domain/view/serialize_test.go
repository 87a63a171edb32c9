package view

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"designgraph/domain/core/aggregates"
	"designgraph/domain/core/valueobjects"
)

func TestSerialize(t *testing.T) {
	v := View{
		Layer: "single-line",
		Nodes: []aggregates.Node{
			{ID: "p2", Type: "panel", Attrs: valueobjects.NewAttributes(map[string]any{"name": "Sub Panel", "amps": 100.0, "secret": "x"})},
			{ID: "b1", Type: "breaker", Attrs: valueobjects.NewAttributes(map[string]any{"poles": 2.0, "layer": "single-line"})},
			{ID: "p1", Type: "panel", Attrs: valueobjects.NewAttributes(map[string]any{"voltage": 480.0, "kva": 112.5})},
		},
		Edges: []aggregates.Edge{
			{SourceID: "p1", TargetID: "p2", Attrs: valueobjects.NewAttributes(map[string]any{"kind": "feeder", "wire_size": "4/0"})},
			{SourceID: "b1", TargetID: "p1"},
		},
	}

	want := "view layer=\"single-line\"\n" +
		"node breaker b1 layer=\"single-line\" poles=2\n" +
		"node panel p1 kva=112.5 voltage=480\n" +
		"node panel p2 amps=100 name=\"Sub Panel\"\n" +
		"edge b1 -> p1\n" +
		"edge p1 -> p2 kind=feeder wire_size=4/0\n"

	assert.Equal(t, want, Serialize(v))
}

func TestSerialize_Deterministic(t *testing.T) {
	a := aggregates.Node{ID: "a", Type: "t", Attrs: valueobjects.NewAttributes(map[string]any{"tag": "A-1", "x": 1.0})}
	b := aggregates.Node{ID: "b", Type: "t"}
	ab := aggregates.Edge{SourceID: "a", TargetID: "b"}
	ba := aggregates.Edge{SourceID: "b", TargetID: "a"}

	first := Serialize(View{Layer: "l", Nodes: []aggregates.Node{a, b}, Edges: []aggregates.Edge{ab, ba}})
	second := Serialize(View{Layer: "l", Nodes: []aggregates.Node{b, a}, Edges: []aggregates.Edge{ba, ab}})

	assert.Equal(t, first, second)
	assert.Equal(t, first, Serialize(View{Layer: "l", Nodes: []aggregates.Node{a, b}, Edges: []aggregates.Edge{ab, ba}}))
	assert.Contains(t, first, `tag="A-1"`)
}

func TestSerialize_EmptyView(t *testing.T) {
	assert.Equal(t, "view layer=default\n", Serialize(View{}))
}

func TestFormatToken(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", "panel", "panel"},
		{"space", "Sub Panel", `"Sub Panel"`},
		{"hyphen", "p-1", `"p-1"`},
		{"empty", "", `""`},
		{"newline", "a\nnode x y", `"a\nnode x y"`},
		{"equals", "a=b", `"a=b"`},
		{"quote", `say "hi"`, `"say \"hi\""`},
		{"tab", "a\tb", `"a\tb"`},
		{"backslash", `c:\x`, `"c:\\x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatToken(tt.in))
		})
	}
}

func TestSerialize_HostileValuesStayOnOneLine(t *testing.T) {
	v := View{
		Layer: "l",
		Nodes: []aggregates.Node{
			{ID: "n1", Type: "panel", Attrs: valueobjects.NewAttributes(map[string]any{
				"name": "x\nnode fake f1",
				"tag":  "k=v",
				"kind": "",
			})},
		},
	}

	want := "view layer=l\n" +
		`node panel n1 kind="" name="x\nnode fake f1" tag="k=v"` + "\n"
	assert.Equal(t, want, Serialize(v))
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"integral float", 240.0, "240"},
		{"fraction", 0.25, "0.25"},
		{"bool", true, "true"},
		{"string", "cu", "cu"},
		{"nested", map[string]any{"a": 1.0}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatValue(tt.in))
		})
	}
}

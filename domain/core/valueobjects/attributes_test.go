package valueobjects

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAttributes(t *testing.T) {
	tests := []struct {
		name      string
		input     map[string]any
		wantLayer string
		wantKind  string
		wantX     *float64
		extraKeys []string
	}{
		{
			name:      "well-known keys are typed",
			input:     map[string]any{"layer": "single-line", "kind": "feeder", "x": 10.0, "name": "P1"},
			wantLayer: "single-line",
			wantKind:  "feeder",
			wantX:     ptr(10),
			extraKeys: []string{"name"},
		},
		{
			name:      "mistyped well-known key stays in extra",
			input:     map[string]any{"layer": 3.0, "x": "left"},
			extraKeys: []string{"layer", "x"},
		},
		{
			name:      "empty layer and kind stay in extra",
			input:     map[string]any{"layer": "", "kind": ""},
			extraKeys: []string{"layer", "kind"},
		},
		{
			name:  "integers are accepted for coordinates",
			input: map[string]any{"x": 5},
			wantX: ptr(5),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAttributes(tt.input)
			assert.Equal(t, tt.wantLayer, a.Layer)
			assert.Equal(t, tt.wantKind, a.Kind)
			assert.Equal(t, tt.wantX, a.X)
			for _, k := range tt.extraKeys {
				assert.Contains(t, a.Extra, k)
			}
			assert.Len(t, a.Extra, len(tt.extraKeys))
		})
	}
}

func TestAttributes_JSONRoundTrip(t *testing.T) {
	raw := `{"layer":"power","name":"MDP","pos":{"x":1,"y":2},"x":3}`

	var a Attributes
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, "power", a.Layer)
	require.NotNil(t, a.X)
	assert.Equal(t, 3.0, *a.X)

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestAttributes_EmptyStringsRoundTrip(t *testing.T) {
	raw := `{"layer":"","kind":"","name":"n"}`

	var a Attributes
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))

	v, ok := a.Get("layer")
	require.True(t, ok)
	assert.Equal(t, "", v)
	assert.Equal(t, []string{"kind", "layer", "name"}, a.Keys())
}

func TestAttributes_ResolveLayer(t *testing.T) {
	tests := []struct {
		name   string
		attrs  map[string]any
		want   string
		wantOK bool
	}{
		{"set", map[string]any{"layer": "power"}, "power", true},
		{"absent", map[string]any{"name": "n"}, "default", true},
		{"empty string", map[string]any{"layer": ""}, "default", true},
		{"number", map[string]any{"layer": 5}, "", false},
		{"object", map[string]any{"layer": map[string]any{"a": 1.0}}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NewAttributes(tt.attrs).ResolveLayer("default")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttributes_Merge(t *testing.T) {
	base := NewAttributes(map[string]any{"layer": "a", "name": "n", "x": 1.0})

	merged := base.Merge(map[string]any{"layer": nil, "name": "renamed", "amps": 20.0})

	assert.Equal(t, "", merged.Layer)
	v, ok := merged.Get("name")
	require.True(t, ok)
	assert.Equal(t, "renamed", v)
	_, ok = merged.Get("amps")
	assert.True(t, ok)

	// the source is untouched
	assert.Equal(t, "a", base.Layer)
	v, _ = base.Get("name")
	assert.Equal(t, "n", v)
}

func TestAttributes_MergeMovesBetweenTypedAndExtra(t *testing.T) {
	a := NewAttributes(map[string]any{"x": 1.0})

	a = a.Merge(map[string]any{"x": "far"})
	assert.Nil(t, a.X)
	assert.Equal(t, "far", a.Extra["x"])

	a = a.Merge(map[string]any{"x": 2.0})
	require.NotNil(t, a.X)
	assert.NotContains(t, a.Extra, "x")
}

func TestAttributes_HasPosition(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]any
		want  bool
	}{
		{"none", map[string]any{"name": "a"}, false},
		{"x only", map[string]any{"x": 1.0}, false},
		{"x and y", map[string]any{"x": 1.0, "y": 2.0}, true},
		{"pos object", map[string]any{"pos": map[string]any{"x": 1.0, "y": 2.0}}, true},
		{"incomplete pos", map[string]any{"pos": map[string]any{"x": 1.0}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewAttributes(tt.attrs).HasPosition())
		})
	}
}

func TestAttributes_CloneIsDeep(t *testing.T) {
	a := NewAttributes(map[string]any{"pos": map[string]any{"x": 1.0, "y": 1.0}})
	c := a.Clone()

	c.Extra["pos"].(map[string]any)["x"] = 99.0

	assert.Equal(t, 1.0, a.Extra["pos"].(map[string]any)["x"])
	assert.False(t, a.Equal(c))
}

func ptr(f float64) *float64 { return &f }

package valueobjects

import (
	"encoding/json"
	"sort"
)

// Well-known attribute keys
const (
	KeyLayer = "layer"
	KeyKind  = "kind"
	KeyX     = "x"
	KeyY     = "y"
	KeyPos   = "pos"
)

// Attributes is the attribute bag carried by nodes and edges. The keys the
// core understands are typed fields; everything else lives in Extra and is
// opaque. On the wire it is a single flat JSON object.
type Attributes struct {
	Layer string
	Kind  string
	X     *float64
	Y     *float64
	Extra map[string]any
}

// NewAttributes builds Attributes from an open mapping. Well-known keys with
// an unexpected type, and empty layer or kind strings, are kept in Extra
// untouched so they survive a round trip.
func NewAttributes(m map[string]any) Attributes {
	var a Attributes
	for k, v := range m {
		a.set(k, v)
	}
	return a
}

func (a *Attributes) set(key string, value any) {
	switch key {
	case KeyLayer:
		if s, ok := value.(string); ok && s != "" {
			a.Layer = s
			a.deleteExtra(key)
			return
		}
	case KeyKind:
		if s, ok := value.(string); ok && s != "" {
			a.Kind = s
			a.deleteExtra(key)
			return
		}
	case KeyX:
		if f, ok := toFloat(value); ok {
			a.X = &f
			a.deleteExtra(key)
			return
		}
	case KeyY:
		if f, ok := toFloat(value); ok {
			a.Y = &f
			a.deleteExtra(key)
			return
		}
	}
	a.clearTyped(key)
	if a.Extra == nil {
		a.Extra = make(map[string]any)
	}
	a.Extra[key] = cloneValue(value)
}

func (a *Attributes) clearTyped(key string) {
	switch key {
	case KeyLayer:
		a.Layer = ""
	case KeyKind:
		a.Kind = ""
	case KeyX:
		a.X = nil
	case KeyY:
		a.Y = nil
	}
}

func (a *Attributes) deleteExtra(key string) {
	if a.Extra != nil {
		delete(a.Extra, key)
	}
}

func (a *Attributes) remove(key string) {
	a.clearTyped(key)
	a.deleteExtra(key)
}

// Get returns the value stored under key, typed fields included.
func (a Attributes) Get(key string) (any, bool) {
	switch key {
	case KeyLayer:
		if a.Layer != "" {
			return a.Layer, true
		}
	case KeyKind:
		if a.Kind != "" {
			return a.Kind, true
		}
	case KeyX:
		if a.X != nil {
			return *a.X, true
		}
	case KeyY:
		if a.Y != nil {
			return *a.Y, true
		}
	}
	v, ok := a.Extra[key]
	return v, ok
}

// Keys returns every present key in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a.Extra)+4)
	for k := range a.ToMap() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of present keys.
func (a Attributes) Len() int {
	return len(a.ToMap())
}

// IsEmpty reports whether no key is set.
func (a Attributes) IsEmpty() bool {
	return a.Len() == 0
}

// ToMap flattens the attributes into a fresh open mapping.
func (a Attributes) ToMap() map[string]any {
	m := make(map[string]any, len(a.Extra)+4)
	for k, v := range a.Extra {
		m[k] = cloneValue(v)
	}
	if a.Layer != "" {
		m[KeyLayer] = a.Layer
	}
	if a.Kind != "" {
		m[KeyKind] = a.Kind
	}
	if a.X != nil {
		m[KeyX] = *a.X
	}
	if a.Y != nil {
		m[KeyY] = *a.Y
	}
	return m
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	out := Attributes{Layer: a.Layer, Kind: a.Kind}
	if a.X != nil {
		x := *a.X
		out.X = &x
	}
	if a.Y != nil {
		y := *a.Y
		out.Y = &y
	}
	if a.Extra != nil {
		out.Extra = make(map[string]any, len(a.Extra))
		for k, v := range a.Extra {
			out.Extra[k] = cloneValue(v)
		}
	}
	return out
}

// Merge returns a copy with the given keys overwritten. A nil value removes
// the key.
func (a Attributes) Merge(update map[string]any) Attributes {
	out := a.Clone()
	for k, v := range update {
		if v == nil {
			out.remove(k)
			continue
		}
		out.set(k, v)
	}
	return out
}

// HasPosition reports whether explicit coordinates are present, either as
// x/y or as a pos object.
func (a Attributes) HasPosition() bool {
	if a.X != nil && a.Y != nil {
		return true
	}
	pos, ok := a.Extra[KeyPos].(map[string]any)
	if !ok {
		return false
	}
	_, hasX := toFloat(pos[KeyX])
	_, hasY := toFloat(pos[KeyY])
	return hasX && hasY
}

// WithPosition returns a copy carrying the given coordinates.
func (a Attributes) WithPosition(x, y float64) Attributes {
	out := a.Clone()
	out.X = &x
	out.Y = &y
	return out
}

// ResolveLayer returns the layer, or fallback when none is set. An empty
// layer string counts as unset. ok is false when the layer key holds a
// non-string value; such an element belongs to no layer.
func (a Attributes) ResolveLayer(fallback string) (layer string, ok bool) {
	if a.Layer != "" {
		return a.Layer, true
	}
	raw, present := a.Extra[KeyLayer]
	if !present {
		return fallback, true
	}
	if s, isString := raw.(string); isString && s == "" {
		return fallback, true
	}
	return "", false
}

// Equal compares two attribute sets by their flattened form.
func (a Attributes) Equal(other Attributes) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return string(left) == string(right)
}

// MarshalJSON renders the attributes as one flat object.
func (a Attributes) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.ToMap())
}

// UnmarshalJSON accepts any JSON object.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*a = NewAttributes(m)
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// cloneValue deep-copies the container types JSON decoding produces.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// CloneMap deep-copies an open mapping.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return cloneValue(m).(map[string]any)
}

package view

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"designgraph/domain/core/aggregates"
	"designgraph/domain/core/valueobjects"
)

// ExportedAttributes lists the attribute keys rendered by Serialize.
var ExportedAttributes = map[string]struct{}{
	// identification
	"name": {}, "label": {}, "tag": {}, "ref": {}, "kind": {},
	// electrical ratings
	"voltage": {}, "phase": {}, "amps": {}, "rating_a": {}, "kva": {}, "kw": {},
	"poles": {}, "breaker_a": {}, "wire_size": {}, "conductor": {},
	// layer and position
	"layer": {}, "x": {}, "y": {},
}

// Serialize renders v as canonical text. Equal views always produce
// identical output regardless of node or edge order.
func Serialize(v View) string {
	nodes := make([]aggregates.Node, len(v.Nodes))
	copy(nodes, v.Nodes)
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].Type < nodes[j].Type
		}
		return nodes[i].ID < nodes[j].ID
	})

	edges := make([]aggregates.Edge, len(v.Edges))
	copy(edges, v.Edges)
	aggregates.SortEdges(edges)

	var sb strings.Builder
	sb.WriteString("view layer=")
	sb.WriteString(formatToken(NormalizeLayer(v.Layer)))
	sb.WriteByte('\n')

	for _, n := range nodes {
		sb.WriteString("node ")
		sb.WriteString(formatToken(n.Type))
		sb.WriteByte(' ')
		sb.WriteString(formatToken(n.ID))
		writeAttrs(&sb, n.Attrs)
		sb.WriteByte('\n')
	}
	for _, e := range edges {
		sb.WriteString("edge ")
		sb.WriteString(formatToken(e.SourceID))
		sb.WriteString(" -> ")
		sb.WriteString(formatToken(e.TargetID))
		writeAttrs(&sb, e.Attrs)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func writeAttrs(sb *strings.Builder, attrs valueobjects.Attributes) {
	for _, key := range attrs.Keys() {
		if _, ok := ExportedAttributes[key]; !ok {
			continue
		}
		value, _ := attrs.Get(key)
		sb.WriteByte(' ')
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(formatToken(formatValue(value)))
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "null"
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(raw)
	}
}

// quotedChars force a token into quotes: spaces and hyphens, plus anything
// that would break a line or a key=value pair.
const quotedChars = " -\t\r\n=\"\\"

// formatToken quotes empty values and values containing quotedChars.
func formatToken(s string) string {
	if s == "" || strings.ContainsAny(s, quotedChars) {
		return strconv.Quote(s)
	}
	return s
}

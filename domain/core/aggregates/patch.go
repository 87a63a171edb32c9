package aggregates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"designgraph/domain/core/valueobjects"
	"designgraph/domain/events"
	pkgerrors "designgraph/pkg/errors"
)

// OpKind names a patch operation
type OpKind string

const (
	OpAddNode     OpKind = "add_node"
	OpRemoveNode  OpKind = "remove_node"
	OpAddEdge     OpKind = "add_edge"
	OpRemoveEdge  OpKind = "remove_edge"
	OpSetMeta     OpKind = "set_meta"
	OpUpdateAttrs OpKind = "update_attrs"
)

// IsValid reports whether the kind is one the store understands
func (k OpKind) IsValid() bool {
	switch k {
	case OpAddNode, OpRemoveNode, OpAddEdge, OpRemoveEdge, OpSetMeta, OpUpdateAttrs:
		return true
	}
	return false
}

// Operation is one step of a patch. Value holds the kind-specific payload.
type Operation struct {
	OpID  string          `json:"op_id,omitempty"`
	Op    OpKind          `json:"op"`
	Value json.RawMessage `json:"value"`
}

// Patch is an atomic, ordered batch of operations
type Patch struct {
	PatchID    string      `json:"patch_id"`
	Operations []Operation `json:"ops"`
}

// NewPatch creates a patch, generating an id when none is given
func NewPatch(patchID string, ops ...Operation) Patch {
	if patchID == "" {
		patchID = uuid.New().String()
	}
	return Patch{PatchID: patchID, Operations: ops}
}

// Operation payloads

// AddNodeValue is the payload of add_node
type AddNodeValue struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// NodeRef is the payload of remove_node
type NodeRef struct {
	ID string `json:"id"`
}

// AddEdgeValue is the payload of add_edge
type AddEdgeValue struct {
	SourceID string         `json:"source_id"`
	TargetID string         `json:"target_id"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// EdgeRef is the payload of remove_edge
type EdgeRef struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// SetMetaValue is the payload of set_meta. A null value deletes the key.
type SetMetaValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// UpdateAttrsValue is the payload of update_attrs. It targets a node by ID or
// an edge by SourceID/TargetID.
type UpdateAttrsValue struct {
	ID       string         `json:"id,omitempty"`
	SourceID string         `json:"source_id,omitempty"`
	TargetID string         `json:"target_id,omitempty"`
	Attrs    map[string]any `json:"attrs"`
}

func newOp(opID string, kind OpKind, value any) Operation {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("marshal %s payload: %v", kind, err))
	}
	return Operation{OpID: opID, Op: kind, Value: raw}
}

// AddNodeOp builds an add_node operation
func AddNodeOp(opID, id, nodeType string, attrs map[string]any) Operation {
	return newOp(opID, OpAddNode, AddNodeValue{ID: id, Type: nodeType, Attrs: attrs})
}

// RemoveNodeOp builds a remove_node operation
func RemoveNodeOp(opID, id string) Operation {
	return newOp(opID, OpRemoveNode, NodeRef{ID: id})
}

// AddEdgeOp builds an add_edge operation
func AddEdgeOp(opID, source, target string, attrs map[string]any) Operation {
	return newOp(opID, OpAddEdge, AddEdgeValue{SourceID: source, TargetID: target, Attrs: attrs})
}

// RemoveEdgeOp builds a remove_edge operation
func RemoveEdgeOp(opID, source, target string) Operation {
	return newOp(opID, OpRemoveEdge, EdgeRef{SourceID: source, TargetID: target})
}

// SetMetaOp builds a set_meta operation
func SetMetaOp(opID, key string, value any) Operation {
	return newOp(opID, OpSetMeta, SetMetaValue{Key: key, Value: value})
}

// UpdateNodeAttrsOp builds an update_attrs operation on a node
func UpdateNodeAttrsOp(opID, id string, attrs map[string]any) Operation {
	return newOp(opID, OpUpdateAttrs, UpdateAttrsValue{ID: id, Attrs: attrs})
}

// UpdateEdgeAttrsOp builds an update_attrs operation on an edge
func UpdateEdgeAttrsOp(opID, source, target string, attrs map[string]any) Operation {
	return newOp(opID, OpUpdateAttrs, UpdateAttrsValue{SourceID: source, TargetID: target, Attrs: attrs})
}

// Validate checks the patch shape without looking at any graph
func (p Patch) Validate() error {
	if len(p.Operations) == 0 {
		return pkgerrors.NewValidationError("patch must contain at least one operation").
			WithCode(pkgerrors.CodeInvalidPatch)
	}
	for i, op := range p.Operations {
		if !op.Op.IsValid() {
			return pkgerrors.NewPatchValidationError(i, op.OpID, string(op.Op), "unknown operation kind")
		}
	}
	return nil
}

// Apply validates the patch against this graph and returns the resulting
// graph at version+1. The receiver is never modified; on any error nothing
// is applied.
func (g *Graph) Apply(p Patch) (*Graph, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	work := g.Clone()
	edgeOrigin := make(map[EdgeKey]int)

	for i, op := range p.Operations {
		reason := work.applyOperation(op, i, edgeOrigin)
		if reason != "" {
			return nil, pkgerrors.NewPatchValidationError(i, op.OpID, string(op.Op), reason)
		}
	}

	// Edge endpoints must resolve in the final node set.
	for key := range work.edges {
		if work.HasNode(key.Source) && work.HasNode(key.Target) {
			continue
		}
		idx, ok := edgeOrigin[key]
		if !ok {
			idx = len(p.Operations) - 1
		}
		op := p.Operations[idx]
		return nil, pkgerrors.NewPatchValidationError(idx, op.OpID, string(op.Op),
			fmt.Sprintf("edge %s references a missing node", key))
	}

	now := time.Now().UTC()
	work.version = g.version + 1
	work.updatedAt = now
	work.recordApplied(p.PatchID)
	work.addEvent(events.NewPatchApplied(work.sessionID, p.PatchID, work.version,
		len(p.Operations), len(work.nodes), len(work.edges), now))
	return work, nil
}

// applyOperation mutates the working copy and returns a rejection reason, or
// "" on success.
func (g *Graph) applyOperation(op Operation, index int, edgeOrigin map[EdgeKey]int) string {
	switch op.Op {
	case OpAddNode:
		var v AddNodeValue
		if err := decodeValue(op.Value, &v); err != nil {
			return err.Error()
		}
		if v.ID == "" {
			return "id is required"
		}
		if v.Type == "" {
			return "type is required"
		}
		if _, exists := g.nodes[v.ID]; exists {
			return fmt.Sprintf("node %q already exists", v.ID)
		}
		g.nodes[v.ID] = Node{ID: v.ID, Type: v.Type, Attrs: valueobjects.NewAttributes(v.Attrs)}

	case OpRemoveNode:
		var v NodeRef
		if err := decodeValue(op.Value, &v); err != nil {
			return err.Error()
		}
		if v.ID == "" {
			return "id is required"
		}
		if _, exists := g.nodes[v.ID]; !exists {
			return fmt.Sprintf("node %q does not exist", v.ID)
		}
		delete(g.nodes, v.ID)
		for key := range g.edges {
			if key.Source == v.ID || key.Target == v.ID {
				delete(g.edges, key)
				delete(edgeOrigin, key)
			}
		}

	case OpAddEdge:
		var v AddEdgeValue
		if err := decodeValue(op.Value, &v); err != nil {
			return err.Error()
		}
		if v.SourceID == "" || v.TargetID == "" {
			return "source_id and target_id are required"
		}
		key := EdgeKey{Source: v.SourceID, Target: v.TargetID}
		if _, exists := g.edges[key]; exists {
			return fmt.Sprintf("edge %s already exists", key)
		}
		g.edges[key] = Edge{SourceID: v.SourceID, TargetID: v.TargetID, Attrs: valueobjects.NewAttributes(v.Attrs)}
		edgeOrigin[key] = index

	case OpRemoveEdge:
		var v EdgeRef
		if err := decodeValue(op.Value, &v); err != nil {
			return err.Error()
		}
		if v.SourceID == "" || v.TargetID == "" {
			return "source_id and target_id are required"
		}
		key := EdgeKey{Source: v.SourceID, Target: v.TargetID}
		if _, exists := g.edges[key]; !exists {
			return fmt.Sprintf("edge %s does not exist", key)
		}
		delete(g.edges, key)
		delete(edgeOrigin, key)

	case OpSetMeta:
		var v SetMetaValue
		if err := decodeValue(op.Value, &v); err != nil {
			return err.Error()
		}
		if v.Key == "" {
			return "key is required"
		}
		if v.Value == nil {
			delete(g.meta, v.Key)
		} else {
			g.meta[v.Key] = v.Value
		}

	case OpUpdateAttrs:
		var v UpdateAttrsValue
		if err := decodeValue(op.Value, &v); err != nil {
			return err.Error()
		}
		if len(v.Attrs) == 0 {
			return "attrs is required"
		}
		switch {
		case v.ID != "" && (v.SourceID != "" || v.TargetID != ""):
			return "target either a node id or an edge, not both"
		case v.ID != "":
			n, exists := g.nodes[v.ID]
			if !exists {
				return fmt.Sprintf("node %q does not exist", v.ID)
			}
			n.Attrs = n.Attrs.Merge(v.Attrs)
			g.nodes[v.ID] = n
		case v.SourceID != "" && v.TargetID != "":
			key := EdgeKey{Source: v.SourceID, Target: v.TargetID}
			e, exists := g.edges[key]
			if !exists {
				return fmt.Sprintf("edge %s does not exist", key)
			}
			e.Attrs = e.Attrs.Merge(v.Attrs)
			g.edges[key] = e
		default:
			return "id or source_id and target_id are required"
		}

	default:
		return "unknown operation kind"
	}
	return ""
}

func decodeValue(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("value is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("malformed value: %v", err)
	}
	return nil
}

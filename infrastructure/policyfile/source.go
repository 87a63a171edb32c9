// Package policyfile serves tenant policies from a YAML file and reloads it
// when it changes on disk.
package policyfile

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"designgraph/application/ports"
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

// File is the on-disk layout:
//
//	tenants:
//	  - tenant_id: acme
//	    auto_approve_enabled: true
//	    risk_threshold_default: 0.8
//	    action_blacklist: [delete_panel]
type File struct {
	Tenants []policy.Document `yaml:"tenants"`
}

// Parse decodes and validates a policy file
func Parse(data []byte) (map[string]policy.Document, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	docs := make(map[string]policy.Document, len(f.Tenants))
	for i, d := range f.Tenants {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("tenant #%d: %w", i, err)
		}
		if _, dup := docs[d.TenantID]; dup {
			return nil, fmt.Errorf("tenant %q listed twice", d.TenantID)
		}
		docs[d.TenantID] = d.Normalize()
	}
	return docs, nil
}

// Source is a read-only ports.PolicySource backed by a YAML file
type Source struct {
	path string

	mu   sync.RWMutex
	docs map[string]policy.Document
}

// Open reads path once
func Open(path string) (*Source, error) {
	s := &Source{path: path}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

var _ ports.PolicySource = (*Source)(nil)

// Path returns the watched file
func (s *Source) Path() string { return s.path }

// Load returns the tenant's policy or NotFound
func (s *Source) Load(ctx context.Context, tenantID string) (policy.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[tenantID]
	if !ok {
		return policy.Document{}, pkgerrors.NewNotFoundError("policy", tenantID)
	}
	return doc.Clone(), nil
}

// Tenants lists the tenants defined in the file
func (s *Source) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.docs))
	for id := range s.docs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reload re-reads the file and returns the tenants whose policy was added,
// changed or removed. On error the current documents are kept.
func (s *Source) Reload() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	next, err := Parse(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev := s.docs
	s.docs = next
	s.mu.Unlock()

	return diff(prev, next), nil
}

func diff(prev, next map[string]policy.Document) []string {
	var changed []string
	for id, doc := range next {
		old, ok := prev[id]
		if !ok || !reflect.DeepEqual(old, doc) {
			changed = append(changed, id)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

package policyfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	pkgerrors "designgraph/pkg/errors"
)

const initial = `
tenants:
  - tenant_id: acme
    auto_approve_enabled: true
    risk_threshold_default: 0.8
    action_blacklist: [delete_panel, delete_panel, risky_action]
    version: 3
  - tenant_id: globex
    risk_threshold_default: 0.95
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		tenants int
	}{
		{name: "valid", input: initial, tenants: 2},
		{name: "empty", input: "", tenants: 0},
		{name: "bad yaml", input: "tenants: [", wantErr: true},
		{name: "missing tenant id", input: "tenants:\n  - risk_threshold_default: 0.5\n", wantErr: true},
		{name: "threshold out of range", input: "tenants:\n  - tenant_id: a\n    risk_threshold_default: 3\n", wantErr: true},
		{name: "duplicate tenant", input: "tenants:\n  - tenant_id: a\n  - tenant_id: a\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := Parse([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, docs, tt.tenants)
		})
	}
}

func TestSource_LoadAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	writeFile(t, path, initial)

	src, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, src.Tenants())

	doc, err := src.Load(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Version)
	assert.Equal(t, []string{"delete_panel", "risky_action"}, doc.ActionBlacklist)

	_, err = src.Load(context.Background(), "initech")
	assert.True(t, pkgerrors.IsNotFound(err))

	writeFile(t, path, `
tenants:
  - tenant_id: acme
    auto_approve_enabled: true
    risk_threshold_default: 0.8
    action_blacklist: [risky_action, delete_panel]
    version: 3
  - tenant_id: initech
    risk_threshold_default: 0.5
`)
	changed, err := src.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"globex", "initech"}, changed)

	writeFile(t, path, "tenants: [")
	_, err = src.Reload()
	assert.Error(t, err)
	_, err = src.Load(context.Background(), "initech")
	assert.NoError(t, err, "a broken file keeps the previous policies")
}

type recordingInvalidator struct {
	mu      sync.Mutex
	tenants []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = append(r.tenants, tenantID)
	return nil
}

func TestWatcher_InvalidatesChangedTenants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	writeFile(t, path, initial)

	src, err := Open(path)
	require.NoError(t, err)

	inv := &recordingInvalidator{}
	w, err := NewWatcher(src, inv, zap.NewNop())
	require.NoError(t, err)
	reloaded := make(chan []string, 4)
	w.OnReload(func(changed []string) { reloaded <- changed })
	w.Start()
	defer w.Stop()

	writeFile(t, path, `
tenants:
  - tenant_id: acme
    auto_approve_enabled: false
    risk_threshold_default: 0.8
    action_blacklist: [delete_panel, risky_action]
    version: 4
  - tenant_id: globex
    risk_threshold_default: 0.95
`)

	select {
	case changed := <-reloaded:
		assert.Equal(t, []string{"acme"}, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}

	inv.mu.Lock()
	assert.Equal(t, []string{"acme"}, inv.tenants)
	inv.mu.Unlock()

	doc, err := src.Load(context.Background(), "acme")
	require.NoError(t, err)
	assert.False(t, doc.AutoApproveEnabled)
	assert.Equal(t, 4, doc.Version)
}

func TestWatcher_NoReloadAfterStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	writeFile(t, path, initial)

	src, err := Open(path)
	require.NoError(t, err)

	inv := &recordingInvalidator{}
	w, err := NewWatcher(src, inv, zap.NewNop())
	require.NoError(t, err)
	called := false
	w.OnReload(func([]string) { called = true })
	w.Start()
	w.Stop()

	writeFile(t, path, `
tenants:
  - tenant_id: acme
    version: 9
`)
	// a debounce timer that fired just before Stop lands here afterwards
	w.reload()
	w.schedule()

	assert.False(t, called)
	inv.mu.Lock()
	assert.Empty(t, inv.tenants)
	inv.mu.Unlock()

	doc, err := src.Load(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Version, "the stopped watcher kept the old policies")
}

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"designgraph/application/policycache"
	"designgraph/application/services"
	"designgraph/domain/policy"
	"designgraph/infrastructure/cache"
	"designgraph/infrastructure/messaging"
	"designgraph/infrastructure/observability"
	"designgraph/infrastructure/persistence/memory"
	pkgerrors "designgraph/pkg/errors"
)

type testServer struct {
	handler   http.Handler
	collector *observability.Collector
}

func newTestServer(t *testing.T, ready ReadinessCheck) *testServer {
	t.Helper()
	logger := zap.NewNop()
	collector := observability.NewCollector("designgraph")
	pub := messaging.NewLogPublisher(logger)

	store := memory.NewPolicyStore(policy.Document{
		TenantID:             "acme",
		AutoApproveEnabled:   true,
		RiskThresholdDefault: 0.8,
		ActionBlacklist:      []string{"delete_all"},
		Version:              1,
	})
	pc := policycache.New(cache.NewMemoryCache(0, logger), nil, store, policycache.DefaultConfig(), collector, logger)

	graphs := services.NewGraphService(memory.NewGraphRepository(), pub, collector, logger)
	approvals := services.NewApprovalService(memory.NewApprovalRepository(), graphs, pub, collector, logger)
	svcs := Services{
		Graphs:    graphs,
		Views:     services.NewViewService(graphs),
		Approvals: approvals,
		Mutations: services.NewMutationService(pc, graphs, approvals, logger),
		Policies:  services.NewPolicyService(pc, store, pub, collector, logger),
	}

	router := NewRouter(svcs, Options{
		EnableCORS:      true,
		MetricsHandler:  collector.Handler(),
		MetricsRecorder: collector,
		Readiness:       ready,
	}, logger, pkgerrors.NewErrorHandler(logger, false))
	return &testServer{handler: router.Setup(), collector: collector}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const addPanel = `{"patch":{"patch_id":"p1","ops":[{"op":"add_node","value":{"id":"panel-1","type":"panel","attrs":{"layer":"power"}}}]}}`

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", "").Code)

	failing := newTestServer(t, func(context.Context) error { return errors.New("table missing") })
	assert.Equal(t, http.StatusServiceUnavailable, failing.do(t, http.MethodGet, "/ready", "").Code)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/sessions", `{"session_id":"s1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `"1"`, rec.Header().Get("ETag"))
	assert.Equal(t, 1.0, decode(t, rec)["version"])

	rec = s.do(t, http.MethodPost, "/api/v1/sessions", `{"session_id":"s1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/sessions", `{"session_id":"s1","require_fresh":true}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, pkgerrors.CodeSessionExists, decode(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/api/v1/sessions/s1/patches", addPanel, "If-Match", `"1"`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `"2"`, rec.Header().Get("ETag"))
	body := decode(t, rec)
	assert.Equal(t, 2.0, body["version"])
	assert.Equal(t, 1.0, body["node_count"])

	rec = s.do(t, http.MethodGet, "/api/v1/sessions/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["nodes"], 1)

	rec = s.do(t, http.MethodGet, "/api/v1/sessions/s1/view?layer=power", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["nodes"], 1)

	rec = s.do(t, http.MethodGet, "/api/v1/sessions/s1/view/delta?since=2&layer=power", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["changed"])

	rec = s.do(t, http.MethodGet, "/api/v1/sessions/s1/view/delta?since=1&layer=power", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["changed"])

	rec = s.do(t, http.MethodGet, "/api/v1/sessions/s1/view/text?layer=power", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `node panel "panel-1"`)
}

func TestApplyPatch_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/sessions", `{"session_id":"s1"}`).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/sessions/s1/patches", addPanel, "If-Match", "1").Code)

	tests := []struct {
		name       string
		path       string
		body       string
		headers    []string
		wantStatus int
		wantCode   string
	}{
		{"stale version", "/api/v1/sessions/s1/patches", addPanel, []string{"If-Match", "1"}, http.StatusConflict, pkgerrors.CodeVersionConflict},
		{"no version", "/api/v1/sessions/s1/patches", addPanel, nil, http.StatusBadRequest, pkgerrors.CodeInvalidRequest},
		{"bad if-match", "/api/v1/sessions/s1/patches", addPanel, []string{"If-Match", "abc"}, http.StatusBadRequest, pkgerrors.CodeInvalidRequest},
		{"disagreeing versions", "/api/v1/sessions/s1/patches",
			`{"expected_version":1,"patch":{"ops":[{"op":"set_meta","value":{"key":"k","value":1}}]}}`,
			[]string{"If-Match", "2"}, http.StatusBadRequest, pkgerrors.CodeInvalidRequest},
		{"failing operation", "/api/v1/sessions/s1/patches",
			`{"expected_version":2,"patch":{"ops":[{"op":"remove_node","value":{"id":"ghost"}}]}}`,
			nil, http.StatusUnprocessableEntity, pkgerrors.CodeInvalidPatch},
		{"empty patch", "/api/v1/sessions/s1/patches", `{"expected_version":2,"patch":{"ops":[]}}`, nil, http.StatusBadRequest, pkgerrors.CodeInvalidPatch},
		{"unknown session", "/api/v1/sessions/nope/patches", addPanel, []string{"If-Match", "1"}, http.StatusNotFound, ""},
		{"malformed body", "/api/v1/sessions/s1/patches", `{"patch":`, nil, http.StatusBadRequest, pkgerrors.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body, tt.headers...)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decode(t, rec)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, body["code"])
			}
		})
	}

	rec := s.do(t, http.MethodPost, "/api/v1/sessions/s1/patches", addPanel, "If-Match", "1")
	details := decode(t, rec)["details"].(map[string]interface{})
	assert.Equal(t, 2.0, details["current_version"])
}

func TestMutationAndApprovalFlow(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/sessions", `{"session_id":"s1"}`).Code)

	rec := s.do(t, http.MethodPost, "/api/v1/sessions/s1/mutations",
		`{"tenant_id":"acme","action_type":"add_panel","confidence":0.95,`+addPanel[1:])
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["applied"])
	assert.Equal(t, "threshold", body["decision"].(map[string]interface{})["reason"])

	rec = s.do(t, http.MethodPost, "/api/v1/sessions/s1/mutations",
		`{"tenant_id":"acme","action_type":"delete_all","confidence":0.99,"approval_id":"a1","patch":{"ops":[{"op":"remove_node","value":{"id":"panel-1"}}]}}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, false, body["applied"])
	assert.Equal(t, "pending", body["approval"].(map[string]interface{})["status"])

	rec = s.do(t, http.MethodGet, "/api/v1/sessions/s1/approvals?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["count"])

	rec = s.do(t, http.MethodPost, "/api/v1/approvals/a1/decision", `{"decision":"maybe","approver":"kim"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/approvals/a1/decision", `{"decision":"approve","approver":"kim"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.Equal(t, "approved", body["status"])
	assert.Equal(t, 3.0, body["applied_version"])
	assert.Equal(t, `"3"`, rec.Header().Get("ETag"))

	rec = s.do(t, http.MethodPost, "/api/v1/approvals/a1/decision", `{"decision":"reject","approver":"kim"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.ErrorTypeInvalidState), decode(t, rec)["code"])

	rec = s.do(t, http.MethodGet, "/api/v1/approvals/a1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "kim", decode(t, rec)["decided_by"])
}

func TestProposeApproval(t *testing.T) {
	s := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/sessions", `{"session_id":"s1"}`).Code)

	rec := s.do(t, http.MethodPost, "/api/v1/approvals", `{"session_id":"s1","confidence":0.4,`+addPanel[1:])
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode(t, rec)["approval_id"].(string)
	assert.NotEmpty(t, id)

	rec = s.do(t, http.MethodPost, "/api/v1/approvals", `{"session_id":"s1","confidence":1.5,`+addPanel[1:])
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/decision", `{"decision":"reject","approver":"kim"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rejected", decode(t, rec)["status"])
}

func TestPolicyEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/tenants/acme/policy?action_type=delete_all&confidence=0.99", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "source", body["tier"])
	assert.Equal(t, "blacklist", body["decision"].(map[string]interface{})["reason"])

	rec = s.do(t, http.MethodGet, "/api/v1/tenants/acme/policy", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "local", decode(t, rec)["tier"])

	rec = s.do(t, http.MethodGet, "/api/v1/tenants/acme/policy?action_type=x&confidence=2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/tenants/acme/policy",
		`{"auto_approve_enabled":false,"risk_threshold_default":0.9,"version":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2.0, decode(t, rec)["version"])

	rec = s.do(t, http.MethodPut, "/api/v1/tenants/acme/policy", `{"risk_threshold_default":0.9,"version":1}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/tenants/acme/policy", "")
	body = decode(t, rec)
	assert.Equal(t, "source", body["tier"])
	assert.Equal(t, false, body["policy"].(map[string]interface{})["auto_approve_enabled"])

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/api/v1/tenants/acme/policy/invalidate", "").Code)
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodPost, "/api/v1/policy-cache/invalidate", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/sessions", `{"session_id":"s1"}`)
	s.do(t, http.MethodGet, "/api/v1/sessions/s1", "")

	rec := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `route="/api/v1/sessions/{sessionID}`)
	assert.Contains(t, out, "designgraph_http_requests_total")
}

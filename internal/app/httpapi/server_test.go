package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/relaymesh/grelay/internal/app/manager"
	"github.com/relaymesh/grelay/internal/app/persist"
	"github.com/relaymesh/grelay/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	p := persist.NewSelfManaged(filepath.Join(dir, "instances.json"), persist.FormatJSON, config.DefaultConfig())
	netdef := config.NetworkConfig{TCPTimeoutMs: 1000, AssociateTimeoutMs: 2000, TCPKeepaliveS: 10}
	mgr := manager.New(p, netdef, nil, nil)
	return NewServer(mgr, nil)
}

func doRequest(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler("").ServeHTTP(rec, req)
	return rec
}

func TestCreateAndGetInstance(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/instances", CreateInstanceRequest{
		ID: "web",
		EndpointConf: config.EndpointConf{
			Listen: "127.0.0.1:0",
			Remote: "127.0.0.1:1",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created InstanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != "stopped" {
		t.Fatalf("expected stopped status, got %s", created.Status)
	}

	rec = doRequest(s, http.MethodGet, "/instances/web", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateDuplicateIDUpserts(t *testing.T) {
	s := newTestServer(t)
	conf := CreateInstanceRequest{
		ID:           "dup",
		EndpointConf: config.EndpointConf{Listen: "127.0.0.1:0", Remote: "127.0.0.1:1"},
	}
	if rec := doRequest(s, http.MethodPost, "/instances", conf); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 on first create, got %d", rec.Code)
	}

	conf.Remote = "127.0.0.1:2"
	rec := doRequest(s, http.MethodPost, "/instances", conf)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 upsert, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated InstanceResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Config.Remote != "127.0.0.1:2" {
		t.Fatalf("expected upserted remote, got %s", updated.Config.Remote)
	}
}

func TestGetUnknownInstanceReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/instances/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %s", body.Error.Code)
	}
}

func TestStartStopLifecycleAndConflicts(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/instances", CreateInstanceRequest{
		ID:           "lc",
		EndpointConf: config.EndpointConf{Listen: "127.0.0.1:0", Remote: "127.0.0.1:1"},
	})

	if rec := doRequest(s, http.MethodPost, "/instances/lc/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on start, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doRequest(s, http.MethodPost, "/instances/lc/start", nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double start, got %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodPost, "/instances/lc/stop", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on stop, got %d", rec.Code)
	}
	if rec := doRequest(s, http.MethodPost, "/instances/lc/stop", nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double stop, got %d", rec.Code)
	}
}

func TestConnectionsQueryValidation(t *testing.T) {
	s := newTestServer(t)
	doRequest(s, http.MethodPost, "/instances", CreateInstanceRequest{
		ID:           "conns",
		EndpointConf: config.EndpointConf{Listen: "127.0.0.1:0", Remote: "127.0.0.1:1"},
	})

	rec := doRequest(s, http.MethodGet, "/instances/conns/connections?protocol=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad protocol, got %d", rec.Code)
	}

	rec = doRequest(s, http.MethodGet, "/instances/conns/connections", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var page ConnectionsPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("expected empty page for a never-started instance, got %d", page.Total)
	}
}

func TestAuthMiddlewareRejectsMissingKey(t *testing.T) {
	dir := t.TempDir()
	p := persist.NewSelfManaged(filepath.Join(dir, "instances.json"), persist.FormatJSON, config.DefaultConfig())
	mgr := manager.New(p, config.NetworkConfig{}, nil, nil)
	s := NewServer(mgr, nil)

	req := httptest.NewRequest(http.MethodGet, "/instances", nil)
	rec := httptest.NewRecorder()
	s.Handler("secret").ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

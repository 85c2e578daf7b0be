package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/tripsitter/tripsitter/internal/engine"
	"github.com/tripsitter/tripsitter/internal/manager"
)

func testManager(t *testing.T) *manager.Manager {
	t.Helper()
	dir := t.TempDir()
	jar := filepath.Join(dir, "engine.jar")
	if err := os.WriteFile(jar, []byte("jar"), 0o600); err != nil {
		t.Fatalf("write jar: %v", err)
	}
	return manager.New(manager.Config{
		Engine:          engine.Spec{Name: "test", JarPath: jar, GraphDir: dir},
		SkipFetch:       true,
		DisableKillHook: true,
	})
}

func TestStatusEndpoint(t *testing.T) {
	h := NewRouter(testManager(t), "/api").Handler()
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code %d", resp.StatusCode)
	}
	var st manager.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.State != manager.StateIdle {
		t.Fatalf("want idle, got %s", st.State)
	}
}

func TestHealthzNotRunning(t *testing.T) {
	h := NewRouter(testManager(t), "").Handler()
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("want 503 while idle, got %d", resp.StatusCode)
	}
}

func TestStopEndpoint(t *testing.T) {
	h := NewRouter(testManager(t), "/api").Handler()
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/stop", "application/json", nil)
	if err != nil {
		t.Fatalf("post stop: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code %d", resp.StatusCode)
	}
	var ok okResp
	if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil || !ok.OK {
		t.Fatalf("unexpected body: ok=%v err=%v", ok.OK, err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(testManager(t), "/api").Handler()
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code %d", resp.StatusCode)
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"api":   "/api",
		"/api":  "/api",
		"/api/": "/api",
		" /v1 ": "/v1",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	h := NewRouter(testManager(t), "/api").Handler()
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404, got %d", resp.StatusCode)
	}
}

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/repoctl/internal/registry"
	"github.com/danmuck/repoctl/internal/repository"
	"github.com/danmuck/repoctl/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

func TestAdminClientsReflectRegistry(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	writeRepoFile(t, dir, "notes.txt", []byte("hello"))
	srv := startServer(t, dir, 3)

	c := dialRaw(t, srv.addr)
	c.handshake(t, "alice")

	router := srv.svc.AdminRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clients", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("clients status %d", rec.Code)
	}
	var clients struct {
		Clients []registry.ClientRecord `json:"clients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &clients); err != nil {
		t.Fatalf("decode clients: %v", err)
	}
	if len(clients.Clients) != 1 || clients.Clients[0].Name != "alice" || !clients.Clients[0].Connected() {
		t.Fatalf("unexpected clients %+v", clients.Clients)
	}
	if strings.Contains(rec.Body.String(), "finished_at") {
		t.Fatalf("connected client must not carry finished_at: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))
	var files struct {
		Files []repository.Entry `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil {
		t.Fatalf("decode files: %v", err)
	}
	if len(files.Files) != 1 || files.Files[0].Name != "notes.txt" || files.Files[0].Size != 5 {
		t.Fatalf("unexpected files %+v", files.Files)
	}
}

func TestAdminHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	cfg := DefaultServiceConfig()
	cfg.RepoDir = filepath.Join(t.TempDir(), "repo")
	svc, err := NewServiceWithConfig(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	router := svc.AdminRouter()

	for _, path := range []string{"/health", "/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "repoctl_http_requests_total") {
		t.Fatalf("admin request metrics missing from scrape")
	}
}

func TestAdminReadyReportsPendingHandshakes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	srv := startServer(t, t.TempDir(), 1)

	// Connects but never sends a name.
	dialRaw(t, srv.addr)
	if !waitForCondition(2*time.Second, 10*time.Millisecond, func() bool {
		return srv.svc.Registry().Pending() == 1
	}) {
		t.Fatalf("handshake never reserved a slot")
	}

	busy := dialRaw(t, srv.addr)
	if got := busy.recv(t); got != BusyMessage {
		t.Fatalf("expected busy frame, got %q", got)
	}

	rec := httptest.NewRecorder()
	srv.svc.AdminRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	var ready struct {
		Active     int `json:"active"`
		Pending    int `json:"pending"`
		MaxClients int `json:"max_clients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ready); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	if ready.Active != 1 || ready.Pending != 1 || ready.MaxClients != 1 {
		t.Fatalf("unexpected ready body %s", rec.Body.String())
	}
	if len(srv.svc.Registry().Snapshot()) != 0 {
		t.Fatalf("pending handshake must not have a record yet")
	}
}

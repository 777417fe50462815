package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/repoctl/internal/server"
	"github.com/danmuck/repoctl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServerConfigOverlaysDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
addr = "127.0.0.1:6060"
max_clients = 8
admin_listen_addr = "127.0.0.1:7070"
cors_origins = ["http://example.test"]
read_timeout = "30s"
max_payload_bytes = 1048576
`)
	cfg, err := LoadServerConfig(path, server.DefaultServiceConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:6060" {
		t.Fatalf("unexpected listen addr: %q", cfg.ListenAddr)
	}
	if cfg.MaxClients != 8 {
		t.Fatalf("unexpected max clients: %d", cfg.MaxClients)
	}
	if cfg.RepoDir != "repo" {
		t.Fatalf("undefined repo_dir should keep default, got %q", cfg.RepoDir)
	}
	if cfg.AdminListenAddr != "127.0.0.1:7070" {
		t.Fatalf("unexpected admin addr: %q", cfg.AdminListenAddr)
	}
	if len(cfg.CorsOrigins) != 1 || cfg.CorsOrigins[0] != "http://example.test" {
		t.Fatalf("unexpected cors origins: %v", cfg.CorsOrigins)
	}
	if cfg.ReadTimeout != 30*time.Second || cfg.WriteTimeout != 0 {
		t.Fatalf("unexpected timeouts: read=%s write=%s", cfg.ReadTimeout, cfg.WriteTimeout)
	}
	if cfg.Limits.MaxPayloadBytes != 1048576 {
		t.Fatalf("unexpected payload limit: %d", cfg.Limits.MaxPayloadBytes)
	}
}

func TestLoadServerConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	for _, content := range []string{
		`max_clients = 0`,
		`read_timeout = "soon"`,
		`write_timeout = "-1s"`,
		`max_clinets = 4`,
	} {
		if _, err := LoadServerConfig(writeConfig(t, content), server.DefaultServiceConfig()); err == nil {
			t.Fatalf("expected error for %q", content)
		}
	}
}

func TestServerTemplateLoads(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := WriteTemplate(path, "server", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadServerConfig(path, server.DefaultServiceConfig())
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.ListenAddr != ":5050" || cfg.MaxClients != 3 || cfg.ReadTimeout != 0 {
		t.Fatalf("template drifted from defaults: %+v", cfg)
	}
	if err := WriteTemplate(path, "server", false); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}
}

func TestLoadClientConfigAndOptions(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
addr = "10.0.0.5:5050"
name = "alice"
dial_timeout = "2s"
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DownloadDir != "downloads" {
		t.Fatalf("unexpected download dir default: %q", cfg.DownloadDir)
	}

	opts := ClientOptions(cfg)
	if opts.Address != "10.0.0.5:5050" || opts.Name != "alice" || opts.DialTimeout != 2*time.Second {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.Limits.MaxPayloadBytes == 0 {
		t.Fatalf("limits not defaulted")
	}
}

func TestValidateClientConfig(t *testing.T) {
	testlog.Start(t)
	for _, cfg := range []ClientConfig{
		{},
		{Addr: ":5050"},
		{Addr: "127.0.0.1:5050", DialTimeout: "later"},
	} {
		if err := ValidateClientConfig(cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
	path := filepath.Join(t.TempDir(), "client.toml")
	if err := WriteTemplate(path, "client", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if _, err := LoadClientConfig(path); err != nil {
		t.Fatalf("client template invalid: %v", err)
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

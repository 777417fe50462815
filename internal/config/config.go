package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/repoctl/internal/server"
	gotoml "github.com/pelletier/go-toml/v2"
)

// ClientConfig is the repocli config.toml.
type ClientConfig struct {
	Addr            string `toml:"addr"`
	Name            string `toml:"name"`
	DownloadDir     string `toml:"download_dir"`
	DialTimeout     string `toml:"dial_timeout"`
	MaxPayloadBytes uint64 `toml:"max_payload_bytes"`
}

// serverFile is the repoctl config.toml key mapping.
type serverFile struct {
	Addr            string   `toml:"addr"`
	RepoDir         string   `toml:"repo_dir"`
	MaxClients      int      `toml:"max_clients"`
	AdminListenAddr string   `toml:"admin_listen_addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	ReadTimeout     string   `toml:"read_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	MaxPayloadBytes uint64   `toml:"max_payload_bytes"`
}

func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:5050"
	}
	if strings.TrimSpace(cfg.DownloadDir) == "" {
		cfg.DownloadDir = "downloads"
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := gotoml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("client config missing addr")
	}
	if strings.HasPrefix(strings.TrimSpace(cfg.Addr), ":") {
		return fmt.Errorf("client config addr needs a host: %q", cfg.Addr)
	}
	if _, err := parseDuration("dial_timeout", cfg.DialTimeout); err != nil {
		return err
	}
	return nil
}

// LoadServerConfig overlays the keys present in path onto base. Keys absent
// from the file keep the base value.
func LoadServerConfig(path string, base server.ServiceConfig) (server.ServiceConfig, error) {
	cfg := base

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load server config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return server.ServiceConfig{}, fmt.Errorf("load server config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("repo_dir") {
		cfg.RepoDir = strings.TrimSpace(raw.RepoDir)
	}
	if meta.IsDefined("max_clients") {
		cfg.MaxClients = raw.MaxClients
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("read_timeout") {
		if cfg.ReadTimeout, err = parseDuration("read_timeout", raw.ReadTimeout); err != nil {
			return server.ServiceConfig{}, err
		}
	}
	if meta.IsDefined("write_timeout") {
		if cfg.WriteTimeout, err = parseDuration("write_timeout", raw.WriteTimeout); err != nil {
			return server.ServiceConfig{}, err
		}
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}

	if err := cfg.WithDefaults().Validate(); err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load server config: %w", err)
	}
	return cfg, nil
}

// parseDuration treats an empty value as zero.
func parseDuration(key, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

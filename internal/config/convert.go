package config

import (
	"github.com/danmuck/repoctl/internal/client"
	"github.com/danmuck/repoctl/internal/protocol/frame"
)

// ClientOptions maps a validated ClientConfig onto the dialer settings.
func ClientOptions(cfg ClientConfig) client.Config {
	out := client.DefaultConfig()
	out.Address = cfg.Addr
	out.Name = cfg.Name
	out.DownloadDir = cfg.DownloadDir
	if d, err := parseDuration("dial_timeout", cfg.DialTimeout); err == nil && d > 0 {
		out.DialTimeout = d
	}
	out.Limits = frame.Limits{MaxPayloadBytes: cfg.MaxPayloadBytes}.WithDefaults()
	return out.WithDefaults()
}

package main

import (
	"github.com/danmuck/repoctl/internal/config"
	"github.com/danmuck/repoctl/internal/server"
	"github.com/spf13/pflag"
)

type options struct {
	configPath string
	addr       string
	repoDir    string
	maxClients int
	adminAddr  string
	version    bool
}

func newFlagSet(opts *options) *pflag.FlagSet {
	def := server.DefaultServiceConfig()
	fs := pflag.NewFlagSet("repoctl", pflag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&opts.addr, "addr", def.ListenAddr, "TCP listen address")
	fs.StringVar(&opts.repoDir, "repo", def.RepoDir, "directory served to clients")
	fs.IntVar(&opts.maxClients, "max-clients", def.MaxClients, "maximum simultaneously connected clients")
	fs.StringVar(&opts.adminAddr, "admin-addr", def.AdminListenAddr, "admin HTTP listen address (empty disables)")
	fs.BoolVar(&opts.version, "version", false, "print the version and exit")
	return fs
}

// resolveConfig layers defaults, then the config file, then flags the user
// set explicitly.
func resolveConfig(opts options, fs *pflag.FlagSet) (server.ServiceConfig, error) {
	cfg := server.DefaultServiceConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadServerConfig(opts.configPath, cfg)
		if err != nil {
			return server.ServiceConfig{}, err
		}
		cfg = loaded
	}

	if fs.Changed("addr") {
		cfg.ListenAddr = opts.addr
	}
	if fs.Changed("repo") {
		cfg.RepoDir = opts.repoDir
	}
	if fs.Changed("max-clients") {
		cfg.MaxClients = opts.maxClients
	}
	if fs.Changed("admin-addr") {
		cfg.AdminListenAddr = opts.adminAddr
	}
	return cfg, cfg.WithDefaults().Validate()
}

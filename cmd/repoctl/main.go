package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/repoctl/internal/observability"
	"github.com/danmuck/repoctl/internal/server"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "repoctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	fs := newFlagSet(&opts)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.version {
		fmt.Println("repoctl", server.Version)
		return nil
	}

	cfg, err := resolveConfig(opts, fs)
	if err != nil {
		return err
	}

	logger := observability.InitLogger("repoctl")
	if opts.configPath != "" {
		logger.Info().Str("path", opts.configPath).Msg("loaded server config")
	}
	svc, err := server.NewServiceWithConfig(cfg)
	if err != nil {
		return err
	}
	return svc.Run()
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/repoctl/internal/config"
	"github.com/danmuck/repoctl/internal/server"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := fs.String("kind", "server", "config kind: server|client")
	output := fs.String("output", "", "output path for config template")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	defaultPath, err := defaultConfigPath(*kind)
	if err != nil {
		return err
	}

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		if err := validateConfig(*kind, path); err != nil {
			return err
		}
		fmt.Printf("Validated %s config at %s\n", *kind, path)
		return nil
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		return err
	}
	fmt.Printf("Wrote %s config template to %s\n", *kind, target)
	return nil
}

func defaultConfigPath(kind string) (string, error) {
	switch kind {
	case "server":
		return "cmd/repoctl/config.toml", nil
	case "client":
		return "cmd/repocli/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

func validateConfig(kind, path string) error {
	switch kind {
	case "server":
		_, err := config.LoadServerConfig(path, server.DefaultServiceConfig())
		return err
	case "client":
		_, err := config.LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown kind: %s", kind)
	}
}

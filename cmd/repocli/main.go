package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/repoctl/internal/client"
	"github.com/danmuck/repoctl/internal/config"
	"github.com/danmuck/repoctl/internal/logging"
	"github.com/spf13/pflag"
)

const prompt = "Enter message (list | status | get <file> | <filename> | exit): "

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "repocli: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var configPath, addr, name, downloads string
	fs := pflag.NewFlagSet("repocli", pflag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&addr, "addr", "", "server address host:port")
	fs.StringVar(&name, "name", "", "display name sent to the server")
	fs.StringVar(&downloads, "downloads", "", "directory for received files")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg := client.DefaultConfig()
	fileName := ""
	if configPath != "" {
		fileCfg, err := config.LoadClientConfig(configPath)
		if err != nil {
			return err
		}
		cfg = config.ClientOptions(fileCfg)
		fileName = strings.TrimSpace(fileCfg.Name)
	}
	if fs.Changed("addr") {
		cfg.Address = addr
	}
	if fs.Changed("name") {
		cfg.Name = name
	}
	if fs.Changed("downloads") {
		cfg.DownloadDir = downloads
	}

	logging.ConfigureCLI()
	in := bufio.NewScanner(stdin)
	if !fs.Changed("name") && fileName == "" {
		fmt.Fprint(stdout, "Enter your name: ")
		if in.Scan() {
			cfg.Name = strings.TrimSpace(in.Text())
		}
	}

	c, err := client.Dial(context.Background(), cfg)
	var busy *client.BusyError
	if errors.As(err, &busy) {
		if busy.Message == "" {
			fmt.Fprintln(stdout, "Client list full")
		} else {
			fmt.Fprintln(stdout, busy.Message)
		}
		return nil
	}
	if err != nil {
		return err
	}
	defer c.Close()
	fmt.Fprintln(stdout, c.Welcome())

	return repl(c, in, stdout)
}

func repl(c *client.Client, in *bufio.Scanner, stdout io.Writer) error {
	for {
		fmt.Fprint(stdout, prompt)
		if !in.Scan() {
			return in.Err()
		}
		msg := strings.TrimSpace(in.Text())
		if msg == "" {
			continue
		}

		reply, err := c.Do(msg)
		switch {
		case errors.Is(err, client.ErrConnectionClosed):
			fmt.Fprintln(stdout, "Connection closed by server.")
			return nil
		case errors.Is(err, client.ErrMalformedFileHeader):
			fmt.Fprintln(stdout, "Malformed FILE header from server.")
			continue
		case err != nil:
			return err
		}

		if t := reply.Transfer; t != nil {
			fmt.Fprintf(stdout, "Received '%s' (%d of %d bytes)\n", t.Name, t.Received, t.Declared)
			if t.Truncated() {
				fmt.Fprintln(stdout, "Transfer ended early; the saved file is incomplete.")
			}
			fmt.Fprintf(stdout, "Saved to %s\n", t.Path)
			continue
		}
		fmt.Fprintln(stdout, reply.Text)

		if client.IsExitCommand(msg) {
			return nil
		}
	}
}

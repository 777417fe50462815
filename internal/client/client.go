// Package client speaks the repository protocol from the downloading side:
// name handshake, one reply per command, and reassembly of chunked files.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/repoctl/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrServerBusy          = errors.New("client: server busy")
	ErrConnectionClosed    = errors.New("client: connection closed by server")
	ErrMalformedFileHeader = errors.New("client: malformed FILE header")
)

const fileReplyPrefix = "FILE "

// BusyError carries the server's refusal text, if it sent one.
type BusyError struct {
	Message string
}

func (e *BusyError) Error() string {
	if e.Message == "" {
		return ErrServerBusy.Error()
	}
	return ErrServerBusy.Error() + ": " + e.Message
}

func (e *BusyError) Unwrap() error {
	return ErrServerBusy
}

type Config struct {
	Address     string
	Name        string
	DownloadDir string
	DialTimeout time.Duration
	Limits      frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Address:     "127.0.0.1:5050",
		Name:        "anonymous",
		DownloadDir: "downloads",
		DialTimeout: 5 * time.Second,
		Limits:      frame.DefaultLimits(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Address) == "" {
		c.Address = def.Address
	}
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if strings.TrimSpace(c.DownloadDir) == "" {
		c.DownloadDir = def.DownloadDir
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}

// Transfer describes one file received in reply to a download command.
type Transfer struct {
	Name     string
	Declared int64
	Received int64
	Path     string
}

func (t Transfer) Truncated() bool {
	return t.Received < t.Declared
}

// Reply is the server's answer to one command. Transfer is set only when the
// reply announced a file.
type Reply struct {
	Text     string
	Transfer *Transfer
}

type Client struct {
	cfg     Config
	conn    net.Conn
	reader  *bufio.Reader
	welcome string
	logger  zerolog.Logger
}

// Dial connects, introduces the client by name and waits for the welcome.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", cfg.Address, err)
	}
	c := &Client{
		cfg:    cfg,
		conn:   conn,
		reader: bufio.NewReader(conn),
		logger: log.Logger.With().Str("component", "client").Str("addr", cfg.Address).Logger(),
	}

	// Any failure before the welcome reads as busy.
	if err := frame.WriteString(conn, cfg.Name); err != nil {
		_ = conn.Close()
		c.logger.Debug().Err(err).Msg("name not delivered")
		return nil, &BusyError{}
	}
	fr, err := frame.ReadFrame(c.reader, cfg.Limits)
	if err != nil || len(fr.Payload) == 0 {
		_ = conn.Close()
		return nil, &BusyError{}
	}
	welcome := fr.Text()
	if isBusyMessage(welcome) {
		_ = conn.Close()
		return nil, &BusyError{Message: welcome}
	}
	c.welcome = welcome
	c.logger.Debug().Str("name", cfg.Name).Msg("connected")
	return c, nil
}

func isBusyMessage(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "server busy") || strings.Contains(lower, "client list full")
}

func (c *Client) Welcome() string {
	return c.welcome
}

// Do sends one command and reads its reply, receiving the file body when the
// reply announces one.
func (c *Client) Do(cmd string) (Reply, error) {
	if err := frame.WriteString(c.conn, cmd); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	fr, err := frame.ReadFrame(c.reader, c.cfg.Limits)
	if err != nil || len(fr.Payload) == 0 {
		return Reply{}, ErrConnectionClosed
	}
	text := fr.Text()
	if !strings.HasPrefix(text, fileReplyPrefix) {
		return Reply{Text: text}, nil
	}

	name, size, err := ParseFileHeader(text)
	if err != nil {
		return Reply{Text: text}, err
	}
	transfer, err := c.receive(name, size)
	return Reply{Text: text, Transfer: transfer}, err
}

func (c *Client) receive(name string, size int64) (*Transfer, error) {
	local := filepath.Base(name)
	if local == "." || local == ".." || local == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: unusable file name %q", ErrMalformedFileHeader, name)
	}
	if err := os.MkdirAll(c.cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("client: create download dir: %w", err)
	}
	path := filepath.Join(c.cfg.DownloadDir, local)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("client: create %s: %w", path, err)
	}

	received, rerr := ReceiveFile(c.reader, f, size, c.cfg.Limits)
	cerr := f.Close()
	t := &Transfer{Name: name, Declared: size, Received: received, Path: path}
	if rerr != nil {
		return t, rerr
	}
	if cerr != nil {
		return t, fmt.Errorf("client: close %s: %w", path, cerr)
	}
	c.logger.Debug().
		Str("file", name).
		Int64("declared", size).
		Int64("received", received).
		Bool("truncated", t.Truncated()).
		Msg("file received")
	return t, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// ParseFileHeader splits "FILE <name> <size>". The name is everything between
// the prefix and the last space, so names containing spaces survive.
func ParseFileHeader(text string) (string, int64, error) {
	if !strings.HasPrefix(text, fileReplyPrefix) {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedFileHeader, text)
	}
	rest := text[len(fileReplyPrefix):]
	i := strings.LastIndexByte(rest, ' ')
	if i <= 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedFileHeader, text)
	}
	name := rest[:i]
	size, err := strconv.ParseInt(strings.TrimSpace(rest[i+1:]), 10, 64)
	if err != nil || size < 0 || strings.TrimSpace(name) == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedFileHeader, text)
	}
	return name, size, nil
}

// ReceiveFile copies chunk frames from r into w until size bytes arrived or a
// chunk comes back empty. A short total is reported through the count, not
// as an error; only local write failures and unexpected read errors return
// one.
func ReceiveFile(r io.Reader, w io.Writer, size int64, limits frame.Limits) (int64, error) {
	var saved int64
	for saved < size {
		fr, err := frame.ReadFrame(r, limits)
		if err != nil {
			if errors.Is(err, frame.ErrPeerClosed) ||
				errors.Is(err, frame.ErrMalformedHeader) ||
				errors.Is(err, frame.ErrPayloadTooLarge) {
				return saved, nil
			}
			return saved, err
		}
		if len(fr.Payload) == 0 {
			return saved, nil
		}
		n, err := w.Write(fr.Payload)
		saved += int64(n)
		if err != nil {
			return saved, fmt.Errorf("client: write chunk: %w", err)
		}
		if fr.Truncated() {
			return saved, nil
		}
	}
	return saved, nil
}

// IsExitCommand reports whether cmd ends the session.
func IsExitCommand(cmd string) bool {
	return strings.EqualFold(strings.TrimSpace(cmd), "exit")
}

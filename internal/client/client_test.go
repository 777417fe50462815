package client

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/repoctl/internal/protocol/frame"
	"github.com/danmuck/repoctl/internal/testutil/testlog"
)

// fakeServer accepts one connection and hands it to fn.
func fakeServer(t *testing.T, fn func(conn net.Conn, r *bufio.Reader)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn, bufio.NewReader(conn))
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})
	return ln.Addr().String()
}

func mustRead(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	fr, err := frame.ReadFrame(r, frame.DefaultLimits())
	if err != nil {
		t.Errorf("server read: %v", err)
		return ""
	}
	return fr.Text()
}

func testConfig(t *testing.T, addr string) Config {
	return Config{
		Address:     addr,
		Name:        "alice",
		DownloadDir: filepath.Join(t.TempDir(), "downloads"),
		DialTimeout: time.Second,
	}
}

func TestParseFileHeader(t *testing.T) {
	testlog.Start(t)
	name, size, err := ParseFileHeader("FILE notes.txt 5")
	if err != nil || name != "notes.txt" || size != 5 {
		t.Fatalf("unexpected parse: %q %d %v", name, size, err)
	}
	name, size, err = ParseFileHeader("FILE my notes.txt 12")
	if err != nil || name != "my notes.txt" || size != 12 {
		t.Fatalf("name with spaces: %q %d %v", name, size, err)
	}
	for _, bad := range []string{
		"FILE notes.txt",
		"FILE  5",
		"FILE notes.txt -1",
		"FILE notes.txt five",
		"FILES notes.txt 5",
		"notes.txt 5",
	} {
		if _, _, err := ParseFileHeader(bad); !errors.Is(err, ErrMalformedFileHeader) {
			t.Fatalf("%q: expected ErrMalformedFileHeader, got %v", bad, err)
		}
	}
}

func TestReceiveFileReassemblesChunks(t *testing.T) {
	testlog.Start(t)
	body := bytes.Repeat([]byte("0123456789abcdef"), 700) // 11200 bytes, three chunks
	var wire bytes.Buffer
	for off := 0; off < len(body); off += frame.ChunkSize {
		end := min(off+frame.ChunkSize, len(body))
		if err := frame.WriteFrame(&wire, body[off:end]); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
	}
	// A following reply must stay unread.
	if err := frame.WriteString(&wire, "next"); err != nil {
		t.Fatalf("write trailer: %v", err)
	}

	var out bytes.Buffer
	r := bufio.NewReader(&wire)
	n, err := ReceiveFile(r, &out, int64(len(body)), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if n != int64(len(body)) || !bytes.Equal(out.Bytes(), body) {
		t.Fatalf("reassembly mismatch: got %d bytes", n)
	}
	fr, err := frame.ReadFrame(r, frame.DefaultLimits())
	if err != nil || fr.Text() != "next" {
		t.Fatalf("trailer consumed: %q %v", fr.Text(), err)
	}
}

func TestReceiveFileStopsWhenStreamEndsEarly(t *testing.T) {
	testlog.Start(t)
	var wire bytes.Buffer
	if err := frame.WriteString(&wire, "abcd"); err != nil {
		t.Fatalf("write chunk: %v", err)
	}
	var out bytes.Buffer
	n, err := ReceiveFile(&wire, &out, 10, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if n != 4 || out.String() != "abcd" {
		t.Fatalf("unexpected partial: n=%d out=%q", n, out.String())
	}
	tr := Transfer{Declared: 10, Received: n}
	if !tr.Truncated() {
		t.Fatalf("expected truncated transfer")
	}
}

func TestDialServerBusy(t *testing.T) {
	testlog.Start(t)
	addr := fakeServer(t, func(conn net.Conn, r *bufio.Reader) {
		_ = mustRead(t, r)
		_ = frame.WriteString(conn, "Server busy: max clients reached. Try again later.")
	})
	_, err := Dial(context.Background(), testConfig(t, addr))
	if !errors.Is(err, ErrServerBusy) {
		t.Fatalf("expected ErrServerBusy, got %v", err)
	}
	if !strings.Contains(err.Error(), "max clients reached") {
		t.Fatalf("busy message not surfaced: %v", err)
	}
}

func TestDialClosedWithoutWelcome(t *testing.T) {
	testlog.Start(t)
	addr := fakeServer(t, func(conn net.Conn, r *bufio.Reader) {
		_ = mustRead(t, r)
	})
	if _, err := Dial(context.Background(), testConfig(t, addr)); !errors.Is(err, ErrServerBusy) {
		t.Fatalf("expected ErrServerBusy, got %v", err)
	}
}

func TestDoEchoFileAndClose(t *testing.T) {
	testlog.Start(t)
	addr := fakeServer(t, func(conn net.Conn, r *bufio.Reader) {
		if name := mustRead(t, r); name != "alice" {
			t.Errorf("unexpected name %q", name)
		}
		_ = frame.WriteString(conn, "Welcome alice! You are client01.")
		if cmd := mustRead(t, r); cmd != "foo bar" {
			t.Errorf("unexpected command %q", cmd)
		}
		_ = frame.WriteString(conn, "foo bar ACK")
		if cmd := mustRead(t, r); cmd != "get my notes.txt" {
			t.Errorf("unexpected command %q", cmd)
		}
		_ = frame.WriteString(conn, "FILE my notes.txt 5")
		_ = frame.WriteString(conn, "hello")
		_ = mustRead(t, r)
	})

	cfg := testConfig(t, addr)
	c, err := Dial(context.Background(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if !strings.HasPrefix(c.Welcome(), "Welcome alice!") {
		t.Fatalf("unexpected welcome %q", c.Welcome())
	}

	reply, err := c.Do("foo bar")
	if err != nil || reply.Text != "foo bar ACK" || reply.Transfer != nil {
		t.Fatalf("unexpected echo reply: %+v %v", reply, err)
	}

	reply, err = c.Do("get my notes.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	tr := reply.Transfer
	if tr == nil || tr.Name != "my notes.txt" || tr.Declared != 5 || tr.Received != 5 || tr.Truncated() {
		t.Fatalf("unexpected transfer %+v", tr)
	}
	if tr.Path != filepath.Join(cfg.DownloadDir, "my notes.txt") {
		t.Fatalf("unexpected path %q", tr.Path)
	}
	body, err := os.ReadFile(tr.Path)
	if err != nil || string(body) != "hello" {
		t.Fatalf("saved file: %q %v", body, err)
	}

	if _, err := c.Do("status"); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestIsExitCommand(t *testing.T) {
	testlog.Start(t)
	for _, cmd := range []string{"exit", "EXIT", " Exit "} {
		if !IsExitCommand(cmd) {
			t.Fatalf("%q should exit", cmd)
		}
	}
	if IsExitCommand("exits") {
		t.Fatalf("exits should not exit")
	}
}

package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/danmuck/repoctl/internal/observability"
	"github.com/danmuck/repoctl/internal/protocol/frame"
	"github.com/danmuck/repoctl/internal/registry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// session drives one client through INIT -> DISPATCH -> TERMINATED.
type session struct {
	svc    *Service
	conn   net.Conn
	reader *bufio.Reader
	res    registry.Reservation
	logger zerolog.Logger

	record   registry.ClientRecord
	admitted bool
}

func newSession(svc *Service, conn net.Conn, res registry.Reservation) *session {
	return &session{
		svc:    svc,
		conn:   conn,
		reader: bufio.NewReader(conn),
		res:    res,
		logger: svc.logger.With().
			Str("session", uuid.NewString()).
			Uint64("client_id", res.ID).
			Str("remote", res.Addr).
			Logger(),
	}
}

func (s *session) run() {
	defer s.terminate()

	name := s.readName()
	rec, err := s.svc.registry.Admit(s.res, name)
	if err != nil {
		s.logger.Error().Err(err).Msg("admission failed")
		return
	}
	s.record = rec
	s.admitted = true
	s.logger.Info().Str("name", rec.Name).Msg("client connected")

	if err := s.sendText(welcomeMessage(rec)); err != nil {
		s.logReadEnd(err, "welcome not delivered")
		return
	}
	s.dispatchLoop()
}

// terminate runs on every exit path, including a panic in dispatch.
func (s *session) terminate() {
	if r := recover(); r != nil {
		s.logger.Error().
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("session panic recovered")
	}
	if s.admitted {
		s.svc.registry.MarkDisconnected(s.record.ID)
	} else {
		s.svc.registry.Release(s.res)
	}
	_ = s.conn.Close()
	observability.SetActiveClients(s.svc.registry.Active())
	s.logger.Info().Msg("client disconnected")
}

// readName falls back to clientNN when the first frame is missing or blank.
func (s *session) readName() string {
	fr, err := s.receive()
	if err != nil {
		s.logReadEnd(err, "name frame not received")
		return defaultName(s.res.ID)
	}
	if fr.Truncated() || !utf8.Valid(fr.Payload) {
		return defaultName(s.res.ID)
	}
	name := strings.TrimSpace(fr.Text())
	if name == "" {
		return defaultName(s.res.ID)
	}
	return name
}

func (s *session) dispatchLoop() {
	for {
		fr, err := s.receive()
		if err != nil {
			s.logReadEnd(err, "session read ended")
			return
		}
		if reason := unusableFrame(fr); reason != "" {
			s.logger.Debug().Str("reason", reason).Msg("session ended by frame")
			return
		}

		done, err := s.dispatch(fr.Text())
		if err != nil {
			s.logReadEnd(err, "session write failed")
			return
		}
		if done {
			return
		}
	}
}

// unusableFrame reports why a frame counts as the peer going away: an empty
// body, a body cut short, or text that does not decode.
func unusableFrame(fr frame.Frame) string {
	switch {
	case fr.Truncated():
		return "truncated"
	case len(fr.Payload) == 0:
		return "empty"
	case !utf8.Valid(fr.Payload):
		return "invalid utf-8"
	}
	return ""
}

func (s *session) receive() (frame.Frame, error) {
	if d := s.svc.cfg.ReadTimeout; d > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(d))
	}
	return frame.ReadFrame(s.reader, s.svc.cfg.Limits)
}

func (s *session) send(payload []byte) error {
	if d := s.svc.cfg.WriteTimeout; d > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(d))
	}
	return frame.WriteFrame(s.conn, payload)
}

func (s *session) sendText(text string) error {
	return s.send([]byte(text))
}

func (s *session) logReadEnd(err error, msg string) {
	var event *zerolog.Event
	switch {
	case errors.Is(err, frame.ErrPeerClosed), isExpectedClose(err):
		event = s.logger.Debug()
	case errors.Is(err, os.ErrDeadlineExceeded):
		event = s.logger.Warn().Str("reason", "timeout")
	default:
		event = s.logger.Warn()
	}
	event.Err(err).Msg(msg)
}

func welcomeMessage(rec registry.ClientRecord) string {
	return fmt.Sprintf(
		"Welcome %s! You are %s. Commands: list | status | get <file> | <filename> | exit",
		rec.Name,
		defaultName(rec.ID),
	)
}

func defaultName(id uint64) string {
	return fmt.Sprintf("client%02d", id)
}

// isExpectedClose reports EOF, a closed connection, a broken pipe or a reset.
func isExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

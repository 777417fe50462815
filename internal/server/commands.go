package server

import (
	"strings"

	"github.com/danmuck/repoctl/internal/observability"
)

type commandKind string

const (
	cmdExit   commandKind = "exit"
	cmdStatus commandKind = "status"
	cmdList   commandKind = "list"
	cmdGet    commandKind = "get"
	cmdEcho   commandKind = "echo"
)

type command struct {
	kind commandKind
	arg  string
}

const emptyRepoMessage = "(repo is empty)"

// parseCommand classifies one decoded frame. isRepoFile decides whether a bare
// word names a downloadable file.
func parseCommand(msg string, isRepoFile func(string) bool) command {
	cmd := strings.TrimSpace(msg)
	switch {
	case strings.EqualFold(cmd, "exit"), strings.EqualFold(cmd, DisconnectToken):
		return command{kind: cmdExit}
	case strings.EqualFold(cmd, "status"):
		return command{kind: cmdStatus}
	case strings.EqualFold(cmd, "list"):
		return command{kind: cmdList}
	}

	// cmd is trimmed, so the first field is also its prefix.
	if fields := strings.Fields(cmd); len(fields) > 1 && strings.EqualFold(fields[0], "get") {
		return command{kind: cmdGet, arg: strings.TrimSpace(cmd[len(fields[0]):])}
	}
	if cmd != "" && isRepoFile != nil && isRepoFile(cmd) {
		return command{kind: cmdGet, arg: cmd}
	}
	return command{kind: cmdEcho, arg: msg}
}

// dispatch runs one command. done is true once the session should end; err
// is a write failure on the connection.
func (s *session) dispatch(msg string) (done bool, err error) {
	cmd := parseCommand(msg, s.svc.repo.Contains)
	observability.RecordCommand(string(cmd.kind))
	s.logger.Debug().Str("command", string(cmd.kind)).Msg("dispatch")

	switch cmd.kind {
	case cmdExit:
		return true, s.sendText("Goodbye ACK")
	case cmdStatus:
		return false, s.sendText(renderStatus(s.svc.registry.Snapshot()))
	case cmdList:
		return false, s.sendText(s.listing())
	case cmdGet:
		return false, s.sendFile(cmd.arg)
	default:
		return false, s.sendText(cmd.arg + " ACK")
	}
}

func (s *session) listing() string {
	names, err := s.svc.repo.List()
	if err != nil {
		s.logger.Warn().Err(err).Msg("repository listing failed")
	}
	if len(names) == 0 {
		return emptyRepoMessage
	}
	return strings.Join(names, "\n")
}

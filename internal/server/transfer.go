package server

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/repoctl/internal/observability"
	"github.com/danmuck/repoctl/internal/protocol/frame"
)

var errSourceRead = errors.New("server: file read failed")

// sendFile answers a download request. A missing file is reported in-band and
// the session continues; only a failed write is returned.
func (s *session) sendFile(name string) error {
	f, err := s.svc.repo.Open(name)
	if err != nil {
		observability.RecordTransfer(observability.TransferNotFound, 0)
		s.logger.Debug().Err(err).Str("file", name).Msg("file not found")
		return s.sendText(fmt.Sprintf("ERROR: file '%s' not found", name))
	}
	defer f.Close()

	if err := s.sendText(fmt.Sprintf("FILE %s %d", f.Name, f.Size)); err != nil {
		observability.RecordTransfer(observability.TransferAborted, 0)
		return err
	}

	sent, err := s.streamChunks(io.LimitReader(f, f.Size))
	switch {
	case errors.Is(err, errSourceRead):
		observability.RecordTransfer(observability.TransferTruncated, sent)
		s.logger.Warn().Err(err).Str("file", f.Name).Int64("sent", sent).Msg("transfer stopped early")
		return nil
	case err != nil:
		observability.RecordTransfer(observability.TransferAborted, sent)
		return err
	case sent < f.Size:
		observability.RecordTransfer(observability.TransferTruncated, sent)
		s.logger.Warn().Str("file", f.Name).Int64("sent", sent).Int64("declared", f.Size).Msg("file shrank during transfer")
		return nil
	}
	observability.RecordTransfer(observability.TransferComplete, sent)
	s.logger.Info().Str("file", f.Name).Int64("bytes", sent).Msg("file sent")
	return nil
}

// streamChunks writes src as frames of at most ChunkSize bytes.
func (s *session) streamChunks(src io.Reader) (int64, error) {
	buf := make([]byte, frame.ChunkSize)
	var sent int64
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if werr := s.send(buf[:n]); werr != nil {
				return sent, werr
			}
			sent += int64(n)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return sent, nil
		default:
			return sent, fmt.Errorf("%w: %v", errSourceRead, err)
		}
	}
}

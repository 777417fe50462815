package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/repoctl/internal/observability"
	"github.com/danmuck/repoctl/internal/protocol/frame"
	"github.com/danmuck/repoctl/internal/registry"
	"github.com/danmuck/repoctl/internal/repository"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	Version = "0.1.0"

	BusyMessage     = "Server busy: max clients reached. Try again later."
	DisconnectToken = "EXIT"
)

var ErrInvalidConfig = errors.New("server: invalid config")

// ServiceConfig configures the file repository server.
type ServiceConfig struct {
	ListenAddr      string
	RepoDir         string
	MaxClients      int
	AdminListenAddr string
	CorsOrigins     []string
	// Zero timeouts block forever, matching the wire protocol's behavior.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Limits       frame.Limits
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:      ":5050",
		RepoDir:         "repo",
		MaxClients:      3,
		AdminListenAddr: "",
		ReadTimeout:     0,
		WriteTimeout:    0,
		Limits:          frame.DefaultLimits(),
	}
}

func (c ServiceConfig) WithDefaults() ServiceConfig {
	def := DefaultServiceConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(c.RepoDir) == "" {
		c.RepoDir = def.RepoDir
	}
	c.Limits = c.Limits.WithDefaults()
	return c
}

func (c ServiceConfig) Validate() error {
	if c.MaxClients <= 0 {
		return fmt.Errorf("%w: max_clients must be positive, got %d", ErrInvalidConfig, c.MaxClients)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	if c.Limits.MaxPayloadBytes > 0 && c.Limits.MaxPayloadBytes < frame.ChunkSize {
		return fmt.Errorf("%w: max_payload_bytes below chunk size %d", ErrInvalidConfig, frame.ChunkSize)
	}
	return nil
}

// Service owns the accept loop, the client registry and the repository view.
type Service struct {
	cfg      ServiceConfig
	registry *registry.Registry
	repo     *repository.Repository
	logger   zerolog.Logger
	started  time.Time

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewService() (*Service, error) {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) (*Service, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg, err := registry.New(cfg.MaxClients)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	observability.RegisterMetrics()
	return &Service{
		cfg:      cfg,
		registry: reg,
		repo:     repository.New(cfg.RepoDir),
		logger:   log.Logger.With().Str("component", "server").Logger(),
		started:  time.Now(),
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (s *Service) Registry() *registry.Registry {
	return s.registry
}

func (s *Service) Repository() *repository.Repository {
	return s.repo
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext creates the repository directory, listens, starts the admin
// endpoint when configured and serves until ctx is done.
func (s *Service) RunContext(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(s.repo.Root(), 0o755); err != nil {
		return fmt.Errorf("server: create repo dir: %w", err)
	}
	go s.watchRepository(ctx)
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("repo", s.repo.Root()).
		Int("max_clients", s.cfg.MaxClients).
		Msg("listening")

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		go func() {
			adminErr <- s.serveAdmin(ctx, addr)
		}()
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			cancel()
			<-serveErr
			return err
		}
		return <-serveErr
	}
}

// watchRepository keeps the repository_files gauge current. Commands never
// read from it.
func (s *Service) watchRepository(ctx context.Context) {
	if entries, err := s.repo.Entries(); err == nil {
		observability.SetRepositoryFiles(len(entries))
	}
	err := s.repo.Watch(ctx, func(entries []repository.Entry) {
		observability.SetRepositoryFiles(len(entries))
		s.logger.Debug().Int("files", len(entries)).Msg("repository changed")
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("repository watch stopped")
	}
}

// Serve runs the accept loop on ln. Admission is decided here, before any
// handler goroutine exists; rejected connections get the busy frame and are
// closed.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.closeAllConns()
			_ = ln.Close()
		case <-done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				if ctx.Err() != nil {
					s.wg.Wait()
				}
				return nil
			}
			return err
		}
		s.accept(conn)
	}
}

func (s *Service) accept(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	res, err := s.registry.Reserve(remote)
	if err != nil {
		observability.RecordConnection(observability.OutcomeRejected)
		s.logger.Warn().
			Str("remote", remote).
			Int("max_clients", s.registry.Cap()).
			Msg("client rejected")
		s.reject(conn)
		return
	}
	if !s.trackConn(conn) {
		s.registry.Release(res)
		_ = conn.Close()
		return
	}
	observability.RecordConnection(observability.OutcomeAdmitted)
	observability.SetActiveClients(s.registry.Active())

	s.wg.Add(1)
	go s.handleConn(conn, res)
}

func (s *Service) reject(conn net.Conn) {
	defer conn.Close()
	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	if err := frame.WriteString(conn, BusyMessage); err != nil {
		s.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("busy message not delivered")
	}
}

func (s *Service) handleConn(conn net.Conn, res registry.Reservation) {
	defer s.wg.Done()
	defer s.untrackConn(conn)
	newSession(s, conn, res).run()
}

// trackConn reports false once shutdown has started.
func (s *Service) trackConn(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}

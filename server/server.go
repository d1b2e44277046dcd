package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrServerClosed is returned by Serve and ListenAndServe after a call to
// Shutdown.
var ErrServerClosed = errors.New("ftp: server closed")

// Server is the FTP server.
//
// It accepts control connections, assigns each one a slot in a fixed-size
// connection table and runs the session in its own goroutine. Commands on a
// connection are processed strictly one at a time; a new command line is not
// read until the previous reply has been written.
//
// Basic example:
//
//	fs, _ := server.NewOSFileSystem("/srv/ftp")
//	s, err := server.NewServer(":21", server.WithFileSystem(fs, "/"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	addr string

	fs      FileSystem
	rootDir string

	auth       Authorizer
	unknownCmd UnknownCommandHandler
	logger     *slog.Logger
	metrics    MetricsCollector

	welcomeMessage string
	systemType     string

	maxIdleTime  time.Duration
	writeTimeout time.Duration

	// dataPort, when non-zero, is bound as the local source port for
	// active-mode data connections.
	dataPort int

	// publicHost overrides the address advertised in PASV replies, for
	// servers behind NAT.
	publicHost string

	bandwidthLimit int64

	ports *portAllocator
	slots *connTable

	mu         sync.Mutex
	listener   net.Listener
	sessions   map[*session]struct{}
	sessionWG  sync.WaitGroup
	inShutdown atomic.Bool
}

// NewServer creates a new FTP server listening on addr ("host:port").
// A filesystem must be provided via WithFileSystem.
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:           addr,
		logger:         slog.Default(),
		welcomeMessage: "Service ready for new user",
		systemType:     "UNIX Type: L8",
		maxIdleTime:    5 * time.Minute,
		ports:          newPortAllocator(defaultPasvMinPort, defaultPasvMaxPort),
		slots:          newConnTable(defaultMaxConnections, 0),
		sessions:       make(map[*session]struct{}),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.fs == nil {
		return nil, fmt.Errorf("filesystem is required (use WithFileSystem option)")
	}

	return s, nil
}

// ListenAndServe starts the server on the configured address and blocks
// until the listener fails or the server is shut down.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("ftp server listening", "addr", s.addr)
	return s.Serve(ln)
}

// Serve accepts control connections on l until the listener is closed or
// Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		go s.handleConnection(conn)
	}
}

// Shutdown closes the listener and every live session, then waits for the
// session goroutines to drain or the context to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	for sess := range s.sessions {
		sess.conn.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.sessionWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConnection allocates a connection slot and runs the session. When
// the table is full the connection is rejected with a 421 before the
// greeting, mirroring the accept-then-reject behaviour clients expect.
func (s *Server) handleConnection(conn net.Conn) {
	remoteIP := remoteIPOf(conn)

	if s.inShutdown.Load() {
		conn.Close()
		return
	}

	slot, reason := s.slots.acquire(remoteIP)
	if slot < 0 {
		s.logger.Warn("connection_rejected",
			"remote_ip", remoteIP,
			"reason", reason,
		)
		if s.metrics != nil {
			s.metrics.RecordConnection(false, reason)
		}
		if reason == rejectPerIPLimit {
			fmt.Fprintf(conn, "421 Too many connections from your IP address\r\n")
		} else {
			fmt.Fprintf(conn, "421 Too many users, sorry\r\n")
		}
		conn.Close()
		return
	}
	defer s.slots.release(slot, remoteIP)

	if s.metrics != nil {
		s.metrics.RecordConnection(true, "accepted")
	}

	sess := newSession(s, conn, slot)

	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.sessionWG.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
		s.sessionWG.Done()
	}()

	sess.serve()
}

func remoteIPOf(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return ip
}

// defaultMaxConnections is the slot-table capacity when WithMaxConnections
// is not given.
const defaultMaxConnections = 32

// Rejection reasons reported to the logger and metrics collector.
const (
	rejectTableFull  = "connection_table_full"
	rejectPerIPLimit = "per_ip_limit_reached"
)

// connTable is a fixed-capacity arena of connection slots. A session keeps
// its slot index for its whole lifetime, which gives logs a stable, small
// identifier and makes the "server full" condition explicit instead of an
// unbounded goroutine pile-up.
type connTable struct {
	mu         sync.Mutex
	used       []bool
	byIP       map[string]int
	perIPLimit int
}

func newConnTable(capacity, perIPLimit int) *connTable {
	return &connTable{
		used:       make([]bool, capacity),
		byIP:       make(map[string]int),
		perIPLimit: perIPLimit,
	}
}

// acquire claims the lowest free slot for ip. It returns -1 and a reason
// when the table (or the per-IP allowance) is exhausted.
func (t *connTable) acquire(ip string) (int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.perIPLimit > 0 && t.byIP[ip] >= t.perIPLimit {
		return -1, rejectPerIPLimit
	}

	for i, used := range t.used {
		if !used {
			t.used[i] = true
			t.byIP[ip]++
			return i, ""
		}
	}
	return -1, rejectTableFull
}

func (t *connTable) release(slot int, ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.used[slot] = false
	t.byIP[ip]--
	if t.byIP[ip] <= 0 {
		delete(t.byIP, ip)
	}
}

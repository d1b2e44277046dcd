package server

import (
	"fmt"
	"log/slog"
	"path"
	"time"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithFileSystem sets the storage backend and the subtree of it clients are
// confined to. Clients see that subtree as "/"; pass "/" to serve the whole
// backend. This option is required.
//
// Example:
//
//	fs, _ := server.NewOSFileSystem("/srv/ftp")
//	s, _ := server.NewServer(":21", server.WithFileSystem(fs, "/"))
func WithFileSystem(fs FileSystem, root string) Option {
	return func(s *Server) error {
		if s.fs != nil {
			return fmt.Errorf("filesystem already set")
		}
		if fs == nil {
			return fmt.Errorf("filesystem must not be nil")
		}
		s.fs = fs
		s.rootDir = path.Clean("/" + root)
		return nil
	}
}

// WithAuthorizer sets the login and permission hooks. Without it any user
// name is accepted without a password and every path grants full access.
func WithAuthorizer(a Authorizer) Option {
	return func(s *Server) error {
		s.auth = a
		return nil
	}
}

// WithUnknownCommandHandler installs a hook consulted for verbs the server
// does not implement itself. Unhandled verbs still get the default
// "500 Command not recognized".
func WithUnknownCommandHandler(h UnknownCommandHandler) Option {
	return func(s *Server) error {
		s.unknownCmd = h
		return nil
	}
}

// WithLogger sets a custom logger. If not specified, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics sets an optional metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Server) error {
		s.metrics = m
		return nil
	}
}

// WithWelcomeMessage sets the text of the 220 greeting.
func WithWelcomeMessage(msg string) Option {
	return func(s *Server) error {
		s.welcomeMessage = msg
		return nil
	}
}

// WithMaxConnections sets the capacity of the connection slot table and an
// optional per-IP allowance (0 disables the per-IP check). Connections that
// find no free slot are rejected with a 421 reply.
func WithMaxConnections(total, perIP int) Option {
	return func(s *Server) error {
		if total <= 0 {
			return fmt.Errorf("max connections must be positive")
		}
		s.slots = newConnTable(total, perIP)
		return nil
	}
}

// WithMaxIdleTime sets how long a control connection may sit without a
// command before it is closed. Defaults to 5 minutes.
func WithMaxIdleTime(d time.Duration) Option {
	return func(s *Server) error {
		s.maxIdleTime = d
		return nil
	}
}

// WithWriteTimeout bounds each reply write on the control connection. Zero,
// the default, disables the deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.writeTimeout = d
		return nil
	}
}

// WithPassivePortRange sets the port range used for passive-mode data
// listeners. Defaults to [48128, 49151].
func WithPassivePortRange(min, max int) Option {
	return func(s *Server) error {
		if min < 1 || max > 65535 || max < min {
			return fmt.Errorf("invalid passive port range [%d, %d]", min, max)
		}
		s.ports = newPortAllocator(min, max)
		return nil
	}
}

// WithPublicHost sets the IPv4 address advertised in PASV replies. Required
// when the server sits behind NAT; without it the control connection's local
// address is used.
func WithPublicHost(host string) Option {
	return func(s *Server) error {
		s.publicHost = host
		return nil
	}
}

// WithDataPort sets the local source port bound when dialing active-mode
// data connections (the classic ftp-data port 20 convention). Zero, the
// default, lets the kernel pick an ephemeral port.
func WithDataPort(port int) Option {
	return func(s *Server) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid data port %d", port)
		}
		s.dataPort = port
		return nil
	}
}

// WithBandwidthLimit caps the byte rate of each data connection.
// Zero disables throttling.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Server) error {
		s.bandwidthLimit = bytesPerSecond
		return nil
	}
}

// Command ftpd runs an FTP server over a local directory.
//
// Usage:
//
//	ftpd -addr :2121 -root /srv/ftp -user alice:s3cret:lrw -user bob:pw:lr
//	ftpd -addr :2121 -root /srv/ftp -anonymous
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/microftp/microftp/auth"
	"github.com/microftp/microftp/server"
)

type userList []string

func (u *userList) String() string { return strings.Join(*u, ",") }

func (u *userList) Set(v string) error {
	*u = append(*u, v)
	return nil
}

func main() {
	var (
		addr        = flag.String("addr", ":2121", "listen address")
		root        = flag.String("root", ".", "directory to serve")
		pasvMin     = flag.Int("pasv-min", 48128, "lowest passive-mode port")
		pasvMax     = flag.Int("pasv-max", 49151, "highest passive-mode port")
		publicHost  = flag.String("public-host", "", "IPv4 address advertised in PASV replies (for NAT)")
		maxConns    = flag.Int("max-connections", 64, "connection table size")
		maxPerIP    = flag.Int("max-per-ip", 0, "per-IP connection limit (0 = unlimited)")
		idleTimeout = flag.Duration("idle-timeout", 5*time.Minute, "control connection idle timeout")
		bandwidth   = flag.Int64("bandwidth", 0, "per-transfer byte rate limit (0 = unlimited)")
		anonymous   = flag.Bool("anonymous", false, "allow anonymous read-only access")
		debug       = flag.Bool("debug", false, "enable debug logging")
		users       userList
	)
	flag.Var(&users, "user", "account as name:password:perms (perms from l, r, w); repeatable")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*addr, *root, *pasvMin, *pasvMax, *publicHost, *maxConns,
		*maxPerIP, *idleTimeout, *bandwidth, *anonymous, users, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(addr, root string, pasvMin, pasvMax int, publicHost string,
	maxConns, maxPerIP int, idleTimeout time.Duration, bandwidth int64,
	anonymous bool, users userList, logger *slog.Logger) error {

	fs, err := server.NewOSFileSystem(root)
	if err != nil {
		return err
	}
	defer fs.Close()

	store := auth.NewStore()
	if anonymous {
		store.AllowAnonymous(server.PermList | server.PermRead)
	}
	for _, spec := range users {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("invalid -user %q, want name:password:perms", spec)
		}
		perms, err := auth.ParsePerms(parts[2])
		if err != nil {
			return fmt.Errorf("invalid -user %q: %w", spec, err)
		}
		if err := store.Add(parts[0], parts[1], perms); err != nil {
			return err
		}
	}

	opts := []server.Option{
		server.WithFileSystem(fs, "/"),
		server.WithLogger(logger),
		server.WithPassivePortRange(pasvMin, pasvMax),
		server.WithMaxConnections(maxConns, maxPerIP),
		server.WithMaxIdleTime(idleTimeout),
		server.WithBandwidthLimit(bandwidth),
	}
	if anonymous || len(users) > 0 {
		opts = append(opts, server.WithAuthorizer(store))
	}
	if publicHost != "" {
		opts = append(opts, server.WithPublicHost(publicHost))
	}

	srv, err := server.NewServer(addr, opts...)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

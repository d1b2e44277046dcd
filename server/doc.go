// Package server implements an FTP server (RFC 959 with the RFC 2428
// extended address commands EPRT and EPSV).
//
// # Overview
//
// The server handles the control-connection command grammar, active and
// passive data connections, and path resolution confined to a per-session
// home directory. Storage, authentication and permissions are injected
// through small interfaces, so the same engine can serve the local
// filesystem, an in-memory tree in tests, or anything else.
//
// # Basic Usage
//
//	fs, err := server.NewOSFileSystem("/srv/ftp")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s, err := server.NewServer(":21",
//	    server.WithFileSystem(fs, "/"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
//
// Without an Authorizer any user name logs in without a password and has
// full access. Production deployments should install one:
//
//	s, err := server.NewServer(":21",
//	    server.WithFileSystem(fs, "/"),
//	    server.WithAuthorizer(store),
//	    server.WithPassivePortRange(48128, 49151),
//	    server.WithMaxConnections(64, 4),
//	)
//
// # Concurrency
//
// Each control connection runs in its own goroutine. Within a connection,
// commands are strictly sequential: a transfer finishes (or is aborted)
// before the next command line is read. Collaborator interfaces are called
// from session goroutines and must be safe for concurrent use across
// sessions.
package server

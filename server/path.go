package server

import (
	"errors"
	"path"
	"strings"
)

// errInvalidPath is returned when a client-supplied path resolves outside
// the session's home directory.
var errInvalidPath = errors.New("path escapes home directory")

// resolvePath maps a client-supplied name to a canonical absolute path.
//
// Relative names are joined onto the current directory; absolute names are
// joined onto the home directory, so "/" always means the top of the user's
// tree, never the top of the host filesystem. The result is cleaned (".",
// "..", duplicate and trailing separators removed) before the containment
// check, otherwise ".." segments could defeat it.
//
// The canonical result must still lie under home; anything else fails with
// errInvalidPath before the filesystem is consulted. The comparison is
// segment-aware so that a sibling like home+"stead" does not pass as a
// prefix match.
func resolvePath(home, cur, name string) (string, error) {
	var p string
	if strings.HasPrefix(name, "/") {
		p = path.Join(home, name)
	} else {
		p = path.Join(cur, name)
	}
	p = path.Clean(p)

	if !containedIn(home, p) {
		return "", errInvalidPath
	}
	return p, nil
}

// containedIn reports whether p equals home or lies beneath it.
func containedIn(home, p string) bool {
	if home == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == home || strings.HasPrefix(p, home+"/")
}

// virtualPath returns p relative to home for presentation to the client
// (PWD, MKD replies). The home directory itself is "/".
func virtualPath(home, p string) string {
	if home == "/" {
		return p
	}
	v := strings.TrimPrefix(p, home)
	if v == "" {
		return "/"
	}
	return v
}

// perms looks up the access bits for a resolved path, stripping the server
// root so the Authorizer sees root-relative names. Without an Authorizer
// everything is permitted.
func (s *session) perms(p string) Perm {
	if s.server.auth == nil {
		return PermAll
	}
	return s.server.auth.FilePermissions(s.user, virtualPath(s.server.rootDir, p))
}

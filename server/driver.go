package server

import (
	"io"
	"os"
)

// Access is the result of a user or password check.
type Access int

const (
	// AccessDenied rejects the login attempt.
	AccessDenied Access = iota
	// AccessAllowed accepts the user without further verification.
	AccessAllowed
	// AccessPasswordRequired accepts the user name but requires a PASS
	// command before the session is considered logged in.
	AccessPasswordRequired
)

// Perm is a bitset of per-path access rights.
type Perm uint8

const (
	// PermList allows directory listings and SIZE queries.
	PermList Perm = 1 << iota
	// PermRead allows downloads and directory changes.
	PermRead
	// PermWrite allows uploads, deletes, renames and directory creation.
	PermWrite

	// PermAll grants every right. It is the default when no Authorizer
	// is configured.
	PermAll = PermList | PermRead | PermWrite
)

// Has reports whether p contains every bit of q.
func (p Perm) Has(q Perm) bool { return p&q == q }

// Authorizer decides who may log in and what they may touch.
//
// All methods are called synchronously from the session goroutine; they must
// be safe for concurrent use across sessions.
//
// FilePermissions receives paths relative to the server root (always starting
// with "/"), so implementations never see the on-disk location of the tree.
type Authorizer interface {
	// CheckUser is invoked for the USER command. Returning
	// AccessPasswordRequired makes the server ask for a PASS command.
	CheckUser(user string) Access

	// CheckPassword is invoked for the PASS command following a USER that
	// returned AccessPasswordRequired.
	CheckPassword(user, password string) Access

	// FilePermissions returns the access bits for a root-relative path.
	FilePermissions(user, path string) Perm
}

// UnknownCommandHandler is consulted for verbs outside the built-in command
// set. It returns the reply to send and whether it handled the verb; when
// handled is false the server answers "500 Command not recognized".
type UnknownCommandHandler func(verb, arg string) (code int, message string, handled bool)

// File is an open file handle as used by the transfer commands.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
}

// FileSystem is the storage backend of the server.
//
// All paths are absolute, slash-separated, and already canonicalized and
// contained to the server root by the session's path resolver before any
// method is called.
//
// Implementations should return os.ErrNotExist, os.ErrPermission and
// os.ErrExist where applicable; the server translates those to the
// appropriate reply codes.
type FileSystem interface {
	// OpenFile opens a file using os.O_* flags.
	OpenFile(path string, flag int) (File, error)

	// Stat returns metadata for a file or directory.
	Stat(path string) (os.FileInfo, error)

	// ReadDir lists the entries of a directory.
	ReadDir(path string) ([]os.FileInfo, error)

	// Mkdir creates a directory.
	Mkdir(path string) error

	// RemoveDir removes an empty directory.
	RemoveDir(path string) error

	// Remove deletes a file.
	Remove(path string) error

	// Rename moves a file or directory.
	Rename(from, to string) error
}

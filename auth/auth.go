// Package auth provides a bcrypt-backed user store implementing the FTP
// server's Authorizer interface.
package auth

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/microftp/microftp/server"
)

type account struct {
	passwordHash []byte
	perms        server.Perm
}

// Store holds named accounts with bcrypt password hashes and per-user
// permission bits. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	accounts  map[string]*account
	anonymous bool
	anonPerms server.Perm
}

// NewStore creates an empty store. Until accounts are added (or anonymous
// access is enabled) every login is denied.
func NewStore() *Store {
	return &Store{accounts: make(map[string]*account)}
}

// AllowAnonymous permits the "anonymous" and "ftp" user names to log in
// without a password, with the given permission bits.
func (s *Store) AllowAnonymous(perms server.Perm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anonymous = true
	s.anonPerms = perms
}

// Add registers an account. The password is hashed with bcrypt before it is
// stored; the cleartext is never kept.
func (s *Store) Add(name, password string, perms server.Perm) error {
	if name == "" {
		return fmt.Errorf("user name must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[name] = &account{passwordHash: hash, perms: perms}
	return nil
}

func (s *Store) isAnonymousName(user string) bool {
	return user == "anonymous" || user == "ftp"
}

// CheckUser implements server.Authorizer. Known accounts are asked for a
// password; anonymous names pass straight through when enabled.
func (s *Store) CheckUser(user string) server.Access {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.anonymous && s.isAnonymousName(user) {
		return server.AccessAllowed
	}
	if _, ok := s.accounts[user]; ok {
		return server.AccessPasswordRequired
	}
	return server.AccessDenied
}

// CheckPassword implements server.Authorizer.
func (s *Store) CheckPassword(user, password string) server.Access {
	s.mu.RLock()
	acct, ok := s.accounts[user]
	s.mu.RUnlock()

	if !ok {
		return server.AccessDenied
	}
	if bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)) != nil {
		return server.AccessDenied
	}
	return server.AccessAllowed
}

// FilePermissions implements server.Authorizer. Permissions are per user,
// uniform across the tree.
func (s *Store) FilePermissions(user, path string) server.Perm {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.anonymous && s.isAnonymousName(user) {
		return s.anonPerms
	}
	if acct, ok := s.accounts[user]; ok {
		return acct.perms
	}
	return 0
}

// ParsePerms converts a permission string such as "lrw" or "lr" into the
// corresponding bits. Unknown letters are an error.
func ParsePerms(spec string) (server.Perm, error) {
	var p server.Perm
	for _, c := range strings.ToLower(spec) {
		switch c {
		case 'l':
			p |= server.PermList
		case 'r':
			p |= server.PermRead
		case 'w':
			p |= server.PermWrite
		default:
			return 0, fmt.Errorf("unknown permission %q", c)
		}
	}
	return p, nil
}

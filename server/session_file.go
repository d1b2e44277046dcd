package server

import "fmt"

func (s *session) handlePWD() {
	if !s.requireLogin() {
		return
	}
	s.reply(257, fmt.Sprintf("%q is your current directory",
		virtualPath(s.homeDir, s.currentDir)))
}

func (s *session) handleCWD(arg string) {
	if !s.requireLogin() || !s.requireParam(arg) {
		return
	}
	p, ok := s.resolve(arg)
	if !ok {
		return
	}
	if !s.perms(p).Has(PermRead) {
		s.reply(550, "Access denied")
		return
	}
	fi, err := s.server.fs.Stat(p)
	if err != nil {
		s.replyError(err)
		return
	}
	if !fi.IsDir() {
		s.reply(550, "Not a directory")
		return
	}
	s.currentDir = p
	s.reply(250, "Directory successfully changed")
}

// handleCDUP moves to the parent directory. Unlike CWD it never fails: if
// the parent is missing or off limits the current directory simply stays
// where it is and the reply is still positive.
func (s *session) handleCDUP() {
	if !s.requireLogin() {
		return
	}
	if p, err := resolvePath(s.homeDir, s.currentDir, ".."); err == nil {
		if s.perms(p).Has(PermRead) {
			if fi, err := s.server.fs.Stat(p); err == nil && fi.IsDir() {
				s.currentDir = p
			}
		}
	}
	s.reply(250, "Directory successfully changed")
}

func (s *session) handleMKD(arg string) {
	if !s.requireLogin() || !s.requireParam(arg) {
		return
	}
	p, ok := s.resolve(arg)
	if !ok {
		return
	}
	if !s.perms(p).Has(PermWrite) {
		s.reply(550, "Access denied")
		return
	}
	if err := s.server.fs.Mkdir(p); err != nil {
		s.replyError(err)
		return
	}
	s.reply(257, fmt.Sprintf("%q created", virtualPath(s.homeDir, p)))
}

func (s *session) handleRMD(arg string) {
	if !s.requireLogin() || !s.requireParam(arg) {
		return
	}
	p, ok := s.resolve(arg)
	if !ok {
		return
	}
	if !s.perms(p).Has(PermWrite) {
		s.reply(550, "Access denied")
		return
	}
	if err := s.server.fs.RemoveDir(p); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Directory removed")
}

func (s *session) handleDELE(arg string) {
	if !s.requireLogin() || !s.requireParam(arg) {
		return
	}
	p, ok := s.resolve(arg)
	if !ok {
		return
	}
	if !s.perms(p).Has(PermWrite) {
		s.reply(550, "Access denied")
		return
	}
	if err := s.server.fs.Remove(p); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("file_deleted",
		"session_id", s.id,
		"user", s.user,
		"path", virtualPath(s.homeDir, p),
	)
	s.reply(250, "File deleted")
}

// handleRNFR stores the rename source. The path must already exist; the
// actual rename waits for the matching RNTO.
func (s *session) handleRNFR(arg string) {
	if !s.requireLogin() || !s.requireParam(arg) {
		return
	}
	p, ok := s.resolve(arg)
	if !ok {
		return
	}
	if !s.perms(p).Has(PermWrite) {
		s.reply(550, "Access denied")
		return
	}
	if _, err := s.server.fs.Stat(p); err != nil {
		s.replyError(err)
		return
	}
	s.renameFrom = p
	s.state = stateRenameFrom
	s.reply(350, "File exists, ready for destination name")
}

// handleRNTO completes a rename. The destination must not exist yet; a
// rename never silently replaces a file.
func (s *session) handleRNTO(arg string) {
	if s.state != stateRenameFrom {
		s.reply(503, "Bad sequence of commands")
		return
	}
	from := s.renameFrom
	s.renameFrom = ""
	s.state = stateIdle

	if !s.requireParam(arg) {
		return
	}
	p, ok := s.resolve(arg)
	if !ok {
		return
	}
	if !s.perms(p).Has(PermWrite) {
		s.reply(550, "Access denied")
		return
	}
	if _, err := s.server.fs.Stat(p); err == nil {
		s.reply(550, "File already exists")
		return
	}
	if err := s.server.fs.Rename(from, p); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("file_renamed",
		"session_id", s.id,
		"user", s.user,
		"from", virtualPath(s.homeDir, from),
		"to", virtualPath(s.homeDir, p),
	)
	s.reply(250, "File renamed")
}

func (s *session) handleSIZE(arg string) {
	if !s.requireLogin() || !s.requireParam(arg) {
		return
	}
	p, ok := s.resolve(arg)
	if !ok {
		return
	}
	if s.perms(p)&(PermList|PermRead) == 0 {
		s.reply(550, "Access denied")
		return
	}
	fi, err := s.server.fs.Stat(p)
	if err != nil {
		s.replyError(err)
		return
	}
	if fi.IsDir() {
		s.reply(550, "Not a regular file")
		return
	}
	s.reply(213, fmt.Sprintf("%d", fi.Size()))
}

package server

// handleUSER starts a new login. Any earlier login is forgotten and the
// directory context snaps back to the root, so a mid-session USER behaves
// like a fresh connection.
func (s *session) handleUSER(arg string) {
	if !s.requireParam(arg) {
		return
	}
	if len(arg) > maxUsernameLength {
		s.reply(501, "Invalid parameter")
		return
	}

	s.loggedIn = false
	s.user = arg
	s.homeDir = s.server.rootDir
	s.currentDir = s.server.rootDir
	s.state = stateIdle

	if s.server.auth == nil {
		s.completeLogin()
		return
	}

	switch s.server.auth.CheckUser(arg) {
	case AccessAllowed:
		s.completeLogin()
	case AccessPasswordRequired:
		s.state = statePassword
		s.reply(331, "User name okay, need password")
	default:
		s.user = ""
		s.recordAuth(false, arg)
		s.reply(530, "Login authentication failed")
	}
}

// handlePASS completes a login started by USER. Without a pending USER it is
// a sequence error.
func (s *session) handlePASS(arg string) {
	if s.state != statePassword {
		s.reply(503, "Bad sequence of commands")
		return
	}
	// A missing argument is a syntax error; the pending USER stays pending
	// so the client can retry the PASS.
	if !s.requireParam(arg) {
		return
	}
	s.state = stateIdle

	if s.server.auth.CheckPassword(s.user, arg) == AccessAllowed {
		s.completeLogin()
		return
	}

	s.recordAuth(false, s.user)
	s.server.logger.Warn("authentication_failed",
		"session_id", s.id,
		"remote_ip", s.remoteIP,
		"user", s.user,
	)
	s.user = ""
	s.reply(530, "Login authentication failed")
}

func (s *session) completeLogin() {
	s.loggedIn = true
	s.recordAuth(true, s.user)
	s.server.logger.Info("user_logged_in",
		"session_id", s.id,
		"remote_ip", s.remoteIP,
		"user", s.user,
	)
	s.reply(230, "User logged in, proceed")
}

func (s *session) recordAuth(success bool, user string) {
	if m := s.server.metrics; m != nil {
		m.RecordAuthentication(success, user)
	}
}

// handleREIN flushes the session back to its just-connected state: login,
// directory context, transfer parameters and any data connection all reset.
// The control connection stays open.
func (s *session) handleREIN() {
	s.data.close()
	s.loggedIn = false
	s.user = ""
	s.homeDir = s.server.rootDir
	s.currentDir = s.server.rootDir
	s.renameFrom = ""
	s.transferType = "I"
	s.state = stateIdle
	s.reply(220, "Service ready for new user")
}

// handleQUIT ends the session. An interrupted transfer is reported with a
// 426 before the farewell; a pending listener or active-mode target is just
// released.
func (s *session) handleQUIT() {
	aborting := s.data.transferring()
	s.data.close()
	if aborting {
		s.reply(426, "Connection closed; transfer aborted")
	}
	s.reply(221, "Service closing control connection")
}

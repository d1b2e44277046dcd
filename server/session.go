package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// maxCommandLength is the longest command line the server accepts.
	// Longer lines are discarded up to the next newline and answered
	// with a 500 reply; the session itself survives.
	maxCommandLength = 512

	// maxUsernameLength bounds the USER argument.
	maxUsernameLength = 64
)

// errLineTooLong reports a command line that exceeded maxCommandLength.
var errLineTooLong = errors.New("command line too long")

// Telnet IAC handling for the control connection (RFC 959 carries commands
// over a Telnet stream; some clients send negotiation bytes).
const (
	telnetIAC  = 0xFF
	telnetWILL = 0xFB
	telnetDONT = 0xFE
)

// session is the per-client state of one control connection.
//
// A session is driven by a single goroutine: it reads one command line,
// dispatches it, writes the reply, and only then reads the next line. Data
// transfers run synchronously inside their command handler, so a session
// never interleaves commands with transfer I/O and ABOR/QUIT act as
// cooperative signals rather than preemption.
type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	id   string
	slot int

	remoteIP string

	state        controlState
	loggedIn     bool
	user         string
	homeDir      string
	currentDir   string
	renameFrom   string
	transferType string

	data dataConn
}

func newSession(srv *Server, conn net.Conn, slot int) *session {
	s := &session{
		server:       srv,
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		id:           uuid.New().String()[:8],
		slot:         slot,
		remoteIP:     remoteIPOf(conn),
		state:        stateIdle,
		homeDir:      srv.rootDir,
		currentDir:   srv.rootDir,
		transferType: "I",
	}
	s.data.sess = s
	return s
}

// serve runs the session loop until the client quits, the connection fails,
// or the idle deadline expires.
func (s *session) serve() {
	defer s.close()

	s.reply(220, s.server.welcomeMessage)

	s.server.logger.Info("session_started",
		"session_id", s.id,
		"slot", s.slot,
		"remote_ip", s.remoteIP,
	)

	for {
		if s.server.maxIdleTime > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.server.maxIdleTime))
		}

		line, err := s.readCommand()
		if err == errLineTooLong {
			s.reply(500, "Command line too long")
			continue
		}
		if err != nil {
			if err != io.EOF {
				s.server.logger.Warn("control read error",
					"session_id", s.id,
					"remote_ip", s.remoteIP,
					"user", s.user,
					"error", err,
				)
			}
			return
		}

		_ = s.conn.SetReadDeadline(time.Time{})

		if !s.handleCommand(line) {
			return
		}
	}
}

// readCommand reads one command line, filtering Telnet negotiation bytes and
// stripping the CRLF terminator and trailing whitespace. When the line
// overflows maxCommandLength the remainder up to the newline is discarded
// and errLineTooLong is returned.
func (s *session) readCommand() (string, error) {
	line := make([]byte, 0, 64)
	discard := false

	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return "", err
		}

		if b == telnetIAC {
			next, err := s.reader.ReadByte()
			if err != nil {
				return "", err
			}
			if next == telnetIAC {
				b = telnetIAC // escaped data byte
			} else {
				if next >= telnetWILL && next <= telnetDONT {
					// 3-byte negotiation, swallow the option.
					if _, err := s.reader.ReadByte(); err != nil {
						return "", err
					}
				}
				continue
			}
		}

		if b == '\n' {
			if discard {
				return "", errLineTooLong
			}
			return strings.TrimRight(string(line), "\r \t"), nil
		}
		if discard {
			continue
		}
		if len(line) >= maxCommandLength {
			discard = true
			line = nil
			continue
		}
		line = append(line, b)
	}
}

// close releases everything the session owns: the data connection (with any
// passive listener), then the control connection.
func (s *session) close() {
	s.data.close()
	s.conn.Close()

	s.server.logger.Debug("session_closed",
		"session_id", s.id,
		"remote_ip", s.remoteIP,
		"user", s.user,
	)
}

// splitCommand separates the verb from its parameter: the verb runs to the
// first space and is matched case-insensitively, the parameter is the rest
// with leading spaces stripped.
func splitCommand(line string) (verb, arg string) {
	verb = line
	if i := strings.IndexByte(line, ' '); i >= 0 {
		verb = line[:i]
		arg = strings.TrimLeft(line[i+1:], " ")
	}
	return strings.ToUpper(verb), arg
}

// handleCommand dispatches one command line and returns false when the
// session should end (QUIT or control-connection teardown).
func (s *session) handleCommand(line string) bool {
	if line == "" {
		return true
	}

	verb, arg := splitCommand(line)

	logArg := arg
	if verb == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command_received",
		"session_id", s.id,
		"user", s.user,
		"cmd", verb,
		"arg", logArg,
	)

	// Sequence gates: a pending USER resolves only through PASS and a
	// pending RNFR only through RNTO. Any other command (except QUIT,
	// which must always work) is a sequence error and resets the state.
	if s.state == statePassword && verb != "PASS" && verb != "QUIT" {
		s.state = stateIdle
		s.reply(503, "Bad sequence of commands")
		return true
	}
	if s.state == stateRenameFrom && verb != "RNTO" && verb != "QUIT" {
		s.state = stateIdle
		s.renameFrom = ""
		s.reply(503, "Bad sequence of commands")
		return true
	}

	switch verb {
	case "NOOP":
		s.reply(200, "Command okay")
	case "SYST":
		s.reply(215, s.server.systemType)
	case "FEAT":
		s.handleFEAT()
	case "TYPE":
		s.handleTYPE(arg)
	case "STRU":
		s.handleSTRU(arg)
	case "MODE":
		s.handleMODE(arg)
	case "USER":
		s.handleUSER(arg)
	case "PASS":
		s.handlePASS(arg)
	case "REIN":
		s.handleREIN()
	case "QUIT":
		s.handleQUIT()
		return false
	case "PORT":
		s.handlePORT(arg)
	case "EPRT":
		s.handleEPRT(arg)
	case "PASV":
		s.handlePASV()
	case "EPSV":
		s.handleEPSV(arg)
	case "ABOR":
		s.handleABOR()
	case "PWD":
		s.handlePWD()
	case "CWD":
		s.handleCWD(arg)
	case "CDUP":
		s.handleCDUP()
	case "LIST":
		s.handleLIST(arg)
	case "MKD":
		s.handleMKD(arg)
	case "RMD":
		s.handleRMD(arg)
	case "SIZE":
		s.handleSIZE(arg)
	case "RETR":
		s.handleRETR(arg)
	case "STOR":
		s.handleSTOR(arg)
	case "APPE":
		s.handleAPPE(arg)
	case "RNFR":
		s.handleRNFR(arg)
	case "RNTO":
		s.handleRNTO(arg)
	case "DELE":
		s.handleDELE(arg)
	default:
		s.handleUnknown(verb, arg)
	}
	return true
}

func (s *session) handleUnknown(verb, arg string) {
	if h := s.server.unknownCmd; h != nil {
		if code, msg, handled := h(verb, arg); handled {
			s.reply(code, msg)
			return
		}
	}
	s.reply(500, "Command not recognized")
}

// requireLogin replies 530 and returns false when the session is not
// authenticated.
func (s *session) requireLogin() bool {
	if !s.loggedIn {
		s.reply(530, "Not logged in")
		return false
	}
	return true
}

// requireParam replies 501 and returns false when a mandatory parameter is
// missing.
func (s *session) requireParam(arg string) bool {
	if arg == "" {
		s.reply(501, "Missing parameter")
		return false
	}
	return true
}

// resolve maps a client path onto the session's directory context, replying
// 501 on containment failure. The empty return string signals the failure.
func (s *session) resolve(name string) (string, bool) {
	p, err := resolvePath(s.homeDir, s.currentDir, name)
	if err != nil {
		s.reply(501, "Invalid parameter")
		return "", false
	}
	return p, true
}

// reply writes a single-line response and flushes it.
func (s *session) reply(code int, message string) {
	if s.server.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
	}
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	if err := s.writer.Flush(); err != nil {
		s.server.logger.Debug("reply write failed",
			"session_id", s.id,
			"error", err,
		)
	}
}

func (s *session) handleFEAT() {
	fmt.Fprintf(s.writer, "211-Features:\r\n")
	for _, f := range []string{"SIZE", "EPRT", "EPSV"} {
		fmt.Fprintf(s.writer, " %s\r\n", f)
	}
	fmt.Fprintf(s.writer, "211 End\r\n")
	_ = s.writer.Flush()
}

// replyError translates a filesystem error into the matching reply.
func (s *session) replyError(err error) {
	switch {
	case os.IsNotExist(err):
		s.reply(550, "File not found")
	case os.IsPermission(err):
		s.reply(550, "Access denied")
	case os.IsExist(err):
		s.reply(550, "File already exists")
	default:
		s.reply(550, "Requested action not taken")
	}
}

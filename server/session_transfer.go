package server

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/microftp/microftp/internal/ratelimit"
)

func (s *session) handleTYPE(arg string) {
	if !s.requireParam(arg) {
		return
	}
	switch strings.ToUpper(arg) {
	case "A", "A N":
		s.transferType = "A"
		s.reply(200, "Command okay")
	case "I", "L 8":
		s.transferType = "I"
		s.reply(200, "Command okay")
	default:
		s.reply(504, "Unknown type")
	}
}

func (s *session) handleSTRU(arg string) {
	if !s.requireParam(arg) {
		return
	}
	if strings.ToUpper(arg) == "F" {
		s.reply(200, "Command okay")
		return
	}
	s.reply(504, "Unknown structure")
}

func (s *session) handleMODE(arg string) {
	if !s.requireParam(arg) {
		return
	}
	if strings.ToUpper(arg) == "S" {
		s.reply(200, "Command okay")
		return
	}
	s.reply(504, "Unknown mode")
}

// handlePORT records an active-mode target given as six decimal octets.
func (s *session) handlePORT(arg string) {
	if !s.requireLogin() || !s.requireParam(arg) {
		return
	}
	ip, port, err := parseHostPort(arg)
	if err != nil || port == 0 {
		s.reply(501, "Invalid parameter")
		return
	}
	s.data.setActive(ip, port)
	s.reply(200, "Command okay")
}

// handleEPRT records an active-mode target in the RFC 2428 form, where the
// client picks the delimiter character.
func (s *session) handleEPRT(arg string) {
	if !s.requireLogin() || !s.requireParam(arg) {
		return
	}
	ip, port, err := parseExtendedAddress(arg)
	if err != nil {
		s.reply(501, "Invalid parameter")
		return
	}
	s.data.setActive(ip, port)
	s.reply(200, "Command okay")
}

// handlePASV opens a passive listener and advertises it in the classic
// comma-octet form. The advertised address is the control connection's local
// IPv4 address unless a public host is configured.
func (s *session) handlePASV() {
	if !s.requireLogin() {
		return
	}
	ip := s.passiveAddr()
	if ip == nil {
		s.reply(425, "Can't enter passive mode")
		return
	}
	port, err := s.data.listenPassive("tcp4")
	if err != nil {
		s.server.logger.Warn("passive listen failed",
			"session_id", s.id,
			"error", err,
		)
		s.reply(425, "Can't enter passive mode")
		return
	}
	if s.server.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
	}
	fmt.Fprintf(s.writer, "%s\r\n", pasvReplyText(ip, port))
	_ = s.writer.Flush()
}

// handleEPSV is the extended flavour of PASV; the reply carries only the
// port, since the peer dials the same address the control connection uses.
func (s *session) handleEPSV(arg string) {
	if !s.requireLogin() {
		return
	}
	if strings.EqualFold(arg, "ALL") {
		s.reply(200, "Command okay")
		return
	}
	port, err := s.data.listenPassive("tcp")
	if err != nil {
		s.server.logger.Warn("passive listen failed",
			"session_id", s.id,
			"error", err,
		)
		s.reply(425, "Can't enter passive mode")
		return
	}
	s.reply(229, fmt.Sprintf("Entering extended passive mode (|||%d|)", port))
}

// passiveAddr picks the IPv4 address to advertise in a 227 reply.
func (s *session) passiveAddr() net.IP {
	if host := s.server.publicHost; host != "" {
		if ip := net.ParseIP(host); ip != nil {
			return ip.To4()
		}
		return nil
	}
	if addr, ok := s.conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.IP.To4()
	}
	return nil
}

// handleABOR cancels whatever the data connection holds. An interrupted
// transfer is acknowledged with a 426 before the 226; a listener that never
// saw a peer is closed without one.
func (s *session) handleABOR() {
	aborting := s.data.transferring()
	s.data.close()
	if aborting {
		s.reply(426, "Connection closed; transfer aborted")
	}
	s.state = stateIdle
	s.reply(226, "Abort command successful")
}

func (s *session) handleLIST(arg string) {
	if !s.requireLogin() {
		return
	}
	// Tolerate ls-style option flags some clients prepend.
	if strings.HasPrefix(arg, "-") {
		if i := strings.IndexByte(arg, ' '); i < 0 {
			arg = ""
		} else {
			arg = strings.TrimLeft(arg[i+1:], " ")
		}
	}

	target := s.currentDir
	if arg != "" {
		p, ok := s.resolve(arg)
		if !ok {
			return
		}
		target = p
	}
	if s.perms(target)&(PermList|PermRead) == 0 {
		s.reply(550, "Access denied")
		return
	}
	entries, err := s.server.fs.ReadDir(target)
	if err != nil {
		s.replyError(err)
		return
	}

	conn, ok := s.openDataConn(dataSend)
	if !ok {
		return
	}
	s.state = stateList
	s.reply(150, "Opening data connection")

	var listing strings.Builder
	for _, fi := range entries {
		listing.WriteString(listLine(fi))
		listing.WriteString("\r\n")
	}

	start := time.Now()
	n, err := io.Copy(s.throttled(conn), strings.NewReader(listing.String()))
	s.finishTransfer("LIST", n, err, start)
}

// listLine renders one directory entry in the Unix ls format most clients
// expect to parse.
func listLine(fi os.FileInfo) string {
	return fmt.Sprintf("%s 1 owner group %12d %s %s",
		fi.Mode().String(),
		fi.Size(),
		fi.ModTime().Format("Jan _2 15:04"),
		fi.Name())
}

func (s *session) handleRETR(arg string) {
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
	// Confirm the file before touching the data connection, so a missing
	// file never costs a socket round trip.
	fi, err := s.server.fs.Stat(p)
	if err != nil {
		s.replyError(err)
		return
	}
	if fi.IsDir() {
		s.reply(550, "Not a regular file")
		return
	}
	file, err := s.server.fs.OpenFile(p, os.O_RDONLY)
	if err != nil {
		s.replyError(err)
		return
	}
	defer file.Close()

	conn, ok := s.openDataConn(dataSend)
	if !ok {
		return
	}
	s.state = stateRetrieve
	s.reply(150, "Opening data connection")

	var src io.Reader = file
	if s.transferType == "A" {
		src = newASCIIReader(file)
	}
	start := time.Now()
	n, err := io.Copy(s.throttled(conn), src)
	s.finishTransfer("RETR", n, err, start)
}

func (s *session) handleSTOR(arg string) {
	s.receiveFile("STOR", arg, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, stateStore)
}

func (s *session) handleAPPE(arg string) {
	s.receiveFile("APPE", arg, os.O_WRONLY|os.O_CREATE, stateAppend)
}

// receiveFile is the shared upload path of STOR and APPE; they differ only
// in open flags and in APPE seeking to the end before writing.
func (s *session) receiveFile(op, arg string, flag int, cs controlState) {
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
	file, err := s.server.fs.OpenFile(p, flag)
	if err != nil {
		s.replyError(err)
		return
	}
	defer file.Close()

	if cs == stateAppend {
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			s.replyError(err)
			return
		}
	}

	conn, ok := s.openDataConn(dataReceive)
	if !ok {
		return
	}
	s.state = cs
	s.reply(150, "Opening data connection")

	var src io.Reader = s.throttled(conn)
	if s.transferType == "A" {
		src = newASCIIStripReader(src)
	}
	start := time.Now()
	n, err := io.Copy(file, src)
	s.finishTransfer(op, n, err, start)
}

// openDataConn materializes the negotiated data connection, replying 450
// when nothing was negotiated or the peer is unreachable.
func (s *session) openDataConn(dir dataState) (net.Conn, bool) {
	conn, err := s.data.open(dir)
	if err != nil {
		s.server.logger.Warn("data connection failed",
			"session_id", s.id,
			"user", s.user,
			"error", err,
		)
		s.reply(450, "Can't open data connection")
		return nil, false
	}
	return conn, true
}

// finishTransfer closes the data connection, reports the outcome on the
// control connection and records the transfer.
func (s *session) finishTransfer(op string, bytes int64, err error, start time.Time) {
	s.data.close()
	s.state = stateIdle

	duration := time.Since(start)
	if m := s.server.metrics; m != nil {
		m.RecordTransfer(op, bytes, duration)
	}

	if err != nil {
		s.server.logger.Warn("transfer failed",
			"session_id", s.id,
			"user", s.user,
			"cmd", op,
			"bytes", bytes,
			"error", err,
		)
		s.reply(426, "Connection closed; transfer aborted")
		return
	}

	s.server.logger.Info("transfer_complete",
		"session_id", s.id,
		"user", s.user,
		"cmd", op,
		"bytes", bytes,
		"duration_ms", duration.Milliseconds(),
	)
	s.reply(226, "Transfer complete")
}

// throttled wraps the data connection in a byte-rate limiter when a
// bandwidth cap is configured.
func (s *session) throttled(conn net.Conn) io.ReadWriter {
	if s.server.bandwidthLimit <= 0 {
		return conn
	}
	return ratelimit.NewReadWriter(conn, ratelimit.New(s.server.bandwidthLimit))
}

package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// dataConnTimeout bounds both the active-mode dial and the passive-mode
// accept wait.
const dataConnTimeout = 10 * time.Second

// errNoDataSetup is returned when a transfer command arrives before any
// PORT/EPRT/PASV/EPSV negotiated a data connection.
var errNoDataSetup = errors.New("no data connection setup")

// dataConn manages the session's ephemeral data connection.
//
// In active mode the client's address is remembered and dialed when a
// transfer command needs the connection. In passive mode a listener is
// opened immediately and the peer is accepted when the transfer starts.
// Only one data socket is ever live: every setup call tears down whatever
// the previous negotiation left behind.
type dataConn struct {
	sess *session

	state      dataState
	passive    bool
	activeIP   net.IP
	activePort int
	ln         net.Listener
	conn       net.Conn
}

// setActive records the target for an active-mode connection (PORT/EPRT).
// Any existing data socket or listener is closed first.
func (d *dataConn) setActive(ip net.IP, port int) {
	d.close()
	d.passive = false
	d.activeIP = ip
	d.activePort = port
}

// listenPassive opens a passive-mode listener on the next free port of the
// configured range (PASV uses "tcp4", EPSV uses "tcp"). It walks the whole
// range once before giving up, since neighbouring ports may still be in
// TIME_WAIT from earlier transfers.
func (d *dataConn) listenPassive(network string) (int, error) {
	d.close()

	srv := d.sess.server
	var lastErr error
	for i := 0; i < srv.ports.size(); i++ {
		port := srv.ports.Next()
		ln, err := net.Listen(network, ":"+strconv.Itoa(port))
		if err != nil {
			lastErr = err
			continue
		}
		d.passive = true
		d.ln = ln
		d.state = dataListen
		return port, nil
	}
	return 0, fmt.Errorf("no free port in passive range: %w", lastErr)
}

// open produces the live data connection for a transfer: it accepts the
// pending passive peer or dials the stored active target. The direction is
// recorded so teardown paths can tell what was interrupted.
func (d *dataConn) open(dir dataState) (net.Conn, error) {
	if d.passive {
		return d.acceptPassive(dir)
	}
	if d.activeIP != nil {
		return d.dialActive(dir)
	}
	return nil, errNoDataSetup
}

func (d *dataConn) acceptPassive(dir dataState) (net.Conn, error) {
	if d.ln == nil {
		return nil, errNoDataSetup
	}
	if tl, ok := d.ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(dataConnTimeout))
	}
	conn, err := d.ln.Accept()
	if err != nil {
		d.close()
		return nil, err
	}
	// The listener served its single purpose.
	d.ln.Close()
	d.ln = nil
	d.conn = conn
	d.state = dir
	return conn, nil
}

func (d *dataConn) dialActive(dir dataState) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dataConnTimeout}
	if port := d.sess.server.dataPort; port > 0 {
		// Bind the local source port to the server's well-known data
		// port, matching the classic PORT-mode convention.
		dialer.LocalAddr = &net.TCPAddr{Port: port}
	}

	addr := net.JoinHostPort(d.activeIP.String(), strconv.Itoa(d.activePort))
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		d.close()
		return nil, err
	}
	// The stored target is single-use.
	d.activeIP = nil
	d.activePort = 0
	d.conn = conn
	d.state = dir
	return conn, nil
}

// close tears down whatever the data connection holds: the listener, the
// accepted or dialed socket, and the stored active-mode target. It is safe
// to call in any state and always leaves the state at dataClosed.
func (d *dataConn) close() {
	if d.ln != nil {
		d.ln.Close()
		d.ln = nil
	}
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	d.passive = false
	d.activeIP = nil
	d.activePort = 0
	d.state = dataClosed
}

// transferring reports whether an accepted or dialed data connection is
// streaming. A pending passive listener or a stored active-mode target does
// not count: QUIT and ABOR release those silently, and only an interrupted
// transfer owes the client a 426.
func (d *dataConn) transferring() bool {
	return d.state == dataSend || d.state == dataReceive
}

package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

func fatalIfErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// startServer runs a server over a fresh temp directory on an ephemeral port
// and returns its address plus the directory it serves.
func startServer(t *testing.T, options ...Option) (addr, dir string) {
	t.Helper()
	return startServerRoot(t, "/", options...)
}

// startServerRoot is startServer with a configurable virtual root subtree.
func startServerRoot(t *testing.T, root string, options ...Option) (addr, dir string) {
	t.Helper()

	dir = t.TempDir()
	fs, err := NewOSFileSystem(dir)
	fatalIfErr(t, err)
	t.Cleanup(func() { fs.Close() })

	options = append([]Option{WithFileSystem(fs, root)}, options...)
	srv, err := NewServer("127.0.0.1:0", options...)
	fatalIfErr(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	fatalIfErr(t, err)

	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return ln.Addr().String(), dir
}

// control is a raw client-side view of a control connection.
type control struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

// dialControl connects to addr and consumes the greeting.
func dialControl(t *testing.T, addr string) *control {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	fatalIfErr(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &control{t: t, conn: conn, r: bufio.NewReader(conn)}
	greeting := c.readReply()
	if !strings.HasPrefix(greeting, "220") {
		t.Fatalf("greeting = %q, want 220", greeting)
	}
	return c
}

// send writes one command line.
func (c *control) send(line string) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\r\n", line)
	fatalIfErr(c.t, err)
}

// readReply reads one reply, following multi-line replies to their final
// line. The returned string is the full reply text without the trailing
// CRLF, lines joined with "\n".
func (c *control) readReply() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	first, err := c.r.ReadString('\n')
	fatalIfErr(c.t, err)
	first = strings.TrimRight(first, "\r\n")

	if len(first) < 4 || first[3] != '-' {
		return first
	}

	// Multi-line: read until "DDD " with the same code.
	code := first[:3]
	lines := []string{first}
	for {
		line, err := c.r.ReadString('\n')
		fatalIfErr(c.t, err)
		line = strings.TrimRight(line, "\r\n")
		lines = append(lines, line)
		if strings.HasPrefix(line, code+" ") {
			return strings.Join(lines, "\n")
		}
	}
}

// cmd sends a command and returns the reply.
func (c *control) cmd(line string) string {
	c.t.Helper()
	c.send(line)
	return c.readReply()
}

// expect sends a command and fails the test unless the reply starts with
// the given prefix.
func (c *control) expect(line, prefix string) string {
	c.t.Helper()
	reply := c.cmd(line)
	if !strings.HasPrefix(reply, prefix) {
		c.t.Fatalf("%s: reply = %q, want prefix %q", line, reply, prefix)
	}
	return reply
}

// login performs the USER/PASS exchange, failing on anything but 230.
func (c *control) login(user, pass string) {
	c.t.Helper()
	reply := c.cmd("USER " + user)
	switch {
	case strings.HasPrefix(reply, "230"):
		return
	case strings.HasPrefix(reply, "331"):
		if got := c.cmd("PASS " + pass); !strings.HasPrefix(got, "230") {
			c.t.Fatalf("PASS: reply = %q, want 230", got)
		}
	default:
		c.t.Fatalf("USER: reply = %q", reply)
	}
}

// pasvAddr issues PASV and returns the advertised address.
func (c *control) pasvAddr() string {
	c.t.Helper()
	reply := c.expect("PASV", "227")

	open := strings.IndexByte(reply, '(')
	closing := strings.IndexByte(reply, ')')
	if open < 0 || closing < open {
		c.t.Fatalf("PASV reply %q has no host-port", reply)
	}
	ip, port, err := parseHostPort(reply[open+1 : closing])
	fatalIfErr(c.t, err)
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}

// dialRaw opens a plain TCP connection without consuming the greeting.
func dialRaw(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, 5*time.Second)
}

// readLine reads one CRLF-terminated line from a raw connection.
func readLine(conn net.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// portOf extracts the port number from a host:port string.
func portOf(t *testing.T, addr string) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr)
	fatalIfErr(t, err)
	port, err := strconv.Atoi(portStr)
	fatalIfErr(t, err)
	return port
}

// testAuth is a fixed-credential Authorizer for tests. Users map to
// passwords; perms apply to everyone.
type testAuth struct {
	users map[string]string
	perms Perm
}

func (a *testAuth) CheckUser(user string) Access {
	if _, ok := a.users[user]; ok {
		return AccessPasswordRequired
	}
	return AccessDenied
}

func (a *testAuth) CheckPassword(user, password string) Access {
	if pw, ok := a.users[user]; ok && pw == password {
		return AccessAllowed
	}
	return AccessDenied
}

func (a *testAuth) FilePermissions(user, path string) Perm {
	return a.perms
}

// readData dials a data address and drains it.
func readData(t *testing.T, addr string) []byte {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	fatalIfErr(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var buf []byte
	tmp := make([]byte, 4096)
	for {
		n, err := conn.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			return buf
		}
	}
}

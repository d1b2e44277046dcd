package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGreetingAndNoop(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialControl(t, addr)

	c.expect("NOOP", "200 Command okay")
	c.expect("SYST", "215 UNIX Type: L8")
}

func TestLoginPasswordRequired(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t, WithAuthorizer(&testAuth{
		users: map[string]string{"bob": "hunter2"},
		perms: PermAll,
	}))
	c := dialControl(t, addr)

	c.expect("USER bob", "331 User name okay, need password")
	c.expect("PASS wrong", "530 Login authentication failed")

	// The failed PASS must not leave a half-logged-in session.
	c.expect("PWD", "530 Not logged in")

	c.expect("USER bob", "331")
	c.expect("PASS hunter2", "230 User logged in, proceed")
	c.expect("PWD", "257")
}

func TestLoginUnknownUser(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t, WithAuthorizer(&testAuth{
		users: map[string]string{"bob": "pw"},
	}))
	c := dialControl(t, addr)

	c.expect("USER mallory", "530 Login authentication failed")
}

func TestLoginWithoutAuthorizer(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialControl(t, addr)

	c.expect("USER anyone", "230")
}

func TestPassSequenceError(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t, WithAuthorizer(&testAuth{
		users: map[string]string{"bob": "pw"},
		perms: PermAll,
	}))
	c := dialControl(t, addr)

	// PASS with no USER pending.
	c.expect("PASS pw", "503 Bad sequence of commands")

	// Any command other than PASS (or QUIT) cancels a pending USER.
	c.expect("USER bob", "331")
	c.expect("NOOP", "503 Bad sequence of commands")
	c.expect("PASS pw", "503 Bad sequence of commands")
}

func TestPassMissingParameter(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t, WithAuthorizer(&testAuth{
		users: map[string]string{"bob": "pw"},
		perms: PermAll,
	}))
	c := dialControl(t, addr)

	// A bare PASS is a syntax error, not an authentication failure, and
	// the pending USER survives it.
	c.expect("USER bob", "331")
	c.expect("PASS", "501 Missing parameter")
	c.expect("PASS pw", "230")
}

func TestRenameSequenceError(t *testing.T) {
	t.Parallel()
	addr, dir := startServer(t)
	fatalIfErr(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644))

	c := dialControl(t, addr)
	c.login("u", "")

	c.expect("RNTO b.txt", "503 Bad sequence of commands")

	c.expect("RNFR a.txt", "350")
	c.expect("NOOP", "503 Bad sequence of commands")
	// The pending rename source was dropped.
	c.expect("RNTO b.txt", "503 Bad sequence of commands")

	c.expect("RNFR a.txt", "350")
	c.expect("RNTO b.txt", "250")
	if _, err := os.Stat(filepath.Join(dir, "b.txt")); err != nil {
		t.Errorf("rename did not happen: %v", err)
	}
}

func TestNotLoggedIn(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t, WithAuthorizer(&testAuth{}))
	c := dialControl(t, addr)

	for _, cmd := range []string{"PWD", "CWD /", "CDUP", "LIST", "MKD x",
		"RMD x", "DELE x", "RNFR x", "SIZE x", "RETR x", "STOR x",
		"APPE x", "PASV", "PORT 127,0,0,1,4,0"} {
		c.expect(cmd, "530 Not logged in")
	}
}

func TestCwdEscapeRejected(t *testing.T) {
	t.Parallel()
	// Serve only the /home subtree so there is somewhere to escape to.
	addr, dir := startServerRoot(t, "/home")
	fatalIfErr(t, os.MkdirAll(filepath.Join(dir, "home", "sub"), 0755))
	fatalIfErr(t, os.MkdirAll(filepath.Join(dir, "etc"), 0755))

	c := dialControl(t, addr)
	c.login("bob", "")

	c.expect("CWD sub", "250")
	c.expect("CWD ../../etc", "501 Invalid parameter")

	// Still in /sub after the rejected escape.
	reply := c.expect("PWD", "257")
	if !strings.Contains(reply, `"/sub"`) {
		t.Errorf("PWD = %q, want /sub", reply)
	}

	// The subtree boundary also holds for absolute-looking paths.
	c.expect("RETR /../etc/passwd", "501 Invalid parameter")
}

func TestCdupNeverFails(t *testing.T) {
	t.Parallel()
	addr, dir := startServer(t)
	fatalIfErr(t, os.MkdirAll(filepath.Join(dir, "a/b"), 0755))

	c := dialControl(t, addr)
	c.login("bob", "")

	c.expect("CWD a/b", "250")
	c.expect("CDUP", "250")
	c.expect("CDUP", "250")
	// Already at the top; CDUP stays put but still succeeds.
	c.expect("CDUP", "250")

	reply := c.expect("PWD", "257")
	if !strings.Contains(reply, `"/"`) {
		t.Errorf("PWD = %q, want /", reply)
	}
}

func TestMkdRmdDele(t *testing.T) {
	t.Parallel()
	addr, dir := startServer(t)

	c := dialControl(t, addr)
	c.login("bob", "")

	reply := c.expect("MKD newdir", "257")
	if !strings.Contains(reply, `"/newdir" created`) {
		t.Errorf("MKD reply = %q", reply)
	}
	if fi, err := os.Stat(filepath.Join(dir, "newdir")); err != nil || !fi.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	c.expect("RMD newdir", "250")
	if _, err := os.Stat(filepath.Join(dir, "newdir")); !os.IsNotExist(err) {
		t.Error("directory not removed")
	}

	fatalIfErr(t, os.WriteFile(filepath.Join(dir, "junk"), []byte("x"), 0644))
	c.expect("DELE junk", "250")
	if _, err := os.Stat(filepath.Join(dir, "junk")); !os.IsNotExist(err) {
		t.Error("file not deleted")
	}
}

func TestSize(t *testing.T) {
	t.Parallel()
	addr, dir := startServer(t)
	fatalIfErr(t, os.WriteFile(filepath.Join(dir, "f.bin"), make([]byte, 1234), 0644))

	c := dialControl(t, addr)
	c.login("bob", "")

	c.expect("SIZE f.bin", "213 1234")
	c.expect("SIZE missing", "550 File not found")
	c.expect("SIZE", "501 Missing parameter")
}

func TestRetrMissingFileOpensNoDataConn(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)

	c := dialControl(t, addr)
	c.login("bob", "")

	// No PORT/PASV negotiated: a missing file must be reported without
	// the server ever touching a data connection.
	c.expect("RETR missing.txt", "550 File not found")

	// The session is still perfectly usable.
	c.expect("NOOP", "200")
}

func TestTypeStruMode(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialControl(t, addr)

	c.expect("TYPE I", "200")
	c.expect("TYPE A", "200")
	c.expect("TYPE E", "504 Unknown type")
	c.expect("TYPE", "501 Missing parameter")

	c.expect("STRU F", "200")
	c.expect("STRU R", "504 Unknown structure")

	c.expect("MODE S", "200")
	c.expect("MODE B", "504 Unknown mode")
}

func TestFeatMultiline(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialControl(t, addr)

	reply := c.expect("FEAT", "211-")
	for _, feat := range []string{" SIZE", " EPRT", " EPSV"} {
		if !strings.Contains(reply, feat) {
			t.Errorf("FEAT reply missing %q:\n%s", feat, reply)
		}
	}
	if !strings.HasSuffix(reply, "211 End") {
		t.Errorf("FEAT reply does not end with 211 End:\n%s", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialControl(t, addr)

	c.expect("XYZZY", "500 Command not recognized")
}

func TestUnknownCommandHandler(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t, WithUnknownCommandHandler(
		func(verb, arg string) (int, string, bool) {
			if verb == "XKCD" {
				return 200, "Sandwich made: " + arg, true
			}
			return 0, "", false
		}))
	c := dialControl(t, addr)

	c.expect("XKCD sudo", "200 Sandwich made: sudo")
	c.expect("XYZZY", "500 Command not recognized")
}

func TestOversizedLine(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialControl(t, addr)

	c.send("NOOP " + strings.Repeat("a", 2048))
	reply := c.readReply()
	if !strings.HasPrefix(reply, "500 Command line too long") {
		t.Fatalf("reply = %q", reply)
	}

	// The violation costs one reply, not the session.
	c.expect("NOOP", "200")
}

func TestQuit(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialControl(t, addr)

	c.expect("QUIT", "221 Service closing control connection")
}

func TestQuitWithPendingDataConn(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialControl(t, addr)
	c.login("bob", "")

	// A pending passive listener is not a transfer: QUIT releases it
	// silently and says a lone goodbye, no 426.
	dataAddr := c.pasvAddr()
	c.expect("QUIT", "221 Service closing control connection")

	if conn, err := dialRaw(dataAddr); err == nil {
		conn.Close()
		t.Error("passive listener still accepting after QUIT")
	}
}

func TestAbor(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t)
	c := dialControl(t, addr)
	c.login("bob", "")

	// Nothing in flight: a bare 226.
	c.expect("ABOR", "226 Abort command successful")

	// A listener that never saw a peer is closed without a 426 too.
	dataAddr := c.pasvAddr()
	c.expect("ABOR", "226 Abort command successful")

	if conn, err := dialRaw(dataAddr); err == nil {
		conn.Close()
		t.Error("passive listener still accepting after ABOR")
	}

	// The session itself is unaffected.
	c.expect("NOOP", "200")
}

func TestRein(t *testing.T) {
	t.Parallel()
	addr, dir := startServer(t)
	fatalIfErr(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))

	c := dialControl(t, addr)
	c.login("bob", "")
	c.expect("CWD sub", "250")

	c.expect("REIN", "220")

	// Back to square one: not logged in, directory reset.
	c.expect("PWD", "530 Not logged in")
	c.login("alice", "")
	reply := c.expect("PWD", "257")
	if !strings.Contains(reply, `"/"`) {
		t.Errorf("PWD after REIN = %q, want /", reply)
	}
}

func TestPortThenPasv(t *testing.T) {
	t.Parallel()
	addr, dir := startServer(t)
	fatalIfErr(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("payload"), 0644))

	c := dialControl(t, addr)
	c.login("bob", "")

	// PORT followed by PASV: only the passive listener survives, and a
	// transfer over it works.
	c.expect("PORT 127,0,0,1,200,10", "200")
	dataAddr := c.pasvAddr()

	c.send("RETR f.txt")
	got := readData(t, dataAddr)
	if reply := c.readReply(); !strings.HasPrefix(reply, "150") {
		t.Fatalf("RETR reply = %q, want 150", reply)
	}
	if reply := c.readReply(); !strings.HasPrefix(reply, "226") {
		t.Fatalf("RETR reply = %q, want 226", reply)
	}
	if string(got) != "payload" {
		t.Errorf("data = %q, want %q", got, "payload")
	}
}

func TestPasvPortWithinRange(t *testing.T) {
	t.Parallel()
	const min, max = 50200, 50210
	addr, _ := startServer(t, WithPassivePortRange(min, max))

	c := dialControl(t, addr)
	c.login("bob", "")

	port := portOf(t, c.pasvAddr())
	if port < min || port > max {
		t.Errorf("passive port %d outside [%d, %d]", port, min, max)
	}
	c.expect("ABOR", "226")
}

func TestPermissionDenied(t *testing.T) {
	t.Parallel()
	addr, dir := startServer(t, WithAuthorizer(&testAuth{
		users: map[string]string{"ro": "pw"},
		perms: PermList | PermRead,
	}))
	fatalIfErr(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644))

	c := dialControl(t, addr)
	c.login("ro", "pw")

	c.expect("MKD newdir", "550 Access denied")
	c.expect("DELE f.txt", "550 Access denied")
	c.expect("RNFR f.txt", "550 Access denied")
	c.expect("STOR up.txt", "550 Access denied")
	c.expect("SIZE f.txt", "213 1")
}

func TestListWithReadPermissionOnly(t *testing.T) {
	t.Parallel()
	addr, dir := startServer(t, WithAuthorizer(&testAuth{
		users: map[string]string{"dl": "pw"},
		perms: PermRead,
	}))
	fatalIfErr(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0644))

	c := dialControl(t, addr)
	c.login("dl", "pw")

	// Read permission alone is enough to list a directory.
	dataAddr := c.pasvAddr()
	c.send("LIST")
	listing := readData(t, dataAddr)
	if reply := c.readReply(); !strings.HasPrefix(reply, "150") {
		t.Fatalf("LIST reply = %q, want 150", reply)
	}
	if reply := c.readReply(); !strings.HasPrefix(reply, "226") {
		t.Fatalf("LIST reply = %q, want 226", reply)
	}
	if !strings.Contains(string(listing), "f.txt") {
		t.Errorf("listing %q does not mention f.txt", listing)
	}
}

func TestMaxConnections(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t, WithMaxConnections(2, 0))

	c1 := dialControl(t, addr)
	c2 := dialControl(t, addr)

	conn, err := dialRaw(addr)
	fatalIfErr(t, err)
	defer conn.Close()
	reply, err := readLine(conn)
	fatalIfErr(t, err)
	if !strings.HasPrefix(reply, "421 Too many users") {
		t.Fatalf("third connection reply = %q, want 421", reply)
	}

	// Releasing a slot readmits new connections.
	c1.expect("QUIT", "221")
	c2.expect("NOOP", "200")
}

func TestPerIPLimit(t *testing.T) {
	t.Parallel()
	addr, _ := startServer(t, WithMaxConnections(8, 1))

	dialControl(t, addr)

	conn, err := dialRaw(addr)
	fatalIfErr(t, err)
	defer conn.Close()
	reply, err := readLine(conn)
	fatalIfErr(t, err)
	if !strings.HasPrefix(reply, "421 Too many connections from your IP") {
		t.Fatalf("reply = %q, want per-IP 421", reply)
	}
}

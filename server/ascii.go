package server

import "io"

// ASCII transfer type (TYPE A) uses CRLF line endings on the wire regardless
// of the server's native convention. asciiReader converts outbound text and
// asciiStripReader converts inbound text.

// asciiReader inserts a CR before every bare LF read from the underlying
// reader.
type asciiReader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	lastCR  bool
	err     error
}

func newASCIIReader(r io.Reader) *asciiReader {
	return &asciiReader{r: r, buf: make([]byte, 4096)}
}

func (a *asciiReader) Read(p []byte) (int, error) {
	if len(a.pending) == 0 && a.err == nil {
		n, err := a.r.Read(a.buf)
		for _, b := range a.buf[:n] {
			if b == '\n' && !a.lastCR {
				a.pending = append(a.pending, '\r')
			}
			a.lastCR = b == '\r'
			a.pending = append(a.pending, b)
		}
		a.err = err
	}
	if len(a.pending) == 0 {
		return 0, a.err
	}
	n := copy(p, a.pending)
	a.pending = a.pending[n:]
	return n, nil
}

// asciiStripReader rewrites CRLF pairs from the underlying reader to a bare
// LF. A CR at a buffer boundary is held back until the next byte decides its
// fate.
type asciiStripReader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	heldCR  bool
	err     error
}

func newASCIIStripReader(r io.Reader) *asciiStripReader {
	return &asciiStripReader{r: r, buf: make([]byte, 4096)}
}

func (a *asciiStripReader) Read(p []byte) (int, error) {
	if len(a.pending) == 0 && a.err == nil {
		n, err := a.r.Read(a.buf)
		for _, b := range a.buf[:n] {
			if a.heldCR {
				a.heldCR = false
				if b != '\n' {
					a.pending = append(a.pending, '\r')
				}
			}
			if b == '\r' {
				a.heldCR = true
				continue
			}
			a.pending = append(a.pending, b)
		}
		if err != nil && a.heldCR {
			a.pending = append(a.pending, '\r')
			a.heldCR = false
		}
		a.err = err
	}
	if len(a.pending) == 0 {
		return 0, a.err
	}
	n := copy(p, a.pending)
	a.pending = a.pending[n:]
	return n, nil
}

// Package ratelimit provides a token bucket byte-rate limiter used to
// throttle FTP data connections.
package ratelimit

import (
	"io"
	"sync"
	"time"
)

// chunkSize caps how many bytes a single Read or Write claims from the
// bucket at once. Smaller claims keep the observed rate close to the target
// without sleeping for long stretches.
const chunkSize = 16 * 1024

// Limiter is a token bucket that refills at a fixed byte rate. The bucket
// holds one second worth of tokens, so a transfer can burst briefly after an
// idle period but averages out to the configured rate.
//
// A nil Limiter imposes no limit; all methods tolerate a nil receiver.
type Limiter struct {
	mu     sync.Mutex
	rate   float64
	tokens float64
	last   time.Time
}

// New creates a limiter capped at bytesPerSecond. A non-positive rate
// returns nil, which disables throttling everywhere a Limiter is accepted.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return &Limiter{
		rate:   float64(bytesPerSecond),
		tokens: float64(bytesPerSecond),
		last:   time.Now(),
	}
}

// take blocks until n tokens are available, then consumes them.
func (l *Limiter) take(n int) {
	if l == nil || n <= 0 {
		return
	}

	l.mu.Lock()
	l.refill()
	need := float64(n)
	if l.tokens >= need {
		l.tokens -= need
		l.mu.Unlock()
		return
	}

	short := need - l.tokens
	l.tokens = 0
	wait := time.Duration(short / l.rate * float64(time.Second))
	l.mu.Unlock()

	time.Sleep(wait)
}

// refill credits tokens for the time elapsed since the last update. Caller
// holds the lock.
func (l *Limiter) refill() {
	now := time.Now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.rate {
		l.tokens = l.rate
	}
	l.last = now
}

type reader struct {
	r io.Reader
	l *Limiter
}

// NewReader wraps r so that reads consume tokens from l. A nil limiter
// returns r unchanged.
func NewReader(r io.Reader, l *Limiter) io.Reader {
	if l == nil {
		return r
	}
	return &reader{r: r, l: l}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) > chunkSize {
		p = p[:chunkSize]
	}
	n, err := r.r.Read(p)
	r.l.take(n)
	return n, err
}

type writer struct {
	w io.Writer
	l *Limiter
}

// NewWriter wraps w so that writes consume tokens from l before the bytes
// go out, applying backpressure to the producer. A nil limiter returns w
// unchanged.
func NewWriter(w io.Writer, l *Limiter) io.Writer {
	if l == nil {
		return w
	}
	return &writer{w: w, l: l}
}

func (w *writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		chunk := len(p) - written
		if chunk > chunkSize {
			chunk = chunkSize
		}
		w.l.take(chunk)
		n, err := w.w.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

type readWriter struct {
	io.Reader
	io.Writer
}

// NewReadWriter throttles both directions of rw with the same limiter, so a
// bidirectional cap covers whichever way the transfer flows. A nil limiter
// returns rw unchanged.
func NewReadWriter(rw io.ReadWriter, l *Limiter) io.ReadWriter {
	if l == nil {
		return rw
	}
	return &readWriter{
		Reader: NewReader(rw, l),
		Writer: NewWriter(rw, l),
	}
}

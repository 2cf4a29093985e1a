// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package transport implements the stream engine's C3 transport stack
// (the raw socket plus an optionally TLS- and/or zlib-wrapped
// io.ReadWriteCloser with an atomically-swappable writer) and its C5
// keepalive writer.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"xmppstream/compress"
)

// ErrNotNetConn is returned by EnableTLS when the underlying connection
// does not implement net.Conn (and so cannot be wrapped by crypto/tls).
var ErrNotNetConn = errors.New("transport: underlying connection is not a net.Conn")

// Transport owns the raw connection for one XMPP stream and the current
// secure/compressed layering over it. Exactly one reader goroutine reads
// from a Transport at a time (see Mailbox); writers may call Write
// concurrently with that reader and with each other — Write takes a
// short lock around swapping in the current writer, but never holds
// that lock across the blocked I/O call itself, so a slow write never
// stalls an unrelated writer swap (e.g. the moment STARTTLS completes).
type Transport struct {
	raw net.Conn

	wmu    sync.Mutex
	w      io.Writer
	closer io.Closer

	secure     int32
	compressed int32

	closed   int32
	closeErr error
	closeMu  sync.Once

	lastActivity int64 // unix nanoseconds, accessed atomically

	tapMu         sync.RWMutex
	tapIn, tapOut io.Writer
}

// New wraps an established net.Conn. The connection is used directly
// (uncompressed, unencrypted) until EnableTLS or EnableStreamCompression
// is called.
func New(conn net.Conn) *Transport {
	t := &Transport{raw: conn, w: conn, closer: conn}
	t.touch()
	return t
}

// SetTaps installs the spec §4.3 application read/write observer taps: a
// copy of every byte read from, or written to, the decoded (post-TLS,
// post-decompression) stream is written to in/out respectively. Either may
// be nil to disable that direction. Taps survive EnableTLS and
// EnableStreamCompression unchanged, since Read/Write always operate on
// the current plaintext layer regardless of what's swapped in beneath it.
// A tap write error is ignored; tracing must never break the connection.
func (t *Transport) SetTaps(in, out io.Writer) {
	t.tapMu.Lock()
	t.tapIn, t.tapOut = in, out
	t.tapMu.Unlock()
}

// Read reads from the current layer (raw, TLS, or compressed) of the
// connection. Only the transport's single reader goroutine may call
// Read; Transport does not guard against concurrent readers.
func (t *Transport) Read(p []byte) (int, error) {
	n, err := t.currentReader().Read(p)
	if n > 0 {
		t.touch()
		t.tapMu.RLock()
		tap := t.tapIn
		t.tapMu.RUnlock()
		if tap != nil {
			_, _ = tap.Write(p[:n])
		}
	}
	return n, err
}

// currentReader returns whatever io.Reader the current writer's
// counterpart is. Because EnableTLS/EnableStreamCompression replace both
// sides of the connection atomically under wmu, reading t.w as an
// io.Reader (when it also implements one) is safe the same way writing
// through it is.
func (t *Transport) currentReader() io.Reader {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if r, ok := t.w.(io.Reader); ok {
		return r
	}
	return t.raw
}

// Write writes p through the current writer. The writer reference is
// read under a short lock and then used outside of it, so a concurrent
// EnableTLS/EnableStreamCompression call can swap in a new writer
// without blocking on an in-flight Write, and a slow Write never blocks
// the swap.
func (t *Transport) Write(p []byte) (int, error) {
	t.wmu.Lock()
	w := t.w
	t.wmu.Unlock()

	n, err := w.Write(p)
	if n > 0 {
		t.touch()
		t.tapMu.RLock()
		tap := t.tapOut
		t.tapMu.RUnlock()
		if tap != nil {
			_, _ = tap.Write(p[:n])
		}
	}
	return n, err
}

func (t *Transport) touch() {
	atomic.StoreInt64(&t.lastActivity, timeNowUnixNano())
}

// IdleSince reports how long it has been since the last successful read
// or write on the transport.
func (t *Transport) IdleSince() time.Duration {
	last := atomic.LoadInt64(&t.lastActivity)
	return time.Duration(timeNowUnixNano() - last)
}

// timeNowUnixNano is a var so tests can fake the clock without the
// package reaching for a full clock interface.
var timeNowUnixNano = func() int64 { return time.Now().UnixNano() }

// IsSecure reports whether TLS has been negotiated on this transport.
func (t *Transport) IsSecure() bool {
	return atomic.LoadInt32(&t.secure) != 0
}

// IsCompressed reports whether zlib compression has been negotiated.
func (t *Transport) IsCompressed() bool {
	return atomic.LoadInt32(&t.compressed) != 0
}

// EnableTLS upgrades the connection in place. On the initiating
// (client) side it performs the client half of the TLS handshake; cfg's
// ServerName should already be set by the caller (typically to the
// stream's target domain). The swap from plaintext to TLS reader/writer
// happens atomically under the same lock Write uses, so no data can be
// written through the stale plaintext writer once EnableTLS returns.
func (t *Transport) EnableTLS(ctx context.Context, cfg *tls.Config) error {
	tlsConn := tls.Client(t.raw, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return err
	}

	t.wmu.Lock()
	t.w = tlsConn
	t.closer = tlsConn
	t.wmu.Unlock()

	atomic.StoreInt32(&t.secure, 1)
	return nil
}

// EnableStreamCompression wraps the connection in a zlib codec. Per
// spec, this may be attempted at most once per stream generation; the
// negotiator (not Transport) is responsible for enforcing that.
func (t *Transport) EnableStreamCompression() {
	t.wmu.Lock()
	codec := compress.NewCodec(t.w.(io.ReadWriter))
	t.w = codec
	t.closer = codec
	t.wmu.Unlock()

	atomic.StoreInt32(&t.compressed, 1)
}

// ForceClose idempotently and immediately closes the underlying
// connection, unblocking any in-flight Read. It is safe to call
// concurrently and repeatedly; only the first call's error is returned
// by all callers, and all calls after the first return immediately
// without touching the socket again (avoiding a self-join: the goroutine
// calling ForceClose is frequently the same one another goroutine is
// trying to unblock via this very call, so ForceClose must never wait on
// that goroutine).
func (t *Transport) ForceClose() error {
	t.closeMu.Do(func() {
		atomic.StoreInt32(&t.closed, 1)
		t.wmu.Lock()
		closer := t.closer
		t.wmu.Unlock()
		t.closeErr = closer.Close()
	})
	return t.closeErr
}

// Closed reports whether ForceClose has already run.
func (t *Transport) Closed() bool {
	return atomic.LoadInt32(&t.closed) != 0
}

// LocalAddr and RemoteAddr delegate to the raw connection; they are
// unaffected by the TLS/compression layering above it.
func (t *Transport) LocalAddr() net.Addr  { return t.raw.LocalAddr() }
func (t *Transport) RemoteAddr() net.Addr { return t.raw.RemoteAddr() }

// SetReadDeadline and SetWriteDeadline delegate to the raw connection.
func (t *Transport) SetReadDeadline(d time.Time) error  { return t.raw.SetReadDeadline(d) }
func (t *Transport) SetWriteDeadline(d time.Time) error { return t.raw.SetWriteDeadline(d) }

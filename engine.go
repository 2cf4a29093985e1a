// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmppstream implements an XMPP client stream engine: it opens a
// byte-level transport to a server, negotiates STARTTLS and stream
// compression, authenticates via SASL, binds a resource, and then
// exchanges top-level stream elements with the caller until disconnection.
//
// Engine is the upward boundary the rest of a full XMPP client (stanza
// routing, roster/presence, reconnection policy) is built on top of; none
// of that outer machinery lives in this package.
package xmppstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"xmppstream/discover"
	"xmppstream/negotiate"
	"xmppstream/sasl"
	"xmppstream/stream"
	"xmppstream/transport"
)

// Engine owns one connection's lifecycle from dial through negotiation,
// authentication, and steady-state stanza exchange. It wires C1
// (discover) through C6 (sasl) together the way spec §6 describes; the
// zero value is not usable, construct one with NewEngine.
type Engine struct {
	cfg Config

	mu                 sync.Mutex
	conn               net.Conn
	t                  *transport.Transport
	r                  *stream.Reader
	mailbox            *transport.Mailbox
	keepaliveCancel    context.CancelFunc
	readerDone         chan struct{}
	connectionID       string
	negotiatedService  string
	onPacket           func(*stream.Element)
	onError            func(error)
	onRecoverableError func(error)
	dispatchStarted    bool
}

// NewEngine returns an Engine configured by cfg. The connection is not
// opened until InitializeConnection is called.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// GetConnectData resolves connect-data candidates for cfg.Origin's domain
// (spec §4.1 / C1), or returns the single Host/Port override if one was
// configured. Cancellation is via ctx; a caller driving the spec's
// "forcibly closing the transport aborts in-flight resolution" contract
// should cancel ctx rather than call ForceDisconnect, since no transport
// exists yet at this stage.
func (e *Engine) GetConnectData(ctx context.Context) ([]discover.ConnectData, error) {
	if e.cfg.Host != "" {
		return []discover.ConnectData{{Addr: net.JoinHostPort(e.cfg.Host, portString(e.cfg.Port)), Domain: e.cfg.Origin.Domainpart()}}, nil
	}
	ctx, cancel := withDialTimeout(ctx)
	defer cancel()
	data, err := e.cfg.Resolver.Resolve(ctx, e.cfg.Origin)
	if err != nil {
		return nil, &Error{Kind: RemoteServerNotFound, Cause: err}
	}
	return data, nil
}

// GetDefaultConnectData never fails: it's the fallback spec §4.1 says to
// use if resolution times out or the caller doesn't want to wait.
func (e *Engine) GetDefaultConnectData() discover.ConnectData {
	return e.cfg.Resolver.Default(e.cfg.Origin)
}

func portString(p uint16) string {
	if p == 0 {
		return "5222"
	}
	return fmt.Sprintf("%d", p)
}

// InitializeConnection dials data, opens the stream, and drives C4
// (feature negotiation) and C6 (SASL, bind, session) to a stable
// steady-state <features/>. It returns once the connection is ready for
// SetPacketCallbacks/WritePacket, or with an error if any stage failed;
// on error the transport (if one was created) is already force-closed.
func (e *Engine) InitializeConnection(ctx context.Context, data discover.ConnectData) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", data.Addr)
	if err != nil {
		return &Error{Kind: RemoteServerNotFound, Cause: err}
	}

	t := transport.New(conn)
	if e.cfg.TeeIn != nil || e.cfg.TeeOut != nil {
		t.SetTaps(e.cfg.TeeIn, e.cfg.TeeOut)
	}

	if err := e.negotiateAndAuth(ctx, t, data); err != nil {
		_ = t.ForceClose()
		return err
	}

	e.mu.Lock()
	e.conn = conn
	e.t = t
	e.mu.Unlock()

	e.startReader()
	e.startKeepalive()
	return nil
}

// negotiateAndAuth runs C2 (open), C4 (negotiate), and C6 (authenticate,
// bind, session), leaving e.r positioned to read the steady-state stream
// on success.
func (e *Engine) negotiateAndAuth(ctx context.Context, t *transport.Transport, data discover.ConnectData) error {
	to := e.cfg.Origin.Domain()

	if err := stream.OpenStream(t, to, e.cfg.Origin, "", e.cfg.Lang.String()); err != nil {
		return &Error{Kind: ProtocolError, Cause: err}
	}
	r, info, err := stream.ExpectOpen(t)
	if err != nil {
		return &Error{Kind: ProtocolError, Cause: err}
	}
	e.connectionID = info.ID
	e.negotiatedService = info.From.String()

	first, err := negotiate.ReadFeatures(r, info)
	if err != nil {
		return &Error{Kind: ProtocolError, Cause: err}
	}

	n := negotiate.New(t, r, to, e.cfg.Lang.String(), negotiate.Config{
		Security:           e.cfg.Security,
		TLSConfig:          e.cfg.TLSConfig,
		CompressionEnabled: e.cfg.CompressionEnabled,
	})
	final, err := n.Negotiate(ctx, first)
	if err != nil {
		return classifyNegotiateErr(err)
	}

	mechanisms, err := negotiate.Mechanisms(final)
	if err != nil {
		return &Error{Kind: ProtocolError, Cause: err}
	}

	creds := sasl.Credentials{
		Username: e.cfg.identity(),
		Password: e.cfg.Password,
		Identity: e.cfg.Identity,
		Host:     e.negotiatedService,
	}
	if _, err := sasl.Authenticate(ctx, t, r, e.cfg.registry(), creds, mechanisms); err != nil {
		return classifyAuthErr(err)
	}

	// Spec §4.6: a stream reset after SASL success, same byte stream.
	r.Reset(nil)
	if err := stream.OpenStream(t, to, e.cfg.Origin, "", e.cfg.Lang.String()); err != nil {
		return &Error{Kind: ProtocolError, Cause: err}
	}
	postAuthInfo, err := stream.ReadOpen(r)
	if err != nil {
		return &Error{Kind: ProtocolError, Cause: err}
	}
	postAuth, err := negotiate.ReadFeatures(r, postAuthInfo)
	if err != nil {
		return &Error{Kind: ProtocolError, Cause: err}
	}

	bindOffered, err := negotiate.BindOffered(postAuth)
	if err != nil {
		return &Error{Kind: ProtocolError, Cause: err}
	}
	if !bindOffered {
		return &Error{Kind: BindNotOffered}
	}
	boundJID, err := sasl.Bind(ctx, t, r, e.cfg.Resource)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &Error{Kind: AuthTimeout, Cause: err}
		}
		return &Error{Kind: ProtocolError, Cause: err}
	}
	e.negotiatedService = boundJID.String()

	sessionOffered, err := negotiate.SessionOffered(postAuth)
	if err != nil {
		return &Error{Kind: ProtocolError, Cause: err}
	}
	if sessionOffered {
		if err := sasl.EstablishSession(ctx, t, r, e.cfg.replyTimeout()); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return &Error{Kind: AuthTimeout, Cause: err}
			}
			return &Error{Kind: ProtocolError, Cause: err}
		}
	}

	e.mu.Lock()
	e.r = r
	e.mailbox = transport.NewMailbox()
	e.mu.Unlock()
	return nil
}

func classifyNegotiateErr(err error) error {
	switch {
	case errors.Is(err, negotiate.ErrSecurityRequired):
		return &Error{Kind: SecurityRequired, Cause: err}
	case errors.Is(err, negotiate.ErrSecurityForbidden):
		return &Error{Kind: SecurityForbidden, Cause: err}
	case errors.Is(err, negotiate.ErrTLSFailure):
		return &Error{Kind: TLSHandshakeFailed, Cause: err}
	default:
		return &Error{Kind: ProtocolError, Cause: err}
	}
}

func classifyAuthErr(err error) error {
	var sf sasl.ServerFailure
	switch {
	case errors.As(err, &sf):
		return &Error{Kind: AuthFailed, Condition: sf.Condition, Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: AuthTimeout, Cause: err}
	case errors.Is(err, sasl.ErrNoSharedMechanism), errors.Is(err, sasl.ErrAllMechanismsUnsupported):
		return &Error{Kind: NoSharedAuthMechanism, Cause: err}
	default:
		return &Error{Kind: ProtocolError, Cause: err}
	}
}

// startReader launches the single reader goroutine that owns e.r for the
// lifetime of the connection, feeding each top-level element (or the
// terminal error) into the mailbox.
func (e *Engine) startReader() {
	e.mu.Lock()
	r, mailbox, t := e.r, e.mailbox, e.t
	e.readerDone = make(chan struct{})
	done := e.readerDone
	e.mu.Unlock()

	go func() {
		defer close(done)
		for {
			start, err := r.NextTopLevelElement()
			if err != nil {
				mailbox.Send(transport.Delivery{Err: err})
				mailbox.Close()
				_ = t.ForceClose()
				return
			}
			elem, err := r.ReadElement(start)
			if err != nil {
				mailbox.Send(transport.Delivery{Err: err})
				mailbox.Close()
				_ = t.ForceClose()
				return
			}
			if !mailbox.Send(transport.Delivery{Element: elem}) {
				return
			}
		}
	}()
}

func (e *Engine) startKeepalive() {
	if e.cfg.KeepaliveInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.keepaliveCancel = cancel
	t := e.t
	e.mu.Unlock()
	k := transport.NewKeepalive(t, e.cfg.KeepaliveInterval)
	go k.Run(ctx)
}

// SetPacketCallbacks registers callbacks for the steady-state dispatch
// loop and starts it. Per spec §6, once this is called either a received
// element or a terminal error is guaranteed to be delivered via onPacket
// or onError shortly after, since the reader (and possibly the mailbox)
// may already hold a pending delivery from before this call.
// onRecoverableError is reserved for a non-terminating decode failure on
// an individual element; this engine's element materialization
// (stream.Reader.ReadElement) has no such failure mode of its own — every
// read error it can produce ends the stream — so it is never invoked by
// this implementation, but is part of the signature for forward
// compatibility with callers built against the full upward interface.
func (e *Engine) SetPacketCallbacks(onPacket func(*stream.Element), onError func(error), onRecoverableError func(error)) {
	e.mu.Lock()
	e.onPacket, e.onError, e.onRecoverableError = onPacket, onError, onRecoverableError
	if e.dispatchStarted {
		e.mu.Unlock()
		return
	}
	e.dispatchStarted = true
	mailbox := e.mailbox
	e.mu.Unlock()

	go e.dispatchLoop(mailbox)
}

func (e *Engine) dispatchLoop(mailbox *transport.Mailbox) {
	for {
		d, ok := mailbox.Receive()
		if !ok {
			e.mu.Lock()
			onErr := e.onError
			e.mu.Unlock()
			if onErr != nil {
				onErr(&Error{Kind: StreamTerminated})
			}
			return
		}
		e.mu.Lock()
		onPacket, onErr := e.onPacket, e.onError
		e.mu.Unlock()
		if d.Err != nil {
			if onErr != nil {
				onErr(classifyReadErr(d.Err))
			}
			return
		}
		if onPacket != nil {
			onPacket(d.Element)
		}
	}
}

func classifyReadErr(err error) error {
	var se stream.Error
	if errors.As(err, &se) {
		return &Error{Kind: ProtocolError, Cause: err}
	}
	return &Error{Kind: StreamTerminated, Cause: err}
}

// WritePacket writes data (a complete, already-serialized XML fragment)
// through the current writer layer. It returns NotConnected if the
// transport has already been closed.
func (e *Engine) WritePacket(data string) error {
	e.mu.Lock()
	t := e.t
	e.mu.Unlock()
	if t == nil || t.Closed() {
		return &Error{Kind: NotConnected}
	}
	if _, err := fmt.Fprint(t, data); err != nil {
		return &Error{Kind: NotConnected, Cause: err}
	}
	return nil
}

// GracefulDisconnect writes finalPayload (which may be empty) followed by
// the closing </stream:stream> tag, then force-closes. Per spec §7,
// graceful close never raises on its own account: if the write fails it
// falls straight through to ForceDisconnect's idempotent close.
func (e *Engine) GracefulDisconnect(finalPayload string) error {
	e.mu.Lock()
	t := e.t
	e.mu.Unlock()
	if t != nil && !t.Closed() {
		if finalPayload != "" {
			_, _ = fmt.Fprint(t, finalPayload)
		}
		_ = stream.CloseStream(t)
	}
	return e.ForceDisconnect()
}

// ForceDisconnect idempotently closes the transport, unblocking the
// reader goroutine and any blocked write. Safe to call from any
// goroutine, including the reader's own, any number of times.
func (e *Engine) ForceDisconnect() error {
	e.mu.Lock()
	t, mailbox, cancel := e.t, e.mailbox, e.keepaliveCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if mailbox != nil {
		mailbox.Close()
	}
	if t == nil {
		return nil
	}
	return t.ForceClose()
}

// StreamReset forces a C2 stream reset over the existing byte stream,
// without re-running negotiation or authentication. It is exposed for
// callers implementing their own post-connect renegotiation (e.g. in
// response to an out-of-band policy change); the engine's own
// negotiate/sasl flow performs its resets internally and never needs
// this method.
func (e *Engine) StreamReset(ctx context.Context) error {
	e.mu.Lock()
	t, r := e.t, e.r
	e.mu.Unlock()
	if t == nil || r == nil {
		return &Error{Kind: NotConnected}
	}
	to := e.cfg.Origin.Domain()
	r.Reset(nil)
	if err := stream.OpenStream(t, to, e.cfg.Origin, "", e.cfg.Lang.String()); err != nil {
		return &Error{Kind: ProtocolError, Cause: err}
	}
	info, err := stream.ReadOpen(r)
	if err != nil {
		return &Error{Kind: ProtocolError, Cause: err}
	}
	e.connectionID = info.ID
	return nil
}

// GetConnectionID returns the id attribute of the first stream open
// InitializeConnection received (the post-TLS, post-compression and
// post-auth stream opens do not change it), or of the stream opened by
// the latest StreamReset call; "" if no stream has been opened yet.
func (e *Engine) GetConnectionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectionID
}

// IsSecure reports whether the connection is currently running over TLS.
func (e *Engine) IsSecure() bool {
	e.mu.Lock()
	t := e.t
	e.mu.Unlock()
	return t != nil && t.IsSecure()
}

// IsCompressed reports whether zlib stream compression is active.
func (e *Engine) IsCompressed() bool {
	e.mu.Lock()
	t := e.t
	e.mu.Unlock()
	return t != nil && t.IsCompressed()
}

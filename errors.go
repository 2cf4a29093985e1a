// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppstream

import "fmt"

// Kind identifies one of the error conditions this engine raises at its
// boundary (spec §7). Unlike stream.Error and stanza.Error, which carry a
// wire condition string straight off an RFC 6120/stanza <error/>, Kind
// values are purely local: they classify what the engine itself decided to
// do (time out, give up on negotiation, refuse to write after close), not
// something the peer told it.
type Kind int

const (
	// NotConnected is returned by WritePacket after the engine has closed.
	NotConnected Kind = iota
	// RemoteServerNotFound means GetConnectData could not resolve any
	// connect data, or InitializeConnection could not dial the candidate it
	// was given.
	RemoteServerNotFound
	// SecurityRequired means TLS was required by configuration but the
	// server did not offer STARTTLS or no TLSConfig was set. A failed
	// handshake or certificate verification is TLSHandshakeFailed instead.
	SecurityRequired
	// SecurityForbidden means the server demanded TLS but the configuration
	// disabled it.
	SecurityForbidden
	// TLSHandshakeFailed means the server sent <failure/> in the STARTTLS
	// namespace, or the handshake itself errored.
	TLSHandshakeFailed
	// CompressionFailed means the server sent <failure/> in the compression
	// namespace. The negotiator absorbs this internally and continues
	// without zlib, so the engine itself never returns this Kind.
	CompressionFailed
	// AuthFailed means the server sent <failure/> in the SASL namespace.
	AuthFailed
	// AuthTimeout means the mechanism challenge loop, bind, or session
	// establishment exceeded its deadline.
	AuthTimeout
	// NoSharedAuthMechanism means the registry's preference list had no
	// overlap with the server's advertised mechanisms.
	NoSharedAuthMechanism
	// BindNotOffered means the post-auth features never advertised resource
	// binding.
	BindNotOffered
	// SessionNotOffered means the post-auth features never advertised
	// legacy session establishment. The engine sends the session request
	// only when it is advertised and skips it otherwise, so the engine
	// itself never returns this Kind.
	SessionNotOffered
	// StreamTerminated means the parser reached end-of-document or an outer
	// stream close with no other error pending.
	StreamTerminated
	// ProtocolError means malformed XML, an unexpected element at the
	// stream root, or a bad version string.
	ProtocolError
)

func (k Kind) String() string {
	switch k {
	case NotConnected:
		return "not-connected"
	case RemoteServerNotFound:
		return "remote-server-not-found"
	case SecurityRequired:
		return "security-required"
	case SecurityForbidden:
		return "security-forbidden"
	case TLSHandshakeFailed:
		return "tls-handshake-failed"
	case CompressionFailed:
		return "compression-failed"
	case AuthFailed:
		return "auth-failed"
	case AuthTimeout:
		return "auth-timeout"
	case NoSharedAuthMechanism:
		return "no-shared-auth-mechanism"
	case BindNotOffered:
		return "bind-not-offered"
	case SessionNotOffered:
		return "session-not-offered"
	case StreamTerminated:
		return "stream-terminated"
	case ProtocolError:
		return "protocol-error"
	default:
		return "unknown"
	}
}

// Error is the engine's boundary error type: a Kind plus, where the kind
// was derived from some lower-level failure (a dial error, a handshake
// error, a server-reported SASL condition), the Cause that produced it.
// Condition carries the raw wire condition string for AuthFailed, since
// spec §7 calls that out specifically ("AuthFailed(condition?)").
type Error struct {
	Kind      Kind
	Condition string
	Cause     error
}

func (e *Error) Error() string {
	switch {
	case e.Condition != "":
		return fmt.Sprintf("xmppstream: %s: %s", e.Kind, e.Condition)
	case e.Cause != nil:
		return fmt.Sprintf("xmppstream: %s: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("xmppstream: %s", e.Kind)
	}
}

// Unwrap lets errors.Is/errors.As see through to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, &xmppstream.Error{Kind: xmppstream.AuthTimeout})
// without caring about Cause or Condition.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

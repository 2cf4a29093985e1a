// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppstream

import (
	"context"
	"crypto/tls"
	"io"
	"time"

	"golang.org/x/text/language"

	"xmppstream/discover"
	"xmppstream/jid"
	"xmppstream/negotiate"
	"xmppstream/sasl"
)

// SecurityMode is an alias for negotiate.SecurityMode, re-exported here so
// callers configuring an Engine don't need to import the negotiate package
// directly for this one type. Its three values
// (negotiate.SecurityRequired/SecurityEnabled/SecurityDisabled) are used
// directly rather than re-aliased under these names, since
// xmppstream.SecurityRequired/SecurityForbidden already name Error Kinds.
type SecurityMode = negotiate.SecurityMode

// Config is the immutable-after-open connection configuration spec §3
// calls ConnectionConfig. In the zero value, connect data comes from an
// SRV lookup on Origin's domain, Security is SecurityRequired with a nil
// TLSConfig (so negotiation fails with SecurityRequired whether or not
// the server offers STARTTLS), and compression is off.
type Config struct {
	// Origin is the user's JID (localpart@domain), used both to derive the
	// logical service name negotiated on the wire and, together with
	// Password, as the default SASL credentials.
	Origin jid.JID

	// Host and Port override service discovery entirely when Host is
	// non-empty; GetConnectData then returns this single candidate instead
	// of consulting Resolver.
	Host string
	Port uint16

	// Resolver looks up connect-data candidates for Origin's domain when
	// Host is empty. The zero value uses default SRV lookup behavior; see
	// discover.Resolver.
	Resolver discover.Resolver

	// Security selects the STARTTLS posture. The zero value is
	// SecurityRequired.
	Security SecurityMode
	// TLSConfig is cloned and used for the STARTTLS handshake; a nil
	// TLSConfig is treated as "no SSL context can be built" per spec
	// §4.4's STARTTLS precondition, which makes SecurityRequired fail
	// immediately rather than attempt a handshake with no config at all.
	TLSConfig *tls.Config

	// CompressionEnabled opts into zlib stream compression when offered.
	CompressionEnabled bool

	// Identity is the SASL authorization identity; left blank, the
	// localpart of Origin is used, matching the teacher's Config.Identity.
	Identity string
	// Password authenticates Origin (or Identity, if set).
	Password string
	// Mechanisms is consulted instead of sasl.NewDefaultRegistry when
	// non-nil, letting a caller restrict or reorder the mechanism
	// preference list.
	Mechanisms *sasl.Registry
	// Resource requests a specific resourcepart during binding; the
	// server assigns one if this is empty.
	Resource string

	// Lang sets the stream's xml:lang attribute.
	Lang language.Tag

	// ReplyTimeout bounds the session IQ round trip; resource binding
	// always waits sasl.BindTimeout. The zero value uses sasl.BindTimeout.
	ReplyTimeout time.Duration
	// KeepaliveInterval sets the C5 whitespace-ping interval; zero
	// disables the keepalive entirely.
	KeepaliveInterval time.Duration

	// TeeIn and TeeOut, if non-nil, receive a copy of every byte read from
	// or written to the wire, for building an XML console. As with the
	// teacher's identical StreamConfig fields, this bypasses TLS and
	// should never be wired to anything that retains the trace past a
	// debugging session.
	TeeIn, TeeOut io.Writer
}

func (c Config) identity() string {
	if c.Identity != "" {
		return c.Identity
	}
	return c.Origin.Localpart()
}

func (c Config) replyTimeout() time.Duration {
	if c.ReplyTimeout > 0 {
		return c.ReplyTimeout
	}
	return sasl.BindTimeout
}

func (c Config) registry() *sasl.Registry {
	if c.Mechanisms != nil {
		return c.Mechanisms
	}
	return sasl.NewDefaultRegistry()
}

// dialTimeout bounds GetConnectData's DNS lookups and dial attempts when
// ctx carries no deadline of its own.
const dialTimeout = 30 * time.Second

func withDialTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dialTimeout)
}

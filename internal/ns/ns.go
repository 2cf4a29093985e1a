// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants used by the stream engine and its
// subpackages.
package ns

// List of commonly used namespaces.
const (
	Bind      = "urn:ietf:params:xml:ns:xmpp-bind"
	SASL      = "urn:ietf:params:xml:ns:xmpp-sasl"
	StartTLS  = "urn:ietf:params:xml:ns:xmpp-tls"
	XML       = "http://www.w3.org/XML/1998/namespace"
	Stream    = "http://etherx.jabber.org/streams"
	Streams   = "urn:ietf:params:xml:ns:xmpp-streams"
	Client    = "jabber:client"
	Server    = "jabber:server"
	Session   = "urn:ietf:params:xml:ns:xmpp-session"
	Compress  = "http://jabber.org/features/compress"
	Compressp = "http://jabber.org/protocol/compress"
	Stanza    = "urn:ietf:params:xml:ns:xmpp-stanzas"
)

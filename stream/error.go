// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"
	"io"
	"net"

	"mellium.im/xmlstream"
	"xmppstream/internal/ns"
)

// Stream-level error conditions defined in RFC 6120 §4.9.3. A peer that
// sends any of these closes the stream immediately afterward.
var (
	BadFormat              = Error{Err: "bad-format"}
	BadNamespacePrefix     = Error{Err: "bad-namespace-prefix"}
	Conflict               = Error{Err: "conflict"}
	ConnectionTimeout      = Error{Err: "connection-timeout"}
	HostGone               = Error{Err: "host-gone"}
	HostUnknown            = Error{Err: "host-unknown"}
	ImproperAddressing     = Error{Err: "improper-addressing"}
	InternalServerError    = Error{Err: "internal-server-error"}
	InvalidFrom            = Error{Err: "invalid-from"}
	InvalidNamespace       = Error{Err: "invalid-namespace"}
	InvalidXML             = Error{Err: "invalid-xml"}
	NotAuthorized          = Error{Err: "not-authorized"}
	NotWellFormed          = Error{Err: "not-well-formed"}
	PolicyViolation        = Error{Err: "policy-violation"}
	RemoteConnectionFailed = Error{Err: "remote-connection-failed"}
	Reset                  = Error{Err: "reset"}
	ResourceConstraint     = Error{Err: "resource-constraint"}
	RestrictedXML          = Error{Err: "restricted-xml"}
	SystemShutdown         = Error{Err: "system-shutdown"}
	UndefinedCondition     = Error{Err: "undefined-condition"}
	UnsupportedEncoding    = Error{Err: "unsupported-encoding"}
	UnsupportedFeature     = Error{Err: "unsupported-feature"}
	UnsupportedStanzaType  = Error{Err: "unsupported-stanza-type"}
	UnsupportedVersion     = Error{Err: "unsupported-version"}
)

// SeeOtherHostError builds a see-other-host error pointing at addr,
// bracketing the address if it looks like a literal IPv6 address.
func SeeOtherHostError(addr net.Addr) Error {
	cdata := addr.String()
	if ip := net.ParseIP(cdata); ip != nil && ip.To4() == nil && ip.To16() != nil {
		cdata = "[" + cdata + "]"
	}
	return Error{
		Err: "see-other-host",
		innerXML: xmlstream.ReaderFunc(func() (xml.Token, error) {
			return xml.CharData(cdata), io.EOF
		}),
	}
}

// Error is an unrecoverable, stream-level error. Receiving one (or having
// the negotiator synthesize one for a locally detected protocol
// violation) always terminates the stream.
type Error struct {
	Err string

	innerXML xmlstream.TokenReader
}

// Error implements the error interface, returning the wire condition name.
func (e Error) Error() string {
	return e.Err
}

// UnmarshalXML implements xml.Unmarshaler.
func (e *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	se := struct {
		XMLName xml.Name
		Err     struct {
			XMLName  xml.Name
			InnerXML []byte `xml:",innerxml"`
		} `xml:",any"`
	}{}
	if err := d.DecodeElement(&se, &start); err != nil {
		return err
	}
	e.Err = se.Err.XMLName.Local
	return nil
}

// TokenReader returns a token stream encoding the error as a
// <stream:error> element.
func (e Error) TokenReader() xmlstream.TokenReader {
	inner := xmlstream.Wrap(e.innerXML, xml.StartElement{Name: xml.Name{Local: e.Err, Space: ns.Streams}})
	return xmlstream.Wrap(inner, xml.StartElement{Name: xml.Name{Local: "error", Space: ns.Stream}})
}

// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"xmppstream/internal/ns"
)

// Error is the <error/> payload of an <iq type='error'> reply.
// sasl.Bind and sasl.EstablishSession are the only two call sites that
// ever decode one, and both only need the condition (the wire child
// element name, e.g. bad-request) and an optional human-readable
// <text/>; neither reads the error type attribute, the "by" actor, or
// the <text/> language, so this carries nothing beyond what they reach.
type Error struct {
	Condition string
	Text      string
}

// Error satisfies the error interface, returning the text if the server
// sent one, the bare condition name otherwise.
func (se Error) Error() string {
	if se.Text != "" {
		return se.Text
	}
	return se.Condition
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for Error. The
// condition is read verbatim from whichever child element the server
// sent rather than validated against the RFC 6120 §8.3.3 list, so an
// unrecognized or future condition still surfaces as readable text
// instead of being silently dropped.
func (se *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Condition struct {
			XMLName xml.Name
		} `xml:",any"`
		Text []struct {
			Data string `xml:",chardata"`
		} `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	if decoded.Condition.XMLName.Space == ns.Stanza {
		se.Condition = decoded.Condition.XMLName.Local
	}
	if len(decoded.Text) > 0 {
		se.Text = decoded.Text[0].Data
	}
	return nil
}

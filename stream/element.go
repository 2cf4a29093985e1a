// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"
	"io"

	"mellium.im/xmlstream"
)

// Element is a minimal, fully materialized XML tree: just enough
// structure to inspect a <stream:features/> child or a SASL challenge
// without building a full DOM. Inner holds the element's children as an
// immutable token slice rather than a single-pass stream, precisely so
// that negotiation (which inspects a <stream:features/> element once to
// drive the state machine and again, later, to read off the mechanism
// list) and a mailbox handoff to another goroutine can both read it
// without stepping on each other. Callers that need more than the name
// and raw attributes decode the element's token stream via Children.
type Element struct {
	Name  xml.Name
	Attr  []xml.Attr
	Inner tokenBuffer
}

// Children returns a fresh, independent token reader over e's captured
// children. Unlike a single-pass xml.TokenReader, calling Children more
// than once replays the same content each time: Element is meant to be
// inspected repeatedly (once by the negotiator, once by the SASL driver
// reading the same <stream:features/> for its mechanism list).
func (e Element) Children() xml.TokenReader {
	cur := make(tokenBuffer, len(e.Inner))
	copy(cur, e.Inner)
	return &cur
}

// TokenReader returns a stream that replays the element, start tag
// through end tag, once.
func (e Element) TokenReader() xmlstream.TokenReader {
	return xmlstream.Wrap(e.Children(), xml.StartElement{Name: e.Name, Attr: e.Attr})
}

// tokenBuffer is a slice of captured XML tokens that can pop tokens off
// its own front to act as a single-pass xml.TokenReader (see Children),
// and that Reader.ReadElement fills in directly as the immutable backing
// store for Element.Inner.
type tokenBuffer []xml.Token

func (b *tokenBuffer) Token() (xml.Token, error) {
	if len(*b) == 0 {
		return nil, io.EOF
	}
	var t xml.Token
	t, *b = (*b)[0], (*b)[1:]
	return t, nil
}

// Features is the result of reading a stream's feature advertisement.
// Real holds the actual <stream:features/> element when the peer speaks
// XMPP 1.0 or later; Legacy is set instead of Real when the peer's
// stream header carries no version attribute or one below 1.0, since
// pre-1.0 servers never send a features element at all (spec's
// REDESIGN: a sum type here rather than fabricating XML that was never
// on the wire). The negotiator returns a Legacy value unchanged, without
// attempting STARTTLS or compression.
type Features struct {
	Real   *Element
	Legacy bool
}

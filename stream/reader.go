// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
)

// Errors returned while pumping tokens at the stream level.
var (
	ErrUnexpectedRestart = errors.New("stream: unexpected stream restart")
	ErrUnexpectedChars   = errors.New("stream: unexpected character data at stream level")
)

// Reader pulls top-level (stanza- or feature-sized) elements off an
// already-open stream, tracking nesting depth so it can tell a
// top-level element boundary from an element nested inside one. The
// caller must consume the <stream:stream> opening tag itself (via
// Decoder().Token(), see InfoFromStartElement) before the first call to
// NextTopLevelElement; everything NextTopLevelElement returns is a
// direct child of that open stream.
//
// Exactly one call to NextTopLevelElement may be outstanding at a time;
// the caller (the transport's single reader goroutine) is responsible
// for that invariant, Reader does not synchronize internally.
type Reader struct {
	d     *xml.Decoder
	depth int
}

// NewReader wraps an io.Reader with a stream-level token reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{d: xml.NewDecoder(r)}
}

// Decoder returns the underlying xml.Decoder, for use decoding a
// specific element once NextTopLevelElement has returned its start tag.
func (r *Reader) Decoder() *xml.Decoder { return r.d }

// Reset prepares r to read a freshly (re)started stream: depth returns
// to zero so the next NextTopLevelElement call expects a <stream:stream>
// open tag rather than a top-level child. If newSrc is non-nil the byte
// stream itself changed underneath the caller (a TLS handshake or
// compression codec was just installed) and the decoder is rebuilt over
// it; any bytes the old decoder had buffered but not yet tokenized are
// discarded along with it, which is safe here because both STARTTLS and
// stream compression pause the peer until the new layer's handshake (TLS
// ClientHello, the zlib header) completes. If newSrc is nil the same
// decoder keeps reading the same byte stream — the SASL-driven restart,
// which never sends a closing </stream:stream> before the new one, so
// there is nothing to discard. Reset is always safe to call.
func (r *Reader) Reset(newSrc io.Reader) {
	if newSrc != nil {
		r.d = xml.NewDecoder(newSrc)
	}
	r.depth = 0
}

// NextTopLevelElement reads tokens until it reaches the start tag of the
// next top-level child element of the stream and returns that start tag;
// the caller then consumes the element (DecodeElement, Skip or
// ReadElement). The stream's own closing tag returns io.EOF. Whitespace-only character data at depth 0 is discarded (and, if
// it arrives with no intervening element, reported to the keepalive
// logic as an activity signal by the transport, not by Reader itself).
// Non-whitespace character data at depth 0, stray end tags, comments,
// and processing instructions are all stream-level protocol violations.
func (r *Reader) NextTopLevelElement() (xml.StartElement, error) {
	for {
		tok, err := r.d.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			r.depth++
			if r.depth == 1 {
				return t, nil
			}
		case xml.EndElement:
			if r.depth == 0 && t.Name.Local == "stream" && t.Name.Space == "http://etherx.jabber.org/streams" {
				return xml.StartElement{}, io.EOF
			}
			r.depth--
			if r.depth < 0 {
				return xml.StartElement{}, Error{Err: "not-well-formed"}
			}
		case xml.CharData:
			if r.depth == 0 && len(bytes.TrimLeft(t, " \t\r\n")) != 0 {
				return xml.StartElement{}, ErrUnexpectedChars
			}
		case xml.Comment, xml.ProcInst, xml.Directive:
			if r.depth == 0 {
				return xml.StartElement{}, RestrictedXML
			}
		}
	}
}

// DecodeElement fully decodes the element whose start tag was just
// returned by NextTopLevelElement into v, using the standard
// encoding/xml decoding rules, and restores the depth counter afterward
// so the next call to NextTopLevelElement sees a consistent top level.
func (r *Reader) DecodeElement(v interface{}, start xml.StartElement) error {
	if err := r.d.DecodeElement(v, &start); err != nil {
		return err
	}
	r.depth--
	return nil
}

// Skip discards the remainder of the element whose start tag was just
// returned by NextTopLevelElement.
func (r *Reader) Skip() error {
	depth := 1
	for depth > 0 {
		tok, err := r.d.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	r.depth--
	return nil
}

// ReadElement fully materializes the element whose start tag was just
// returned by NextTopLevelElement into a standalone Element: every token
// up to and including the matching end tag is copied into an in-memory
// buffer rather than replayed lazily off the decoder. This is what lets
// the transport's reader goroutine hand an Element across the mailbox to
// a consumer on another goroutine — by the time Send returns, the
// decoder has already moved past the element, so the reader is free to
// call NextTopLevelElement again regardless of when the consumer gets
// around to inspecting what it was handed.
func (r *Reader) ReadElement(start xml.StartElement) (*Element, error) {
	var buf tokenBuffer
	depth := 1
	for depth > 0 {
		tok, err := r.d.Token()
		if err != nil {
			return nil, err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
		if depth > 0 {
			buf = append(buf, xml.CopyToken(tok))
		}
	}
	r.depth--
	return &Element{Name: start.Name, Attr: start.Attr, Inner: buf}, nil
}

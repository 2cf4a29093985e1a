// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"xmppstream/internal/ns"
	"xmppstream/jid"
)

const xmlHeader = `<?xml version='1.0'?>`

// Info holds the attributes of a received <stream:stream> header.
type Info struct {
	To      jid.JID
	From    jid.JID
	ID      string
	Version Version
	Lang    string
	XMLNS   string
}

// OpenStream writes an XML declaration followed by an opening
// <stream:stream> tag to w. The stream header is written with a literal
// Fprintf rather than an xml.Encoder: encoding/xml has no way to emit
// the stream:stream element's self-referential namespace prefix, and a
// print is both simpler and guaranteed well-formed for this one element.
// from is omitted entirely when it is the zero JID, matching spec's
// client-initiated stream open (the client has no confirmed identity to
// declare until after SASL binds one).
func OpenStream(w io.Writer, to, from jid.JID, id string, lang string) error {
	bw := bufio.NewWriter(w)
	if _, err := io.WriteString(bw, xmlHeader); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, `<stream:stream to='%s'`, xmlEscapeAttr(to.String())); err != nil {
		return err
	}
	if from != (jid.JID{}) {
		if _, err := fmt.Fprintf(bw, ` from='%s'`, xmlEscapeAttr(from.String())); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(bw, ` version='%s'`, DefaultVersion); err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(bw, ` id='%s'`, xmlEscapeAttr(id)); err != nil {
			return err
		}
	}
	if lang != "" {
		if _, err := bw.WriteString(" xml:lang='"); err != nil {
			return err
		}
		if err := xml.EscapeText(bw, []byte(lang)); err != nil {
			return err
		}
		if _, err := bw.WriteString("'"); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(bw, ` xmlns='%s' xmlns:stream='%s'>`, ns.Client, ns.Stream); err != nil {
		return err
	}
	return bw.Flush()
}

// CloseStream writes the closing </stream:stream> tag.
func CloseStream(w io.Writer) error {
	_, err := io.WriteString(w, "</stream:stream>")
	return err
}

func xmlEscapeAttr(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// ExpectOpen reads and validates a <stream:stream> header from r,
// skipping a leading XML declaration if present, and returns a Reader
// positioned to read the stream's top-level children along with the
// header's Info. It is the receiving-side counterpart to OpenStream,
// used the first time a byte stream is opened. A negotiator performing a
// mid-stream restart (after STARTTLS, compression, or SASL success)
// already owns a Reader and calls Reset followed by ReadOpen directly
// instead of constructing a new one.
func ExpectOpen(r io.Reader) (*Reader, Info, error) {
	sr := NewReader(r)
	info, err := ReadOpen(sr)
	return sr, info, err
}

// ReadOpen reads and validates a <stream:stream> header off r, skipping
// a leading XML declaration if present. Unlike ExpectOpen it operates on
// an existing Reader, so it is the operation a stream reset performs
// once the reader's depth has been zeroed by Reset: the negotiator
// writes a new stream header with OpenStream and then reads the peer's
// matching one back with ReadOpen.
func ReadOpen(sr *Reader) (Info, error) {
	started := false
	for {
		tok, err := sr.d.Token()
		if err != nil {
			return Info{}, err
		}
		if proc, ok := tok.(xml.ProcInst); ok && !started && proc.Target == "xml" {
			started = true
			continue
		}
		started = true
		start, ok := tok.(xml.StartElement)
		if !ok {
			return Info{}, NotWellFormed
		}
		if start.Name.Local != "stream" || start.Name.Space != ns.Stream {
			return Info{}, InvalidNamespace
		}
		info, err := InfoFromStartElement(start)
		if err != nil {
			return info, err
		}
		return info, nil
	}
}

// InfoFromStartElement extracts stream Info from a <stream:stream> start
// token. It does not validate the namespace; callers that need strict
// namespace checking (the reader, on the receiving side) do that
// themselves before calling this.
func InfoFromStartElement(start xml.StartElement) (Info, error) {
	var info Info
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "to":
			if err := (&info.To).UnmarshalXMLAttr(a); err != nil {
				return info, ImproperAddressing
			}
		case "from":
			if err := (&info.From).UnmarshalXMLAttr(a); err != nil {
				return info, ImproperAddressing
			}
		case "id":
			info.ID = a.Value
		case "version":
			if err := (&info.Version).UnmarshalXMLAttr(a); err != nil {
				return info, BadFormat
			}
		case "lang":
			if a.Name.Space == ns.XML {
				info.Lang = a.Value
			}
		case "xmlns":
			info.XMLNS = a.Value
		}
	}
	return info, nil
}

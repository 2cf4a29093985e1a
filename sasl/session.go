// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"xmppstream/internal/attr"
	"xmppstream/internal/marshal"
	"xmppstream/internal/ns"
	"xmppstream/stanza"
	"xmppstream/stream"
)

// sessionRequest is the (empty) body of the legacy (pre-RFC 6121)
// session establishment request, still sent by some deployed servers
// that advertise <session/> in their post-bind <features/>.
type sessionRequest struct{}

// EstablishSession sends the legacy session-establishment IQ and waits up
// to timeout for its reply. The caller supplies the configured IQ
// reply-timeout explicitly; this package picks no default.
func EstablishSession(ctx context.Context, w Writer, r *stream.Reader, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqID := attr.RandomID()
	v := struct {
		Session sessionRequest `xml:"urn:ietf:params:xml:ns:xmpp-session session"`
	}{}
	reqStart := xml.StartElement{
		Name: xml.Name{Space: ns.Client, Local: "iq"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "id"}, Value: reqID},
			{Name: xml.Name{Local: "type"}, Value: "set"},
		},
	}
	if err := marshal.EncodeXMLElement(xml.NewEncoder(w), v, reqStart); err != nil {
		return err
	}

	clearDeadline := armReadDeadline(ctx, w)
	defer clearDeadline()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		start, err := r.NextTopLevelElement()
		if err != nil {
			return err
		}
		if start.Name != (xml.Name{Space: ns.Client, Local: "iq"}) {
			if err := r.Skip(); err != nil {
				return err
			}
			continue
		}
		resp := struct {
			stanza.IQ
			Err stanza.Error `xml:"error"`
		}{}
		if err := r.DecodeElement(&resp, start); err != nil {
			return err
		}
		if resp.ID != reqID {
			continue
		}
		switch resp.Type {
		case stanza.ResultIQ:
			return nil
		case stanza.ErrorIQ:
			return resp.Err
		default:
			return fmt.Errorf("sasl: unexpected session reply type %q", resp.Type)
		}
	}
}

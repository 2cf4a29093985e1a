// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"xmppstream/internal/attr"
	"xmppstream/internal/marshal"
	"xmppstream/internal/ns"
	"xmppstream/jid"
	"xmppstream/stanza"
	"xmppstream/stream"
)

// bindRequest is the body of a resource-binding IQ: an empty Resource
// means "let the server generate one" (the field is dropped from the
// wire entirely by its omitempty tag), a non-empty one requests it by
// name.
type bindRequest struct {
	Resource string `xml:"resource,omitempty"`
}

// BindTimeout is the spec §4.6 default wait for resourceBound to latch.
const BindTimeout = 30 * time.Second

// ErrBindNotOffered describes a post-auth <features/> that never
// advertised <bind/>. Bind does not inspect the features and never
// returns it; checking negotiate.BindOffered first is up to the caller.
var ErrBindNotOffered = errors.New("sasl: server did not offer resource binding")

// Bind performs RFC 6120 §7 resource binding: it requests resource (or
// lets the server generate one, if resource is empty) and returns the
// full JID the server assigned.
func Bind(ctx context.Context, w Writer, r *stream.Reader, resource string) (jid.JID, error) {
	ctx, cancel := context.WithTimeout(ctx, BindTimeout)
	defer cancel()

	reqID := attr.RandomID()
	v := struct {
		Bind bindRequest `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	}{Bind: bindRequest{Resource: resource}}
	reqStart := xml.StartElement{
		Name: xml.Name{Space: ns.Client, Local: "iq"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "id"}, Value: reqID},
			{Name: xml.Name{Local: "type"}, Value: "set"},
		},
	}
	if err := marshal.EncodeXMLElement(xml.NewEncoder(w), v, reqStart); err != nil {
		return jid.JID{}, err
	}

	clearDeadline := armReadDeadline(ctx, w)
	defer clearDeadline()

	for {
		select {
		case <-ctx.Done():
			return jid.JID{}, ctx.Err()
		default:
		}
		start, err := r.NextTopLevelElement()
		if err != nil {
			return jid.JID{}, err
		}
		if start.Name != (xml.Name{Space: ns.Client, Local: "iq"}) {
			if err := r.Skip(); err != nil {
				return jid.JID{}, err
			}
			continue
		}
		resp := struct {
			stanza.IQ
			Bind struct {
				JID *jid.JID `xml:"jid"`
			} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
			Err stanza.Error `xml:"error"`
		}{}
		if err := r.DecodeElement(&resp, start); err != nil {
			return jid.JID{}, err
		}
		if resp.ID != reqID {
			continue
		}
		switch resp.Type {
		case stanza.ResultIQ:
			if resp.Bind.JID == nil {
				return jid.JID{}, errors.New("sasl: bind result missing jid")
			}
			return *resp.Bind.JID, nil
		case stanza.ErrorIQ:
			return jid.JID{}, resp.Err
		default:
			return jid.JID{}, fmt.Errorf("sasl: unexpected bind reply type %q", resp.Type)
		}
	}
}

// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements RFC 7622 XMPP addresses ("Jabber IDs").
package jid

import (
	"encoding/xml"
	"errors"
	"net"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/precis"
)

// JID is an XMPP address of the form [localpart@]domainpart[/resourcepart].
// A JID is immutable once constructed; methods that appear to modify a JID
// (Bare, WithResource) return a new value.
//
// Unlike the teacher this type is normalized (RFC 7622 §3.2/§3.3 case
// mapping and IDNA) has a single concrete representation; there is no
// unsafe/unnormalized variant, since nothing in this engine is on a path
// hot enough to need one.
type JID struct {
	localpart    string
	domainpart   string
	resourcepart string
}

// Parse splits s into its component parts (RFC 7622 §3.1) and normalizes
// each part, returning an error if any part is invalid.
func Parse(s string) (JID, error) {
	localpart, domainpart, resourcepart, err := splitString(s)
	if err != nil {
		return JID{}, err
	}
	return FromParts(localpart, domainpart, resourcepart)
}

// MustParse is like Parse but panics on error. It is intended for use in
// tests and package-level variable initialization.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return j
}

// FromParts constructs and normalizes a JID from its three components.
func FromParts(localpart, domainpart, resourcepart string) (JID, error) {
	if !utf8.ValidString(localpart) || !utf8.ValidString(resourcepart) {
		return JID{}, errors.New("jid: contains invalid UTF-8")
	}

	// RFC 7622 §3.2.1: domainpart must be converted to U-labels before any
	// further processing.
	domainpart, err := idna.ToUnicode(domainpart)
	if err != nil {
		return JID{}, err
	}
	if !utf8.ValidString(domainpart) {
		return JID{}, errors.New("jid: domainpart contains invalid UTF-8")
	}
	domainpart = strings.ToLower(domainpart)

	if localpart != "" {
		localpart, err = precis.UsernameCaseMapped.String(localpart)
		if err != nil {
			return JID{}, err
		}
	}
	if resourcepart != "" {
		resourcepart, err = precis.OpaqueString.String(resourcepart)
		if err != nil {
			return JID{}, err
		}
	}

	if err := commonChecks(localpart, domainpart, resourcepart); err != nil {
		return JID{}, err
	}

	return JID{
		localpart:    localpart,
		domainpart:   domainpart,
		resourcepart: resourcepart,
	}, nil
}

// splitString splits s into localpart, domainpart, and resourcepart
// without validating or normalizing them.
//
// RFC 7622 §3.1 Implementation Note: the separator characters '@' and '/'
// must be matched before any transformation algorithm runs, since those
// algorithms might otherwise decompose code points into separators.
func splitString(s string) (localpart, domainpart, resourcepart string, err error) {
	// §3.2 step 1: strip from the first '/' to the end.
	parts := strings.SplitAfterN(s, "/", 2)

	if strings.HasSuffix(parts[0], "/") {
		if len(parts) == 2 && parts[1] != "" {
			resourcepart = parts[1]
		} else {
			return "", "", "", errors.New("jid: resourcepart must be larger than 0 bytes")
		}
	}

	norp := strings.TrimSuffix(parts[0], "/")

	// §3.2 step 2: strip from the start to the first '@'.
	nolp := strings.SplitAfterN(norp, "@", 2)
	if nolp[0] == "@" {
		return "", "", "", errors.New("jid: localpart must be larger than 0 bytes")
	}

	switch len(nolp) {
	case 1:
		domainpart = nolp[0]
	case 2:
		domainpart = nolp[1]
		localpart = strings.TrimSuffix(nolp[0], "@")
	}

	// A trailing dot on the domainpart is a DNS root-label separator and is
	// ignored for routing, comparison, and URI construction (RFC 7622 §3.2).
	domainpart = strings.TrimSuffix(domainpart, ".")

	return localpart, domainpart, resourcepart, nil
}

func commonChecks(localpart, domainpart, resourcepart string) error {
	if len(localpart) > 1023 {
		return errors.New("jid: localpart must be smaller than 1024 bytes")
	}
	// RFC 7622 §3.3.1: characters still forbidden even though the precis
	// profile alone would allow them.
	if strings.ContainsAny(localpart, "\"&'/:<>@") {
		return errors.New("jid: localpart contains forbidden characters")
	}
	if len(resourcepart) > 1023 {
		return errors.New("jid: resourcepart must be smaller than 1024 bytes")
	}
	if l := len(domainpart); l < 1 || l > 1023 {
		return errors.New("jid: domainpart must be between 1 and 1023 bytes")
	}
	return checkIP6String(domainpart)
}

func checkIP6String(domainpart string) error {
	if l := len(domainpart); l > 2 && strings.HasPrefix(domainpart, "[") && strings.HasSuffix(domainpart, "]") {
		if ip := net.ParseIP(domainpart[1 : l-1]); ip == nil || ip.To4() != nil {
			return errors.New("jid: domainpart is not a valid IPv6 address")
		}
	}
	return nil
}

// Localpart returns the localpart of the JID (e.g. "user"), or "" if none.
func (j JID) Localpart() string { return j.localpart }

// Domainpart returns the domainpart of the JID (e.g. "example.net").
func (j JID) Domainpart() string { return j.domainpart }

// Resourcepart returns the resourcepart of the JID, or "" if none.
func (j JID) Resourcepart() string { return j.resourcepart }

// Domain returns a JID containing only the domainpart.
func (j JID) Domain() JID { return JID{domainpart: j.domainpart} }

// Bare returns a copy of the JID with no resourcepart.
func (j JID) Bare() JID {
	return JID{localpart: j.localpart, domainpart: j.domainpart}
}

// WithResource returns a copy of the JID with the given resourcepart,
// which is normalized as if it had been passed to FromParts.
func (j JID) WithResource(resourcepart string) (JID, error) {
	return FromParts(j.localpart, j.domainpart, resourcepart)
}

// Equal reports whether j and j2 are octet-for-octet identical.
func (j JID) Equal(j2 JID) bool {
	return j.localpart == j2.localpart &&
		j.domainpart == j2.domainpart &&
		j.resourcepart == j2.resourcepart
}

// String returns the canonical string form of the JID.
func (j JID) String() string {
	s := j.domainpart
	if j.localpart != "" {
		s = j.localpart + "@" + s
	}
	if j.resourcepart != "" {
		s = s + "/" + j.resourcepart
	}
	return s
}

// MarshalXMLAttr implements xml.MarshalerAttr.
func (j JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr implements xml.UnmarshalerAttr.
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	parsed, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// MarshalXML implements xml.Marshaler, encoding the JID as element
// character data (used by the bind result's <jid> child, as opposed to
// the "to"/"from" attributes MarshalXMLAttr covers).
func (j JID) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.EncodeToken(xml.CharData(j.String())); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML implements xml.Unmarshaler, parsing an element's
// character data as a JID.
func (j *JID) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var s string
	if err := d.DecodeElement(&s, &start); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

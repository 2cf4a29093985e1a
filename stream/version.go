// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// MissingVersion is the encoded value of a version attribute that was
// absent from a stream header entirely, as opposed to Version{0, 0}
// which is a version that was present and parsed as "0.0".
const MissingVersion = 90

// Version is the value of a stream's version attribute, RFC 6120 §4.7.5.
type Version struct {
	Major   uint8
	Minor   uint8
	present bool
}

// DefaultVersion is the version this engine negotiates: XMPP 1.0.
var DefaultVersion = Version{Major: 1, Minor: 0, present: true}

// ParseVersion parses a "Major.Minor" string into a Version.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, nil
	}
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return Version{}, fmt.Errorf("stream: malformed version %q", s)
	}
	major, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return Version{}, fmt.Errorf("stream: malformed version %q: %w", s, err)
	}
	minor, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return Version{}, fmt.Errorf("stream: malformed version %q: %w", s, err)
	}
	return Version{Major: uint8(major), Minor: uint8(minor), present: true}, nil
}

// String returns the "Major.Minor" form, or "" if the version is absent.
func (v Version) String() string {
	if !v.present {
		return ""
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Encode returns the version as a single integer, 100*Major+Minor, or the
// MissingVersion sentinel if no version attribute was present at all.
// This is the comparison form feature negotiation uses to decide whether
// the peer speaks XMPP 1.0 or better.
func (v Version) Encode() int {
	if !v.present {
		return MissingVersion
	}
	return 100*int(v.Major) + int(v.Minor)
}

// MarshalXMLAttr implements xml.MarshalerAttr.
func (v Version) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if !v.present {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: v.String()}, nil
}

// UnmarshalXMLAttr implements xml.UnmarshalerAttr.
func (v *Version) UnmarshalXMLAttr(attr xml.Attr) error {
	parsed, err := ParseVersion(attr.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"crypto/hmac"
	"crypto/md5"
	"errors"
	"fmt"
)

// cramMD5Driver implements SASL CRAM-MD5 (RFC 2195): the server sends a
// single challenge (typically containing a timestamp and its hostname),
// and the client replies with "username HMAC-MD5(password, challenge)"
// hex-encoded. Deprecated like DIGEST-MD5 and absent from
// mellium.im/sasl for the same reason.
type cramMD5Driver struct {
	creds Credentials
	done  bool
}

// NewCRAMMD5 builds a CRAM-MD5 Driver.
func NewCRAMMD5(creds Credentials) (Driver, error) {
	if creds.Username == "" {
		return nil, errors.New("sasl: CRAM-MD5 requires a username")
	}
	return &cramMD5Driver{creds: creds}, nil
}

func (d *cramMD5Driver) Name() string { return "CRAM-MD5" }

func (d *cramMD5Driver) InitialResponse() ([]byte, bool) {
	return nil, false
}

func (d *cramMD5Driver) EvaluateChallenge(challenge []byte) ([]byte, error) {
	if d.done {
		return nil, errors.New("sasl: CRAM-MD5 does not take a second challenge")
	}
	mac := hmac.New(md5.New, []byte(d.creds.Password))
	mac.Write(challenge)
	d.done = true
	return []byte(fmt.Sprintf("%s %x", d.creds.Username, mac.Sum(nil))), nil
}

func (d *cramMD5Driver) IsComplete() bool {
	return d.done
}

// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"errors"

	"mellium.im/sasl"
)

// clientDriver adapts a mellium.im/sasl.Negotiator, whose Step-based API
// returns "more data needed" rather than separating InitialResponse from
// EvaluateChallenge, to the Driver interface the rest of this package
// drives. Grounded on the teacher's sasl.go, which calls client.Step(nil)
// once up front for the initial response and then once per <challenge/>.
type clientDriver struct {
	name   string
	client *sasl.Negotiator
	more   bool
	err    error
}

func newClientDriver(name string, m sasl.Mechanism, creds Credentials) (Driver, error) {
	opts := []sasl.Option{
		sasl.Authz(creds.Identity),
		sasl.Credentials(creds.Username, creds.Password),
	}
	client := sasl.NewClient(m, opts...)
	return &clientDriver{name: name, client: client}, nil
}

func (d *clientDriver) Name() string { return d.name }

func (d *clientDriver) InitialResponse() ([]byte, bool) {
	more, resp, err := d.client.Step(nil)
	d.more, d.err = more, err
	if err != nil {
		return nil, false
	}
	return resp, true
}

func (d *clientDriver) EvaluateChallenge(challenge []byte) ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	more, resp, err := d.client.Step(challenge)
	d.more = more
	d.err = err
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *clientDriver) IsComplete() bool {
	return d.err == nil && !d.more
}

// NewPlain builds a PLAIN (RFC 4616) Driver backed by mellium.im/sasl.
func NewPlain(creds Credentials) (Driver, error) {
	if creds.Username == "" {
		return nil, errors.New("sasl: PLAIN requires a username")
	}
	return newClientDriver("PLAIN", sasl.Plain, creds)
}

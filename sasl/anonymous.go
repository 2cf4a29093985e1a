// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"mellium.im/sasl"
)

// anonymousMechanism implements SASL ANONYMOUS (RFC 4505): a single
// message containing an optional human-readable trace token (here the
// caller's identity hint, if any) and no further challenge/response
// round trip. Built by hand in the same shape as externalMechanism since
// mellium.im/sasl does not export an ANONYMOUS mechanism either.
var anonymousMechanism = sasl.Mechanism{
	Name: "ANONYMOUS",
	Start: func(m *sasl.Negotiator) (bool, []byte, interface{}, error) {
		_, _, identity := m.Credentials()
		return false, identity, nil, nil
	},
	Next: func(m *sasl.Negotiator, challenge []byte, _ interface{}) (bool, []byte, interface{}, error) {
		return false, nil, nil, sasl.ErrTooManySteps
	},
}

// NewAnonymous builds an ANONYMOUS Driver. The auth loop gives anonymous
// authentication a shorter, 5s intermediate wait. A transport error is
// returned to the caller like any other; there is no fallback to legacy
// anonymous authentication and no retry.
func NewAnonymous(creds Credentials) (Driver, error) {
	return newClientDriver("ANONYMOUS", anonymousMechanism, creds)
}

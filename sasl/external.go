// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"mellium.im/sasl"
)

// externalMechanism implements SASL EXTERNAL (RFC 4422 appendix A): the
// initial response is the authorization identity the client wants to act
// as, or empty to let the server derive one from the established
// transport-layer credential (e.g. a TLS client certificate). Grounded on
// the teacher's s2s/external.go TLSAuth, which builds the same mechanism
// by hand because mellium.im/sasl does not export it directly.
var externalMechanism = sasl.Mechanism{
	Name: "EXTERNAL",
	Start: func(m *sasl.Negotiator) (bool, []byte, interface{}, error) {
		_, _, identity := m.Credentials()
		return false, identity, nil, nil
	},
	Next: func(m *sasl.Negotiator, challenge []byte, _ interface{}) (bool, []byte, interface{}, error) {
		return false, nil, nil, sasl.ErrTooManySteps
	},
}

// NewExternal builds an EXTERNAL Driver. It never fails construction:
// the mechanism degrades gracefully to an empty authzid if creds.Identity
// is unset.
func NewExternal(creds Credentials) (Driver, error) {
	return newClientDriver("EXTERNAL", externalMechanism, creds)
}

// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

// NewGSSAPI always fails construction with MechanismNotSupported. No
// Kerberos/GSSAPI library appears anywhere in this module's dependency
// stack; per spec §4.6 step 7 a driver that can't be built locally is
// not fatal, it just tells the auth loop to try the next mechanism in
// the preference list.
func NewGSSAPI(creds Credentials) (Driver, error) {
	return nil, MechanismNotSupported
}

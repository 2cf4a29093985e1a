// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package sasl drives the SASL authentication state machine (C6): mechanism
// selection, the challenge/response loop, and the post-success resource
// binding and legacy session establishment IQs.
package sasl

import (
	"context"
	"errors"
	"time"
)

// MechanismNotSupported is returned by a Constructor when a mechanism
// cannot be built locally (missing crypto provider, unavailable channel
// binding data, and so on). The caller should move on to the next
// mechanism in the preference list rather than treat this as a fatal
// authentication failure.
var MechanismNotSupported = errors.New("sasl: mechanism not supported locally")

// Credentials supplies the identity material a Driver needs to answer a
// server challenge. Host is the negotiated service name taken from the
// stream's "from"/"to" attributes, not the transport-level hostname.
type Credentials struct {
	Username string
	Password string
	Identity string
	Host     string
}

// Driver is a single SASL mechanism's challenge/response engine. It
// mirrors the MechanismDriver capability set: an optional initial
// response, per-challenge evaluation, and a completion flag.
type Driver interface {
	// Name returns the mechanism's wire name, e.g. "PLAIN".
	Name() string

	// InitialResponse returns the client-first-message payload for
	// mechanisms that send one with <auth/>, and ok=false for those that
	// wait for the server to send the first challenge.
	InitialResponse() (resp []byte, ok bool)

	// EvaluateChallenge consumes one decoded <challenge/> payload and
	// returns the next response to send.
	EvaluateChallenge(challenge []byte) ([]byte, error)

	// IsComplete reports whether the driver believes the exchange is
	// finished from the client's side (it may still be waiting on a
	// final <success/> from the server).
	IsComplete() bool
}

// Constructor builds a Driver for a single authentication attempt. It
// returns MechanismNotSupported if the mechanism cannot be constructed
// locally, which tells the caller to continue to the next mechanism in
// the preference list instead of aborting.
type Constructor func(creds Credentials) (Driver, error)

// Registry is an owned mapping from mechanism name to Constructor plus an
// ordered preference list (position 0 is most preferred). Unlike the
// teacher's single process-wide StreamFeature closure, a Registry is a
// plain value: callers build one per Engine instead of reaching for a
// package-level singleton, so two concurrent authentications (in tests,
// or against two servers) never share mutable mechanism state.
type Registry struct {
	ctor       map[string]Constructor
	preference []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ctor: make(map[string]Constructor)}
}

// Register adds name to the registry with the given Constructor,
// appending it to the end of the preference list. Registering a name
// that already exists replaces its Constructor without changing its
// position in the preference list.
func (r *Registry) Register(name string, ctor Constructor) {
	if _, ok := r.ctor[name]; !ok {
		r.preference = append(r.preference, name)
	}
	r.ctor[name] = ctor
}

// Unregister removes name from the registry and the preference list.
func (r *Registry) Unregister(name string) {
	delete(r.ctor, name)
	for i, n := range r.preference {
		if n == name {
			r.preference = append(r.preference[:i], r.preference[i+1:]...)
			break
		}
	}
}

// Preference returns the registry's preference list, most preferred
// first. The returned slice is owned by the caller.
func (r *Registry) Preference() []string {
	out := make([]string, len(r.preference))
	copy(out, r.preference)
	return out
}

// Select walks the preference list and returns the Constructor for the
// first mechanism also present in serverMechanisms, along with its name.
// It returns ok=false if there is no overlap at all.
func (r *Registry) Select(serverMechanisms []string) (name string, ctor Constructor, ok bool) {
	offered := make(map[string]bool, len(serverMechanisms))
	for _, m := range serverMechanisms {
		offered[m] = true
	}
	for _, name := range r.preference {
		if offered[name] {
			return name, r.ctor[name], true
		}
	}
	return "", nil, false
}

// readDeadliner is satisfied by both *transport.Transport and net.Conn,
// the two concrete Writers this package is ever driven with. Neither
// stream.Reader nor its xml.Decoder understands context.Context, so the
// only way a step's ctx.Done() actually interrupts a read already
// blocked in the kernel is to arm a deadline on the connection beneath
// it.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// armReadDeadline arms w's read deadline from ctx's deadline, if w
// supports setting one and ctx actually carries a deadline, and returns
// a func that clears it again. The returned func is always safe to
// call, including when arming was a no-op.
func armReadDeadline(ctx context.Context, w interface{}) func() {
	d, ok := w.(readDeadliner)
	if !ok {
		return func() {}
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return func() {}
	}
	_ = d.SetReadDeadline(deadline)
	return func() { _ = d.SetReadDeadline(time.Time{}) }
}

// NewDefaultRegistry returns a Registry pre-populated with the built-in
// mechanism drivers, credentialed mechanisms first and EXTERNAL and
// ANONYMOUS last. Nothing in the connection config gates the last two:
// they are chosen whenever the server offers them and none of the
// earlier entries.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("DIGEST-MD5", NewDigestMD5)
	r.Register("CRAM-MD5", NewCRAMMD5)
	r.Register("PLAIN", NewPlain)
	r.Register("GSSAPI", NewGSSAPI)
	r.Register("EXTERNAL", NewExternal)
	r.Register("ANONYMOUS", NewAnonymous)
	return r
}

// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"time"

	"xmppstream/internal/marshal"
	"xmppstream/internal/ns"
	"xmppstream/internal/saslerr"
	"xmppstream/stream"
)

// Writer is the minimal write surface the auth loop needs. Kept as an
// interface, rather than depending on *transport.Transport directly, so
// tests can drive the loop against a plain buffer.
type Writer interface {
	io.Writer
}

// ChallengeLoopTimeout is the spec §4.6 default: the mechanism challenge
// loop waits this long for negotiated or failed before raising
// AuthTimeout.
const ChallengeLoopTimeout = 30 * time.Second

// AnonymousIntermediateTimeout is the shorter wait spec §4.6 grants
// ANONYMOUS authentication before the caller should fall back to legacy
// anonymous authentication.
const AnonymousIntermediateTimeout = 5 * time.Second

// Errors returned by Authenticate that are not a ServerFailure.
var (
	// ErrNoSharedMechanism means reg's preference list has no overlap at
	// all with serverMechanisms; spec §4.6 step 9 says the caller should
	// fall back to legacy (non-SASL) authentication.
	ErrNoSharedMechanism = errors.New("sasl: no mechanism shared with server")

	// ErrAllMechanismsUnsupported means every shared mechanism failed to
	// construct locally (MechanismNotSupported); like
	// ErrNoSharedMechanism this is a legacy-fallback signal, not a hard
	// authentication failure.
	ErrAllMechanismsUnsupported = errors.New("sasl: no shared mechanism could be constructed locally")
)

// ServerFailure wraps a server-reported <failure/> condition. Spec §4.6
// step 8: a server failure aborts the whole authentication attempt; it
// never triggers falling back to a weaker mechanism the way
// MechanismNotSupported does.
type ServerFailure struct {
	Condition string
}

func (f ServerFailure) Error() string {
	if f.Condition == "" {
		return "sasl: authentication failed"
	}
	return "sasl: authentication failed: " + f.Condition
}

// Result records which mechanism completed the loop.
type Result struct {
	Mechanism string
}

// Authenticate walks reg's preference list against serverMechanisms
// (the <mechanism/> children of the post-negotiation <features/>'s
// <mechanisms/>), constructing and driving each candidate in turn over
// w/r until one completes successfully or a hard failure aborts the
// attempt.
func Authenticate(ctx context.Context, w Writer, r *stream.Reader, reg *Registry, creds Credentials, serverMechanisms []string) (Result, error) {
	offered := make(map[string]bool, len(serverMechanisms))
	for _, m := range serverMechanisms {
		offered[m] = true
	}

	sawSharedMechanism := false
	for _, name := range reg.Preference() {
		if !offered[name] {
			continue
		}
		ctor, ok := reg.ctor[name]
		if !ok {
			continue
		}
		sawSharedMechanism = true

		driver, err := ctor(creds)
		if errors.Is(err, MechanismNotSupported) {
			continue
		}
		if err != nil {
			return Result{Mechanism: name}, err
		}

		timeout := ChallengeLoopTimeout
		if name == "ANONYMOUS" {
			timeout = AnonymousIntermediateTimeout
		}
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		err = runMechanism(stepCtx, w, r, name, driver)
		cancel()
		if err == nil {
			return Result{Mechanism: name}, nil
		}
		return Result{Mechanism: name}, err
	}
	if sawSharedMechanism {
		return Result{}, ErrAllMechanismsUnsupported
	}
	return Result{}, ErrNoSharedMechanism
}

// runMechanism drives one mechanism's wire exchange to completion.
func runMechanism(ctx context.Context, w Writer, r *stream.Reader, name string, driver Driver) error {
	resp, hasInitial := driver.InitialResponse()
	var encoded string
	if hasInitial {
		// RFC 6120 §6.4.2: a zero-length initial response must be sent
		// as a literal "=", which signals "present but empty" rather
		// than omitting the initial response entirely.
		encoded = "="
		if len(resp) > 0 {
			encoded = base64.StdEncoding.EncodeToString(resp)
		}
	}
	authStart := xml.StartElement{
		Name: xml.Name{Space: ns.SASL, Local: "auth"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "mechanism"}, Value: name}},
	}
	authElem := struct {
		Payload string `xml:",chardata"`
	}{Payload: encoded}
	if err := marshal.EncodeXMLElement(xml.NewEncoder(w), authElem, authStart); err != nil {
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
		switch start.Name {
		case xml.Name{Space: ns.SASL, Local: "success"}:
			payload := struct {
				Data []byte `xml:",chardata"`
			}{}
			if err := r.DecodeElement(&payload, start); err != nil {
				return err
			}
			return nil
		case xml.Name{Space: ns.SASL, Local: "failure"}:
			fail := saslerr.Failure{}
			if err := r.DecodeElement(&fail, start); err != nil {
				return err
			}
			return ServerFailure{Condition: fail.Error()}
		case xml.Name{Space: ns.SASL, Local: "challenge"}:
			payload := struct {
				Data []byte `xml:",chardata"`
			}{}
			if err := r.DecodeElement(&payload, start); err != nil {
				return err
			}
			challenge, err := base64.StdEncoding.DecodeString(string(payload.Data))
			if err != nil {
				return err
			}
			next, err := driver.EvaluateChallenge(challenge)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, `<response xmlns='%s'>%s</response>`, ns.SASL, base64.StdEncoding.EncodeToString(next)); err != nil {
				return err
			}
		default:
			if err := r.Skip(); err != nil {
				return err
			}
		}
	}
}

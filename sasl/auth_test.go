// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl_test

import (
	"context"
	"encoding/base64"
	"net"
	"strings"
	"testing"
	"time"

	"xmppstream/internal/ns"
	"xmppstream/sasl"
	"xmppstream/stream"
)

func pipeReader(t *testing.T, conn net.Conn) *stream.Reader {
	t.Helper()
	return stream.NewReader(conn)
}

// TestAuthenticatePlainHappyPath drives a full PLAIN exchange: the
// client sends <auth mechanism="PLAIN"> with its initial response, and
// the fake server replies <success/> without issuing a challenge.
func TestAuthenticatePlainHappyPath(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			t.Errorf("server read auth: %v", err)
			return
		}
		got := string(buf[:n])
		if !strings.Contains(got, `mechanism="PLAIN"`) {
			t.Errorf("expected PLAIN auth element, got %q", got)
		}
		if _, err := server.Write([]byte(`<success xmlns='` + ns.SASL + `'/>`)); err != nil {
			t.Errorf("server write success: %v", err)
		}
	}()

	r := pipeReader(t, client)
	reg := sasl.NewDefaultRegistry()
	creds := sasl.Credentials{Username: "alice", Password: "secret", Host: "example.com"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := sasl.Authenticate(ctx, client, r, reg, creds, []string{"PLAIN"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if res.Mechanism != "PLAIN" {
		t.Errorf("Mechanism = %q, want PLAIN", res.Mechanism)
	}
	<-done
}

// TestAuthenticateFallsBackToSharedMechanism covers spec §8 scenario 5:
// the preference list prefers DIGEST-MD5, but the server only offers
// PLAIN, so the client must authenticate with PLAIN and never emit any
// DIGEST-MD5 traffic.
func TestAuthenticateFallsBackToSharedMechanism(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			t.Errorf("server read auth: %v", err)
			return
		}
		got := string(buf[:n])
		if strings.Contains(got, "DIGEST-MD5") {
			t.Errorf("unexpected DIGEST-MD5 traffic: %q", got)
		}
		if !strings.Contains(got, `mechanism="PLAIN"`) {
			t.Errorf("expected PLAIN auth element, got %q", got)
		}
		if _, err := server.Write([]byte(`<success xmlns='` + ns.SASL + `'/>`)); err != nil {
			t.Errorf("server write success: %v", err)
		}
	}()

	r := pipeReader(t, client)
	reg := sasl.NewDefaultRegistry()
	creds := sasl.Credentials{Username: "alice", Password: "secret", Host: "example.com"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := sasl.Authenticate(ctx, client, r, reg, creds, []string{"PLAIN"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if res.Mechanism != "PLAIN" {
		t.Errorf("Mechanism = %q, want PLAIN", res.Mechanism)
	}
	<-done
}

// TestAuthenticateNoSharedMechanism covers spec §4.6 step 9: zero
// overlap between the preference list and serverMechanisms must report
// ErrNoSharedMechanism rather than blocking or picking an arbitrary
// mechanism.
func TestAuthenticateNoSharedMechanism(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := pipeReader(t, client)
	reg := sasl.NewDefaultRegistry()
	creds := sasl.Credentials{Username: "alice", Password: "secret", Host: "example.com"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := sasl.Authenticate(ctx, client, r, reg, creds, []string{"SCRAM-SHA-1"})
	if err != sasl.ErrNoSharedMechanism {
		t.Fatalf("Authenticate() error = %v, want ErrNoSharedMechanism", err)
	}
}

// TestAuthenticateServerFailureAborts covers spec §4.6 step 8: a
// server-reported <failure/> aborts the whole attempt and carries the
// condition text through as a ServerFailure.
func TestAuthenticateServerFailureAborts(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		if _, err := server.Read(buf); err != nil {
			t.Errorf("server read auth: %v", err)
			return
		}
		if _, err := server.Write([]byte(`<failure xmlns='` + ns.SASL + `'><not-authorized/></failure>`)); err != nil {
			t.Errorf("server write failure: %v", err)
		}
	}()

	r := pipeReader(t, client)
	reg := sasl.NewDefaultRegistry()
	creds := sasl.Credentials{Username: "alice", Password: "wrong", Host: "example.com"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := sasl.Authenticate(ctx, client, r, reg, creds, []string{"PLAIN"})
	sf, ok := err.(sasl.ServerFailure)
	if !ok {
		t.Fatalf("Authenticate() error = %v (%T), want ServerFailure", err, err)
	}
	if sf.Condition != "not-authorized" {
		t.Errorf("Condition = %q, want not-authorized", sf.Condition)
	}
	<-done
}

// TestAuthenticateChallengeResponseLoop drives CRAM-MD5, which always
// requires exactly one <challenge/>/<response/> round before <success/>,
// covering the loop body in runMechanism beyond the zero-challenge PLAIN
// case above.
func TestAuthenticateChallengeResponseLoop(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			t.Errorf("server read initial auth: %v", err)
			return
		}
		if !strings.Contains(string(buf[:n]), `mechanism="CRAM-MD5"`) {
			t.Errorf("expected CRAM-MD5 auth element, got %q", string(buf[:n]))
			return
		}
		challenge := base64.StdEncoding.EncodeToString([]byte("<1896.697170952@postoffice.example.net>"))
		if _, err := server.Write([]byte(`<challenge xmlns='` + ns.SASL + `'>` + challenge + `</challenge>`)); err != nil {
			t.Errorf("server write challenge: %v", err)
			return
		}
		n, err = server.Read(buf)
		if err != nil {
			t.Errorf("server read response: %v", err)
			return
		}
		if !strings.Contains(string(buf[:n]), "<response") {
			t.Errorf("expected <response/>, got %q", string(buf[:n]))
		}
		if _, err := server.Write([]byte(`<success xmlns='` + ns.SASL + `'/>`)); err != nil {
			t.Errorf("server write success: %v", err)
		}
	}()

	r := pipeReader(t, client)
	reg := sasl.NewDefaultRegistry()
	creds := sasl.Credentials{Username: "alice", Password: "secret", Host: "example.com"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := sasl.Authenticate(ctx, client, r, reg, creds, []string{"CRAM-MD5"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if res.Mechanism != "CRAM-MD5" {
		t.Errorf("Mechanism = %q, want CRAM-MD5", res.Mechanism)
	}
	<-done
}

// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package sasl_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"xmppstream/jid"
	"xmppstream/sasl"
	"xmppstream/stream"
)

// TestBindClientRequestedResource covers the happy path from spec §4.6
// step (after <success/>): the client requests a specific resource and
// the server echoes back the full JID.
func TestBindClientRequestedResource(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	var reqID string
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			t.Errorf("server read bind iq: %v", err)
			return
		}
		got := string(buf[:n])
		if !strings.Contains(got, "<resource>phone</resource>") {
			t.Errorf("expected resource 'phone' in bind request, got %q", got)
		}
		start := strings.Index(got, `id="`) + len(`id="`)
		reqID = got[start:strings.Index(got[start:], `"`)+start]
		if _, err := server.Write([]byte(`<iq xmlns='jabber:client' id='` + reqID + `' type='result'><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'><jid>alice@example.com/phone</jid></bind></iq>`)); err != nil {
			t.Errorf("server write bind result: %v", err)
		}
	}()

	r := stream.NewReader(client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := sasl.Bind(ctx, client, r, "phone")
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	want := jid.MustParse("alice@example.com/phone")
	if got != want {
		t.Errorf("Bind() = %v, want %v", got, want)
	}
	<-done
}

// TestBindServerGeneratedResource covers the empty-resource branch: the
// client asks the server to generate a resource of its own choosing.
func TestBindServerGeneratedResource(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			t.Errorf("server read bind iq: %v", err)
			return
		}
		got := string(buf[:n])
		if strings.Contains(got, "<resource>") {
			t.Errorf("expected no <resource/> element, got %q", got)
		}
		start := strings.Index(got, `id="`) + len(`id="`)
		reqID := got[start:strings.Index(got[start:], `"`)+start]
		if _, err := server.Write([]byte(`<iq xmlns='jabber:client' id='` + reqID + `' type='result'><bind xmlns='urn:ietf:params:xml:ns:xmpp-bind'><jid>alice@example.com/generated</jid></bind></iq>`)); err != nil {
			t.Errorf("server write bind result: %v", err)
		}
	}()

	r := stream.NewReader(client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := sasl.Bind(ctx, client, r, "")
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	want := jid.MustParse("alice@example.com/generated")
	if got != want {
		t.Errorf("Bind() = %v, want %v", got, want)
	}
	<-done
}

// TestBindErrorIQSurfacesAsError covers the <iq type='error'> branch:
// Bind must return the server's stanza error rather than a generic one.
func TestBindErrorIQSurfacesAsError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			t.Errorf("server read bind iq: %v", err)
			return
		}
		got := string(buf[:n])
		start := strings.Index(got, `id="`) + len(`id="`)
		reqID := got[start:strings.Index(got[start:], `"`)+start]
		if _, err := server.Write([]byte(`<iq xmlns='jabber:client' id='` + reqID + `' type='error'><error type='modify'><bad-request xmlns='urn:ietf:params:xml:ns:xmpp-stanzas'/></error></iq>`)); err != nil {
			t.Errorf("server write bind error: %v", err)
		}
	}()

	r := stream.NewReader(client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := sasl.Bind(ctx, client, r, "phone")
	if err == nil {
		t.Fatal("Bind() error = nil, want a stanza error")
	}
	if !strings.Contains(err.Error(), "bad-request") {
		t.Errorf("error = %v, want it to mention bad-request", err)
	}
	<-done
}

// TestEstablishSessionSuccess covers the legacy session-establishment IQ
// sent when post-bind <features/> advertised <session/>.
func TestEstablishSessionSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		n, err := server.Read(buf)
		if err != nil {
			t.Errorf("server read session iq: %v", err)
			return
		}
		got := string(buf[:n])
		if !strings.Contains(got, `xmlns="urn:ietf:params:xml:ns:xmpp-session"`) {
			t.Errorf("expected session iq, got %q", got)
		}
		start := strings.Index(got, `id="`) + len(`id="`)
		reqID := got[start:strings.Index(got[start:], `"`)+start]
		if _, err := server.Write([]byte(`<iq xmlns='jabber:client' id='` + reqID + `' type='result'/>`)); err != nil {
			t.Errorf("server write session result: %v", err)
		}
	}()

	r := stream.NewReader(client)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sasl.EstablishSession(ctx, client, r, time.Second); err != nil {
		t.Fatalf("EstablishSession() error = %v", err)
	}
	<-done
}

// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppstream_test

import (
	"context"
	"encoding/xml"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"xmppstream"
	"xmppstream/discover"
	"xmppstream/internal/ns"
	"xmppstream/jid"
	"xmppstream/negotiate"
	"xmppstream/stream"
)

// fakeServer scripts the server side of one connection over a real TCP
// listener: stream open, <features/> with PLAIN only, PLAIN success, a
// post-auth stream restart with <bind/>, and a bind reply. It matches
// spec §8 scenario 1 ("happy path"), trimmed to skip TLS and compression
// (covered independently by negotiate's own tests) so this test isolates
// Engine's wiring of C1/C2/C4/C6 together.
func fakeServer(t *testing.T, ln net.Listener) {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		t.Errorf("Accept() error = %v", err)
		return
	}
	defer conn.Close()

	r, _, err := stream.ExpectOpen(conn)
	if err != nil {
		t.Errorf("server ExpectOpen() error = %v", err)
		return
	}
	if err := stream.OpenStream(conn, jid.JID{}, jid.MustParse("example.com"), "stream-1", ""); err != nil {
		t.Errorf("server OpenStream() error = %v", err)
		return
	}
	if _, err := conn.Write([]byte(`<stream:features xmlns:stream="` + ns.Stream + `"><mechanisms xmlns="` + ns.SASL + `"><mechanism>PLAIN</mechanism></mechanisms></stream:features>`)); err != nil {
		t.Errorf("server write features: %v", err)
		return
	}

	start, err := r.NextTopLevelElement()
	if err != nil {
		t.Errorf("server read auth: %v", err)
		return
	}
	if start.Name.Local != "auth" {
		t.Errorf("expected <auth/>, got %v", start.Name)
		return
	}
	if err := r.Skip(); err != nil {
		t.Errorf("server skip auth body: %v", err)
		return
	}
	if _, err := conn.Write([]byte(`<success xmlns='` + ns.SASL + `'/>`)); err != nil {
		t.Errorf("server write success: %v", err)
		return
	}

	r.Reset(nil)
	if _, err := stream.ReadOpen(r); err != nil {
		t.Errorf("server ReadOpen() after auth: %v", err)
		return
	}
	if err := stream.OpenStream(conn, jid.JID{}, jid.MustParse("example.com"), "stream-2", ""); err != nil {
		t.Errorf("server post-auth OpenStream() error = %v", err)
		return
	}
	if _, err := conn.Write([]byte(`<stream:features xmlns:stream="` + ns.Stream + `"><bind xmlns="` + ns.Bind + `"/></stream:features>`)); err != nil {
		t.Errorf("server write post-auth features: %v", err)
		return
	}

	start, err = r.NextTopLevelElement()
	if err != nil {
		t.Errorf("server read bind iq: %v", err)
		return
	}
	bindElem, err := r.ReadElement(start)
	if err != nil {
		t.Errorf("server read bind element: %v", err)
		return
	}
	if bindElem.Name.Local != "iq" {
		t.Errorf("expected <iq/>, got %q", bindElem.Name.Local)
		return
	}
	reqID := ""
	for _, a := range bindElem.Attr {
		if a.Name.Local == "id" {
			reqID = a.Value
		}
	}
	if _, err := conn.Write([]byte(`<iq id='` + reqID + `' type='result'><bind xmlns='` + ns.Bind + `'><jid>alice@example.com/test</jid></bind></iq>`)); err != nil {
		t.Errorf("server write bind result: %v", err)
		return
	}

	// Steady state: echo one stanza the client writes, so the reader
	// goroutine's mailbox delivery path gets exercised too.
	start, err = r.NextTopLevelElement()
	if err != nil {
		return
	}
	echo, err := r.ReadElement(start)
	if err != nil {
		return
	}
	_, _ = conn.Write([]byte(`<message from='bob@example.com'>` + elementText(echo) + `</message>`))
}

// elementText concatenates an Element's direct CharData children, enough
// to read back the body of the simple <iq/> this test round-trips.
func elementText(e *stream.Element) string {
	var sb strings.Builder
	tr := e.Children()
	for {
		tok, err := tr.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			sb.Write(cd)
		}
	}
	return sb.String()
}

func TestEngineConnectNegotiateBindSteadyState(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeServer(t, ln)
	}()

	cfg := xmppstream.Config{
		Origin:   jid.MustParse("alice@example.com"),
		Host:     ln.Addr().(*net.TCPAddr).IP.String(),
		Port:     uint16(ln.Addr().(*net.TCPAddr).Port),
		Security: negotiate.SecurityDisabled,
		Password: "secret",
		Resource: "test",
		Resolver: discover.Resolver{},
	}
	e := xmppstream.NewEngine(cfg)

	data, err := e.GetConnectData(context.Background())
	if err != nil {
		t.Fatalf("GetConnectData() error = %v", err)
	}
	if len(data) != 1 {
		t.Fatalf("GetConnectData() = %v, want exactly the Host override", data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.InitializeConnection(ctx, data[0]); err != nil {
		t.Fatalf("InitializeConnection() error = %v", err)
	}
	if e.IsSecure() {
		t.Error("IsSecure() = true, want false (SecurityDisabled)")
	}
	if e.GetConnectionID() != "stream-2" {
		t.Errorf("GetConnectionID() = %q, want stream-2 (post-auth stream)", e.GetConnectionID())
	}

	type delivery struct {
		elem *stream.Element
		err  error
	}
	received := make(chan delivery, 1)
	e.SetPacketCallbacks(
		func(el *stream.Element) { received <- delivery{elem: el} },
		func(err error) { received <- delivery{err: err} },
		nil,
	)

	if err := e.WritePacket(`<iq type='get' id='ping'/>`); err != nil {
		t.Fatalf("WritePacket() error = %v", err)
	}

	select {
	case d := <-received:
		if d.err != nil {
			t.Fatalf("unexpected delivery error: %v", d.err)
		}
		if d.elem.Name.Local != "message" {
			t.Errorf("delivered element = %q, want message", d.elem.Name.Local)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for steady-state delivery")
	}

	if err := e.GracefulDisconnect(""); err != nil {
		t.Fatalf("GracefulDisconnect() error = %v", err)
	}
	if err := e.ForceDisconnect(); err != nil {
		t.Fatalf("second ForceDisconnect() (idempotent) error = %v", err)
	}

	<-done
}

// TestEngineInitializeConnectionSecurityRequiredFails covers spec §8
// scenario 2: SecurityRequired with a server that never offers
// <starttls/> must fail negotiation and leave the transport closed.
func TestEngineInitializeConnectionSecurityRequiredFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			t.Errorf("Accept() error = %v", err)
			return
		}
		defer conn.Close()
		if _, _, err := stream.ExpectOpen(conn); err != nil {
			t.Errorf("server ExpectOpen(): %v", err)
			return
		}
		if err := stream.OpenStream(conn, jid.JID{}, jid.MustParse("example.com"), "s-1", ""); err != nil {
			t.Errorf("server OpenStream(): %v", err)
			return
		}
		if _, err := conn.Write([]byte(`<stream:features xmlns:stream="` + ns.Stream + `"><mechanisms xmlns="` + ns.SASL + `"><mechanism>PLAIN</mechanism></mechanisms></stream:features>`)); err != nil {
			t.Errorf("server write features: %v", err)
		}
	}()

	cfg := xmppstream.Config{
		Origin:   jid.MustParse("alice@example.com"),
		Host:     ln.Addr().(*net.TCPAddr).IP.String(),
		Port:     uint16(ln.Addr().(*net.TCPAddr).Port),
		Security: negotiate.SecurityRequired,
		Password: "secret",
	}
	e := xmppstream.NewEngine(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data := discover.ConnectData{Addr: net.JoinHostPort(cfg.Host, strconv.Itoa(int(cfg.Port))), Domain: "example.com"}
	err = e.InitializeConnection(ctx, data)
	if err == nil {
		t.Fatal("InitializeConnection() error = nil, want SecurityRequired")
	}
	xerr, ok := err.(*xmppstream.Error)
	if !ok || xerr.Kind != xmppstream.SecurityRequired {
		t.Errorf("error = %v, want Kind=SecurityRequired", err)
	}
	<-done
}


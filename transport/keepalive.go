// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"time"
)

// Keepalive periodically writes a single whitespace byte to a Transport
// that has seen no read or write for the configured interval (idleness
// is Transport.IdleSince, which counts inbound bytes as activity too),
// the C5 component: XMPP's
// whitespace-ping keepalive, distinct from an application-level
// <iq/>-based ping since it requires no response and is valid at any
// point in a stream, even mid-negotiation.
type Keepalive struct {
	t        *Transport
	interval time.Duration
}

// NewKeepalive builds a Keepalive that pings t after interval of
// inactivity. interval <= 0 disables the keepalive (Run returns
// immediately).
func NewKeepalive(t *Transport, interval time.Duration) *Keepalive {
	return &Keepalive{t: t, interval: interval}
}

// Run blocks, writing a whitespace byte to the transport whenever it has
// been idle for at least the configured interval, until ctx is canceled
// or the transport is closed. It writes through Transport.Write, the path
// stanzas take. Transport holds no lock across the write itself; the byte
// stays whole relative to a stanza because each layer it writes to
// (net.Conn, tls.Conn, compress.Codec) serializes concurrent Write calls.
func (k *Keepalive) Run(ctx context.Context) {
	if k.interval <= 0 {
		return
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if k.t.Closed() {
				return
			}
			if k.t.IdleSince() < k.interval {
				continue
			}
			if _, err := k.t.Write([]byte(" ")); err != nil {
				return
			}
		}
	}
}

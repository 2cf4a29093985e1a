// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package discover resolves the connect data (host and port) a client
// should dial for an XMPP domain (C1 in the engine's
// component breakdown).
package discover

import (
	"context"
	"errors"
	"net"
	"sort"

	"xmppstream/jid"
)

// ErrNoServiceAtAddress is returned when a domain's SRV record explicitly
// advertises that the requested service is unavailable (a single record
// with a Target of ".", RFC 6230 §3.2.1).
var ErrNoServiceAtAddress = errors.New("discover: no service advertised at address")

// ConnectData describes one candidate TCP endpoint for a domain, ordered
// by preference.
type ConnectData struct {
	// Addr is the host:port to dial.
	Addr string
	// Domain is the original JID domainpart this candidate was resolved
	// from; useful for building the stream's `to` attribute and for TLS
	// server-name verification.
	Domain string
}

// Resolver looks up connect data for a domain. It keeps no cache: each
// Resolve call issues a fresh SRV query.
type Resolver struct {
	// Net is the resolver used to issue DNS queries. If nil, net.DefaultResolver
	// is used.
	Net *net.Resolver
	// Service is the SRV service name to query, e.g. "xmpp-client" or
	// "xmpp-server". If empty, "xmpp-client" is used.
	Service string
}

func (r *Resolver) resolver() *net.Resolver {
	if r.Net != nil {
		return r.Net
	}
	return net.DefaultResolver
}

func (r *Resolver) service() string {
	if r.Service != "" {
		return r.Service
	}
	return "xmpp-client"
}

// Resolve queries DNS SRV records for the domain of j and returns a
// preference-ordered list of connect data. If the domain has no SRV
// records (a not-found answer or an empty one), Resolve returns the single
// record Default would have returned. Any other lookup error is returned
// as is, and a single record with target "." returns
// ErrNoServiceAtAddress.
func (r *Resolver) Resolve(ctx context.Context, j jid.JID) ([]ConnectData, error) {
	domain := j.Domainpart()

	_, srvs, err := r.resolver().LookupSRV(ctx, r.service(), "tcp", domain)
	if dnsErr, ok := err.(*net.DNSError); (ok && !dnsErr.IsNotFound) || (!ok && err != nil) {
		return nil, err
	}

	if len(srvs) == 1 && srvs[0].Target == "." {
		return nil, ErrNoServiceAtAddress
	}

	if len(srvs) == 0 {
		return []ConnectData{r.Default(j)}, nil
	}

	// Stable sort by RFC 2782 priority, then weight descending; the
	// finer-grained weighted-random selection within a priority band is
	// left to the caller, since it only matters when trying multiple
	// candidates concurrently, which this engine does not do.
	sort.SliceStable(srvs, func(i, k int) bool {
		if srvs[i].Priority != srvs[k].Priority {
			return srvs[i].Priority < srvs[k].Priority
		}
		return srvs[i].Weight > srvs[k].Weight
	})

	out := make([]ConnectData, 0, len(srvs))
	for _, s := range srvs {
		out = append(out, ConnectData{
			Addr:   net.JoinHostPort(trimDot(s.Target), portString(s.Port)),
			Domain: domain,
		})
	}
	return out, nil
}

// Default returns the connect data implied by the JID's domainpart alone
// (domain:5222), with no DNS lookup and no possibility of failure. It is
// the fallback used when SRV resolution is skipped or unavailable.
func (r *Resolver) Default(j jid.JID) ConnectData {
	domain := j.Domainpart()
	return ConnectData{
		Addr:   net.JoinHostPort(domain, "5222"),
		Domain: domain,
	}
}

func trimDot(target string) string {
	if l := len(target); l > 0 && target[l-1] == '.' {
		return target[:l-1]
	}
	return target
}

func portString(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

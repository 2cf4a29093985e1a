// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package negotiate implements the stream engine's C4 feature
// negotiator: the state machine driven by a server's <stream:features/>
// advertisement that chooses and runs STARTTLS and/or stream
// compression in the right order, restarts the stream after each, and
// surfaces the first post-negotiation <stream:features/> to the caller
// (the SASL driver in package sasl).
//
// This is restructured from the teacher's per-feature
// StreamFeature.Negotiate callback list (features.go) into a single
// explicit state machine, because spec's ordering preconditions
// (STARTTLS before compression, at most one zlib attempt per
// <features/>, the SecurityRequired/SecurityForbidden branch points) are
// cross-feature and don't factor cleanly into independent per-feature
// callbacks the way the teacher's extensible registry does.
package negotiate

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"xmppstream/internal/iter"
	"xmppstream/internal/ns"
	"xmppstream/jid"
	"xmppstream/stream"
	"xmppstream/transport"
)

// SecurityMode controls how the negotiator treats a server's STARTTLS
// offer, mirroring spec §3's ConnectionConfig.security.
type SecurityMode int

const (
	// SecurityRequired fails negotiation outright if the stream cannot
	// end up on a verified TLS channel.
	SecurityRequired SecurityMode = iota
	// SecurityEnabled opts into STARTTLS when the server offers it, but
	// tolerates a plaintext stream if it doesn't.
	SecurityEnabled
	// SecurityDisabled never attempts STARTTLS, even if offered, and
	// fails if the server demands it.
	SecurityDisabled
)

// Config carries the subset of spec §3's ConnectionConfig that the
// feature negotiator consults.
type Config struct {
	// Security selects the STARTTLS posture.
	Security SecurityMode
	// TLSConfig is used for the STARTTLS handshake. A nil TLSConfig is
	// treated as "no SSL context can be built" (spec §4.4's STARTTLS
	// precondition), not as a zero-value tls.Config.
	TLSConfig *tls.Config
	// CompressionEnabled opts into zlib stream compression when the
	// server offers it.
	CompressionEnabled bool
}

// Sentinel errors raised by Negotiate; all of them leave the transport
// and stream in a state the caller should force-close.
var (
	ErrSecurityRequired  = errors.New("negotiate: tls required by configuration but unavailable or unverified")
	ErrSecurityForbidden = errors.New("negotiate: server requires tls but security is disabled by configuration")
	ErrTLSFailure        = errors.New("negotiate: starttls failed")
)

// Negotiator drives C4 over a single Transport/Reader pair for the
// lifetime of one connection attempt. It is not reused across
// connections.
type Negotiator struct {
	T      *transport.Transport
	R      *stream.Reader
	To     jid.JID
	Lang   string
	Config Config

	tlsAttempted      bool
	compressionFailed bool
}

// New returns a Negotiator ready to drive feature negotiation for a
// stream already opened by the caller (OpenStream/ExpectOpen already
// exchanged, R already positioned to read the first top-level element:
// the stream's first <stream:features/>, or a non-features element if
// the peer is a legacy pre-1.0 server — see stream.Features.Legacy).
func New(t *transport.Transport, r *stream.Reader, to jid.JID, lang string, cfg Config) *Negotiator {
	return &Negotiator{T: t, R: r, To: to, Lang: lang, Config: cfg}
}

// parsedFeatures is the running state recomputed from each
// <stream:features/> per spec §4.4.
type parsedFeatures struct {
	start              xml.StartElement
	tlsOffered         bool
	tlsRequiredByPeer  bool
	compressionMethods map[string]bool
	mechanisms         []string
	bind               bool
	session            bool
}

// Negotiate runs the state machine to completion, returning the first
// post-negotiation <stream:features/> (real or legacy) once no
// transport-layer feature remains to negotiate, or an error.
func (n *Negotiator) Negotiate(ctx context.Context, first stream.Features) (stream.Features, error) {
	current := first
	for {
		if current.Legacy {
			// Pre-1.0 peers never advertise <compression/> or SASL
			// mechanisms in-band; there is nothing left for this state
			// machine to do. Mechanisms reports no mechanisms for a
			// Legacy value, so sasl.Authenticate then ends with
			// ErrNoSharedMechanism; no non-SASL authentication is tried.
			return current, nil
		}

		pf, err := parseFeatures(current.Real)
		if err != nil {
			return stream.Features{}, err
		}

		switch {
		case n.Config.Security == SecurityRequired && !n.T.IsSecure() && !pf.tlsOffered:
			return stream.Features{}, ErrSecurityRequired

		case !n.T.IsSecure() && pf.tlsOffered && n.Config.Security != SecurityDisabled && n.Config.TLSConfig != nil && !n.tlsAttempted:
			if pf.tlsRequiredByPeer && n.Config.Security == SecurityDisabled {
				return stream.Features{}, ErrSecurityForbidden
			}
			n.tlsAttempted = true
			next, err := n.doSTARTTLS(ctx)
			if err != nil {
				return stream.Features{}, err
			}
			current = next
			continue

		case pf.tlsRequiredByPeer && !n.T.IsSecure() && n.Config.Security == SecurityDisabled:
			return stream.Features{}, ErrSecurityForbidden

		case n.Config.Security == SecurityRequired && pf.tlsOffered && !n.T.IsSecure() && n.Config.TLSConfig == nil:
			return stream.Features{}, ErrSecurityRequired

		case n.Config.CompressionEnabled && !n.T.IsCompressed() && !n.compressionFailed && pf.compressionMethods["zlib"]:
			next, err := n.doCompress(ctx)
			if err != nil {
				if errors.Is(err, errCompressFailureRetry) {
					// Spec §4.4 item 4 / §8: a compression <failure/> is
					// recoverable. Retry negotiation against the SAME
					// <features/> (current is untouched) but never offer
					// zlib again for it.
					n.compressionFailed = true
					continue
				}
				return stream.Features{}, err
			}
			current = next
			continue

		default:
			return current, nil
		}
	}
}

// doSTARTTLS writes <starttls/>, waits for <proceed/> or <failure/>,
// performs the TLS handshake, and restarts the stream. The handshake
// verifies the server with the configured tls.Config as is: a handshake
// or certificate-verification failure ends negotiation with an
// ErrTLSFailure-wrapped error in every security mode, and negotiation
// never continues over an unverified connection.
func (n *Negotiator) doSTARTTLS(ctx context.Context) (stream.Features, error) {
	if _, err := fmt.Fprintf(n.T, `<starttls xmlns='%s'/>`, ns.StartTLS); err != nil {
		return stream.Features{}, err
	}

	start, err := n.R.NextTopLevelElement()
	if err != nil {
		return stream.Features{}, err
	}
	switch start.Name {
	case xml.Name{Space: ns.StartTLS, Local: "proceed"}:
		if err := n.R.Skip(); err != nil {
			return stream.Features{}, err
		}
	case xml.Name{Space: ns.StartTLS, Local: "failure"}:
		_ = n.R.Skip()
		return stream.Features{}, ErrTLSFailure
	default:
		if err := n.R.Skip(); err != nil {
			return stream.Features{}, err
		}
		return stream.Features{}, fmt.Errorf("negotiate: unexpected element %v while awaiting starttls proceed", start.Name)
	}

	cfg := n.Config.TLSConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = n.To.Domainpart()
	}
	if err := n.T.EnableTLS(ctx, cfg); err != nil {
		return stream.Features{}, fmt.Errorf("%w: tls handshake: %v", ErrTLSFailure, err)
	}
	if n.Config.Security == SecurityRequired && !n.T.IsSecure() {
		return stream.Features{}, ErrSecurityRequired
	}

	return n.restart(n.T)
}

// doCompress writes <compress><method>zlib</method></compress>, waits
// for <compressed/> or <failure/>, and restarts the stream on success.
// A compression <failure/> is recoverable: doCompress returns it as
// errCompressFailureRetry, and Negotiate then sets compressionFailed so
// that zlib is not requested again while it re-evaluates the same
// <features/> element (the transport's IsCompressed stays false).
func (n *Negotiator) doCompress(ctx context.Context) (stream.Features, error) {
	if _, err := fmt.Fprintf(n.T, `<compress xmlns='%s'><method>zlib</method></compress>`, ns.Compressp); err != nil {
		return stream.Features{}, err
	}

	start, err := n.R.NextTopLevelElement()
	if err != nil {
		return stream.Features{}, err
	}
	switch start.Name {
	case xml.Name{Space: ns.Compressp, Local: "compressed"}:
		if err := n.R.Skip(); err != nil {
			return stream.Features{}, err
		}
	case xml.Name{Space: ns.Compressp, Local: "failure"}:
		_ = n.R.Skip()
		return stream.Features{}, errCompressFailureRetry
	default:
		if err := n.R.Skip(); err != nil {
			return stream.Features{}, err
		}
		return stream.Features{}, fmt.Errorf("negotiate: unexpected element %v while awaiting compressed", start.Name)
	}

	n.T.EnableStreamCompression()
	return n.restart(n.T)
}

// errCompressFailureRetry signals doCompress's caller not to give up:
// the testable property "no double zlib attempt per features" requires
// the loop to re-evaluate the SAME <features/> rather than treat a
// compression failure as fatal to the whole negotiation. Since
// n.T.IsCompressed() stays false after a failed attempt, simply
// re-entering Negotiate's precondition switch with compression still
// "wanted" would retry zlib forever; n.compressionFailed is set by the
// caller instead, once this sentinel is observed.
var errCompressFailureRetry = errors.New("negotiate: compression failed, not retrying")

// restart performs the C2 stream reset: it resets R's parser (rebuilding
// the decoder only if newSrc is non-nil, per Reader.Reset's contract),
// writes a fresh stream open, reads the peer's matching one back, and
// returns the post-restart <stream:features/> (or a synthesized legacy
// marker for a pre-1.0 peer) as the next iteration's input.
func (n *Negotiator) restart(newSrc io.Reader) (stream.Features, error) {
	n.R.Reset(newSrc)
	if err := stream.OpenStream(n.T, n.To, jid.JID{}, "", n.Lang); err != nil {
		return stream.Features{}, err
	}
	info, err := stream.ReadOpen(n.R)
	if err != nil {
		return stream.Features{}, err
	}
	return ReadFeatures(n.R, info)
}

// ReadFeatures reads the single top-level element expected immediately
// after a stream open: a real <stream:features/> for an XMPP 1.0+ peer,
// or (spec §4.2's legacy handling) nothing at all for a peer whose
// stream header carried no version attribute or one below 1.0 — in
// which case Features.Legacy is set instead of fabricating an empty
// <features/> element that was never on the wire (spec §9's REDESIGN
// suggestion).
func ReadFeatures(r *stream.Reader, info stream.Info) (stream.Features, error) {
	if info.Version.Encode() < 100 {
		return stream.Features{Legacy: true}, nil
	}
	start, err := r.NextTopLevelElement()
	if err != nil {
		return stream.Features{}, err
	}
	if start.Name != (xml.Name{Space: ns.Stream, Local: "features"}) {
		if err := r.Skip(); err != nil {
			return stream.Features{}, err
		}
		return stream.Features{}, fmt.Errorf("negotiate: expected stream:features, got %v", start.Name)
	}
	elem, err := r.ReadElement(start)
	if err != nil {
		return stream.Features{}, err
	}
	return stream.Features{Real: elem}, nil
}

// parseFeatures walks a <stream:features/> element's children looking
// for the handful the negotiator (and, afterward, the SASL driver) cares
// about. Unrecognized children are skipped: spec §4.4's edge case treats
// anything the state machine doesn't recognize as benign server noise.
// elem.Children() is used rather than consuming elem.Inner directly so
// that the same Element can be parsed more than once (the negotiator
// parses it to drive the state machine; the SASL driver parses the
// final one again for its mechanism list).
func parseFeatures(elem *stream.Element) (parsedFeatures, error) {
	pf := parsedFeatures{compressionMethods: map[string]bool{}}
	it := iter.New(elem.Children())
	for it.Next() {
		start, cur := it.Current()
		switch start.Name {
		case xml.Name{Space: ns.StartTLS, Local: "starttls"}:
			pf.tlsOffered = true
			sub := iter.New(cur)
			for sub.Next() {
				s, _ := sub.Current()
				if s.Name.Local == "required" {
					pf.tlsRequiredByPeer = true
				}
			}
			if err := sub.Err(); err != nil {
				return pf, err
			}
		case xml.Name{Space: ns.Compress, Local: "compression"}:
			sub := iter.New(cur)
			for sub.Next() {
				s, scur := sub.Current()
				if s.Name.Local == "method" {
					text, err := childText(scur)
					if err != nil {
						return pf, err
					}
					pf.compressionMethods[strings.TrimSpace(text)] = true
				}
			}
			if err := sub.Err(); err != nil {
				return pf, err
			}
		case xml.Name{Space: ns.SASL, Local: "mechanisms"}:
			sub := iter.New(cur)
			for sub.Next() {
				s, scur := sub.Current()
				if s.Name.Local == "mechanism" {
					text, err := childText(scur)
					if err != nil {
						return pf, err
					}
					pf.mechanisms = append(pf.mechanisms, strings.TrimSpace(text))
				}
			}
			if err := sub.Err(); err != nil {
				return pf, err
			}
		case xml.Name{Space: ns.Bind, Local: "bind"}:
			pf.bind = true
		case xml.Name{Space: ns.Session, Local: "session"}:
			pf.session = true
		}
	}
	return pf, it.Err()
}

// childText drains cur (an iter.Iter child reader, bounded by the
// child's own end tag) collecting character data, for the simple
// text-only children (<method>, <mechanism>) features parsing needs.
func childText(cur xml.TokenReader) (string, error) {
	var sb strings.Builder
	for {
		tok, err := cur.Token()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		if cd, ok := tok.(xml.CharData); ok {
			sb.Write(cd)
		}
	}
}

// Mechanisms returns the SASL mechanism names advertised by features,
// or nil for a legacy (pre-1.0) stream. The sasl package consumes this
// to drive C6.
func Mechanisms(f stream.Features) ([]string, error) {
	if f.Legacy || f.Real == nil {
		return nil, nil
	}
	pf, err := parseFeatures(f.Real)
	if err != nil {
		return nil, err
	}
	return pf.mechanisms, nil
}

// BindOffered and SessionOffered report whether the post-auth features
// advertised resource binding / legacy session establishment, the two
// facts sasl.Bind and sasl.EstablishSession gate on.
func BindOffered(f stream.Features) (bool, error) {
	if f.Legacy || f.Real == nil {
		return false, nil
	}
	pf, err := parseFeatures(f.Real)
	if err != nil {
		return false, err
	}
	return pf.bind, nil
}

func SessionOffered(f stream.Features) (bool, error) {
	if f.Legacy || f.Real == nil {
		return false, nil
	}
	pf, err := parseFeatures(f.Real)
	if err != nil {
		return false, err
	}
	return pf.session, nil
}

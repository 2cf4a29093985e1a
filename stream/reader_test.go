// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream_test

import (
	"encoding/xml"
	"io"
	"strings"
	"testing"

	"xmppstream/stream"
)

func consumeStreamHeader(t *testing.T, r *stream.Reader) {
	t.Helper()
	for {
		tok, err := r.Decoder().Token()
		if err != nil {
			t.Fatalf("unexpected error reading stream header: %v", err)
		}
		if _, ok := tok.(xml.StartElement); ok {
			return
		}
	}
}

func TestNextTopLevelElement(t *testing.T) {
	const doc = `<stream:stream xmlns:stream="http://etherx.jabber.org/streams"><a/><b><c/></b></stream:stream>`
	r := stream.NewReader(strings.NewReader(doc))
	consumeStreamHeader(t, r)

	elem, err := r.NextTopLevelElement()
	if err != nil {
		t.Fatalf("unexpected error reading first child: %v", err)
	}
	if elem.Name.Local != "a" {
		t.Fatalf("got element %q, want %q", elem.Name.Local, "a")
	}

	elem, err = r.NextTopLevelElement()
	if err != nil {
		t.Fatalf("unexpected error reading second child: %v", err)
	}
	if elem.Name.Local != "b" {
		t.Fatalf("got element %q, want %q", elem.Name.Local, "b")
	}
	if err := r.Skip(); err != nil {
		t.Fatalf("unexpected error skipping <b>: %v", err)
	}

	if _, err := r.NextTopLevelElement(); err != io.EOF {
		t.Fatalf("got error %v, want io.EOF", err)
	}
}

func TestNextTopLevelElementRejectsStrayCharData(t *testing.T) {
	const doc = `<stream:stream xmlns:stream="http://etherx.jabber.org/streams">not whitespace<a/></stream:stream>`
	r := stream.NewReader(strings.NewReader(doc))
	consumeStreamHeader(t, r)
	if _, err := r.NextTopLevelElement(); err != stream.ErrUnexpectedChars {
		t.Fatalf("got error %v, want %v", err, stream.ErrUnexpectedChars)
	}
}

func TestNextTopLevelElementEOFOnStreamClose(t *testing.T) {
	const doc = `<stream:stream xmlns:stream="http://etherx.jabber.org/streams"></stream:stream>`
	r := stream.NewReader(strings.NewReader(doc))
	consumeStreamHeader(t, r)
	if _, err := r.NextTopLevelElement(); err != io.EOF {
		t.Fatalf("got error %v, want io.EOF", err)
	}
}

func TestReadElementSurvivesReaderAdvancing(t *testing.T) {
	const doc = `<stream:stream xmlns:stream="http://etherx.jabber.org/streams"><features><a>1</a></features><next/></stream:stream>`
	r := stream.NewReader(strings.NewReader(doc))
	consumeStreamHeader(t, r)

	start, err := r.NextTopLevelElement()
	if err != nil {
		t.Fatalf("NextTopLevelElement() unexpected error: %v", err)
	}
	elem, err := r.ReadElement(start)
	if err != nil {
		t.Fatalf("ReadElement() unexpected error: %v", err)
	}

	// The reader has already moved past <features>; a second top-level
	// read must see <next/>, not anything left over from the captured
	// element.
	start, err = r.NextTopLevelElement()
	if err != nil {
		t.Fatalf("NextTopLevelElement() unexpected error: %v", err)
	}
	if start.Name.Local != "next" {
		t.Fatalf("got element %q, want %q", start.Name.Local, "next")
	}

	// The previously captured element is still fully readable.
	if elem.Name.Local != "features" {
		t.Fatalf("got element %q, want %q", elem.Name.Local, "features")
	}
	tok, err := elem.Children().Token()
	if err != nil {
		t.Fatalf("Inner.Token() unexpected error: %v", err)
	}
	se, ok := tok.(xml.StartElement)
	if !ok || se.Name.Local != "a" {
		t.Fatalf("got token %#v, want <a> start element", tok)
	}
}

func TestReaderResetSameByteStream(t *testing.T) {
	const doc = `<stream:stream xmlns:stream="http://etherx.jabber.org/streams"><success/><stream:stream xmlns:stream="http://etherx.jabber.org/streams"><features/></stream:stream>`
	r := stream.NewReader(strings.NewReader(doc))
	consumeStreamHeader(t, r)

	start, err := r.NextTopLevelElement()
	if err != nil {
		t.Fatalf("NextTopLevelElement() unexpected error: %v", err)
	}
	if err := r.Skip(); err != nil {
		t.Fatalf("Skip() unexpected error: %v", err)
	}
	_ = start

	r.Reset(nil)
	if _, err := stream.ReadOpen(r); err != nil {
		t.Fatalf("ReadOpen() after Reset unexpected error: %v", err)
	}
	start, err = r.NextTopLevelElement()
	if err != nil {
		t.Fatalf("NextTopLevelElement() after restart unexpected error: %v", err)
	}
	if start.Name.Local != "features" {
		t.Fatalf("got element %q, want %q", start.Name.Local, "features")
	}
}

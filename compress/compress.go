// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package compress implements RFC 1950 zlib stream compression for an
// XMPP connection (XEP-0138), the only compression method negotiated by
// this engine's C4 feature negotiator.
package compress

import (
	"compress/zlib"
	"io"
	"sync"
)

// Method is the wire name of the sole compression method this package
// implements.
const Method = "zlib"

// Codec wraps a raw connection in zlib compression. Writes are flushed
// immediately after every call (a sync-flush discipline, not a true
// Z_SYNC_FLUSH libz call, but observationally equivalent for a
// byte-stream transport): XMPP stanzas must not be held back waiting for
// the compressor's internal buffer to fill.
//
// Reader construction is deferred until the first Read, since the zlib
// reader blocks immediately trying to read the stream header, but a
// client must be able to send its post-compression <stream:stream>
// before the server's header bytes are available to read.
type Codec struct {
	rm, wm sync.Mutex

	raw    io.ReadWriter
	writer *zlib.Writer
	reader io.ReadCloser
}

// NewCodec wraps rw with zlib compression at level 9 (spec §6).
func NewCodec(rw io.ReadWriter) *Codec {
	w, err := zlib.NewWriterLevel(rw, zlib.BestCompression)
	if err != nil {
		// BestCompression is always a valid level; zlib.NewWriterLevel
		// only errors on an out-of-range level.
		panic(err)
	}
	return &Codec{raw: rw, writer: w}
}

// Write compresses and flushes p.
func (c *Codec) Write(p []byte) (int, error) {
	c.wm.Lock()
	defer c.wm.Unlock()
	n, err := c.writer.Write(p)
	if err != nil {
		return n, err
	}
	return n, c.writer.Flush()
}

// Read decompresses into p, constructing the zlib reader on first use.
func (c *Codec) Read(p []byte) (int, error) {
	c.rm.Lock()
	if c.reader == nil {
		r, err := zlib.NewReader(c.raw)
		if err != nil {
			c.rm.Unlock()
			return 0, err
		}
		c.reader = r
	}
	reader := c.reader
	c.rm.Unlock()
	return reader.Read(p)
}

// Close closes both the reader (if one was ever constructed) and the
// writer, returning the last error encountered, if any.
func (c *Codec) Close() error {
	var err error

	c.rm.Lock()
	if c.reader != nil {
		if e := c.reader.Close(); e != nil {
			err = e
		}
	}
	c.rm.Unlock()

	c.wm.Lock()
	if e := c.writer.Close(); e != nil {
		err = e
	}
	c.wm.Unlock()

	return err
}

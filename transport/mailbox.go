// Copyright 2026 The xmppstream Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package transport

import (
	"sync"

	"xmppstream/stream"
)

// Mailbox is the single-slot rendezvous between the transport's one
// reader goroutine and whatever consumer processes incoming top-level
// stream elements (the engine's dispatch loop). It replaces a
// condvar-and-mutex handoff with a capacity-1 channel: the reader
// goroutine blocks on a channel send instead of a condition variable, so
// there is no lost-wakeup window and backpressure is automatic — the
// reader cannot get more than one element ahead of the consumer.
type Mailbox struct {
	slot     chan Delivery
	done     chan struct{}
	closeOne sync.Once
}

// Delivery is one top-level stream element handed from the reader
// goroutine to the consumer, or a terminal error ending the stream.
type Delivery struct {
	Element *stream.Element
	Err     error
}

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		slot: make(chan Delivery, 1),
		done: make(chan struct{}),
	}
}

// Send places d in the mailbox's single slot, blocking until the
// previous delivery has been taken or the mailbox is closed. It returns
// false if the mailbox was closed first, in which case the reader
// goroutine should exit.
func (m *Mailbox) Send(d Delivery) bool {
	select {
	case m.slot <- d:
		return true
	case <-m.done:
		return false
	}
}

// Receive blocks until a delivery is available, returning it along with
// true, or returns false if the mailbox has been closed with nothing
// pending.
func (m *Mailbox) Receive() (Delivery, bool) {
	select {
	case d := <-m.slot:
		return d, true
	case <-m.done:
		select {
		case d := <-m.slot:
			return d, true
		default:
			return Delivery{}, false
		}
	}
}

// Close unblocks any pending or future Send/Receive call. It is safe to
// call more than once.
func (m *Mailbox) Close() {
	m.closeOne.Do(func() { close(m.done) })
}

// Copyright 2026 The powchain Authors
// This file is part of the powchain library.
//
// The powchain library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The powchain library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the powchain library. If not, see <http://www.gnu.org/licenses/>.

package overlay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Role identifies which side of a connection we are.
type Role int

const (
	// Outbound peers are connections we initiated: we may issue get
	// requests and broadcast post messages to them.
	Outbound Role = iota
	// Inbound peers initiated the connection: they issue requests, we
	// respond.
	Inbound
)

func (r Role) String() string {
	if r == Outbound {
		return "outbound"
	}
	return "inbound"
}

// PeerConnection wraps one websocket connection and the bookkeeping the
// Overlay needs to address it: a stable ID, its role, a buffered send
// channel serializing writes onto the underlying socket, and a slot for
// a goroutine awaiting a single outstanding get reply.
type PeerConnection struct {
	ID         uuid.UUID
	RemoteAddr string
	Role       Role

	conn   *websocket.Conn
	sendCh chan Envelope
	closed atomic.Bool

	replyMu sync.Mutex
	replyCh chan Envelope // non-nil while a Request is awaiting a reply

	done chan struct{}
}

func newPeerConnection(conn *websocket.Conn, remoteAddr string, role Role) *PeerConnection {
	return &PeerConnection{
		ID:         uuid.New(),
		RemoteAddr: remoteAddr,
		Role:       role,
		conn:       conn,
		sendCh:     make(chan Envelope, 64),
		done:       make(chan struct{}),
	}
}

// Send enqueues env for delivery on this connection's write loop. It is
// a no-op, returning false, on a closed connection.
func (p *PeerConnection) Send(env Envelope) bool {
	if p.closed.Load() {
		return false
	}
	select {
	case p.sendCh <- env:
		return true
	case <-p.done:
		return false
	}
}

// awaitReply registers a one-shot channel that the read loop will
// deliver the next okay/error frame to, and returns a function to
// unregister it (used on timeout).
func (p *PeerConnection) awaitReply() (chan Envelope, func()) {
	ch := make(chan Envelope, 1)
	p.replyMu.Lock()
	p.replyCh = ch
	p.replyMu.Unlock()
	return ch, func() {
		p.replyMu.Lock()
		if p.replyCh == ch {
			p.replyCh = nil
		}
		p.replyMu.Unlock()
	}
}

// deliverReply hands env to a waiting Request, if one is outstanding.
// It reports whether a waiter consumed it.
func (p *PeerConnection) deliverReply(env Envelope) bool {
	p.replyMu.Lock()
	ch := p.replyCh
	p.replyCh = nil
	p.replyMu.Unlock()
	if ch == nil {
		return false
	}
	select {
	case ch <- env:
		return true
	default:
		return false
	}
}

func (p *PeerConnection) close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.done)
	_ = p.conn.Close()
}

// writeLoop drains sendCh onto the socket until the connection closes.
func (p *PeerConnection) writeLoop() {
	for {
		select {
		case env := <-p.sendCh:
			_ = p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := p.conn.WriteJSON(env); err != nil {
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

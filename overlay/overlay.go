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
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/google/uuid"
)

// ErrDuplicateConnection is returned by Connect when an outbound
// connection to the same remote address already exists.
var ErrDuplicateConnection = errors.New("overlay: duplicate outbound connection")

// GetHandler answers a `get` command with the reply payload (the
// framework wraps it in an `okay` envelope and sends it back).
type GetHandler func(ctx context.Context, params map[string]any) (map[string]any, error)

// PostHandler handles a `post` command. A nil reply with a nil error
// means no reply is sent, matching spec.md's "may return None".
type PostHandler func(ctx context.Context, from *PeerConnection, params map[string]any) (reply map[string]any, err error)

// CommandEntry pairs the server-side handlers for one command name.
// Only one of Get/Post is normally populated, matching whether the
// command is a get or post verb.
type CommandEntry struct {
	Get  GetHandler
	Post PostHandler
}

// CommandTable is the static command-name -> handler-pair registry
// built once at Overlay construction, the idiomatic-Go rendition of
// introspecting a decorated handler set at runtime (spec.md §9).
type CommandTable map[string]CommandEntry

// Mode selects how Request fans out: to one peer or to every outbound
// peer.
type Mode int

const (
	ModeSingle Mode = iota
	ModeAll
)

// ReturnWhen controls how long recvAll waits before returning.
type ReturnWhen int

const (
	// AllCompleted waits for every fan-out reply or the timeout.
	AllCompleted ReturnWhen = iota
	// FirstCompleted returns as soon as one reply lands, cancelling
	// the rest.
	FirstCompleted
)

// PeerReply pairs a received reply envelope with the peer it came from.
type PeerReply struct {
	Peer     *PeerConnection
	Envelope Envelope
}

// DefaultRequestTimeout is the per-reply timeout used by Request/recvAll
// when none is supplied explicitly.
const DefaultRequestTimeout = 3 * time.Second

// Overlay manages the set of connected peers and dispatches inbound
// envelopes through a static command table. It is the peer-to-peer
// transport layer; it knows nothing about blocks or transactions.
type Overlay struct {
	mu       sync.RWMutex
	outbound map[string]*PeerConnection // keyed by remote address
	inbound  map[uuid.UUID]*PeerConnection

	commands       CommandTable
	upgrader       websocket.Upgrader
	requestTimeout time.Duration

	server *http.Server
	logger zerolog.Logger
}

// New returns an Overlay dispatching inbound get/post envelopes through
// commands.
func New(commands CommandTable) *Overlay {
	return &Overlay{
		outbound:       make(map[string]*PeerConnection),
		inbound:        make(map[uuid.UUID]*PeerConnection),
		commands:       commands,
		upgrader:       websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		requestTimeout: DefaultRequestTimeout,
		logger:         log.With().Str("module", "overlay").Logger(),
	}
}

// Start binds a listener on port, begins accepting inbound connections,
// and connects to each of initialPeers. It returns once the listener is
// bound; accepting and peer connection happen in the background.
func (o *Overlay) Start(ctx context.Context, port int, initialPeers []string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", o.handleInbound)
	o.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	ln, err := net.Listen("tcp", o.server.Addr)
	if err != nil {
		return errors.Wrap(err, "overlay: bind listener")
	}

	go func() {
		if err := o.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error().Err(err).Msg("overlay listener stopped")
		}
	}()

	for _, addr := range initialPeers {
		addr := addr
		go func() {
			if _, err := o.Connect(ctx, addr); err != nil {
				o.logger.Warn().Err(err).Str("addr", addr).Msg("failed to connect to bootstrap peer")
			}
		}()
	}
	return nil
}

// Stop disconnects every peer and shuts down the listener.
func (o *Overlay) Stop(ctx context.Context) error {
	o.DisconnectAll()
	if o.server == nil {
		return nil
	}
	return o.server.Shutdown(ctx)
}

func (o *Overlay) handleInbound(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		o.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	peer := newPeerConnection(conn, r.RemoteAddr, Inbound)
	o.mu.Lock()
	o.inbound[peer.ID] = peer
	o.mu.Unlock()
	go peer.writeLoop()
	o.readLoop(peer)
}

// Connect opens an outbound connection to addr (a ws:// or wss:// URI).
// A second Connect to the same addr while one is live returns
// ErrDuplicateConnection.
func (o *Overlay) Connect(ctx context.Context, addr string) (*PeerConnection, error) {
	o.mu.Lock()
	if _, exists := o.outbound[addr]; exists {
		o.mu.Unlock()
		return nil, ErrDuplicateConnection
	}
	o.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "overlay: dial peer")
	}

	peer := newPeerConnection(conn, addr, Outbound)
	o.mu.Lock()
	if _, exists := o.outbound[addr]; exists {
		o.mu.Unlock()
		_ = conn.Close()
		return nil, ErrDuplicateConnection
	}
	o.outbound[addr] = peer
	o.mu.Unlock()

	go peer.writeLoop()
	go o.readLoop(peer)
	return peer, nil
}

// Disconnect closes one peer connection.
func (o *Overlay) Disconnect(peer *PeerConnection) {
	o.removePeer(peer)
	peer.close()
}

// DisconnectAllOutbound closes every outbound connection.
func (o *Overlay) DisconnectAllOutbound() {
	for _, p := range o.snapshotOutbound() {
		o.Disconnect(p)
	}
}

// DisconnectAllInbound closes every inbound connection.
func (o *Overlay) DisconnectAllInbound() {
	for _, p := range o.snapshotInbound() {
		o.Disconnect(p)
	}
}

// DisconnectAll closes every connection, inbound and outbound.
func (o *Overlay) DisconnectAll() {
	o.DisconnectAllOutbound()
	o.DisconnectAllInbound()
}

func (o *Overlay) removePeer(peer *PeerConnection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if peer.Role == Outbound {
		if existing, ok := o.outbound[peer.RemoteAddr]; ok && existing.ID == peer.ID {
			delete(o.outbound, peer.RemoteAddr)
		}
	} else {
		delete(o.inbound, peer.ID)
	}
}

// snapshotOutbound returns a point-in-time copy of the outbound set, so
// broadcasts and fan-outs are unaffected by concurrent connect/
// disconnect (spec.md §9, "connection set mutation during iteration").
func (o *Overlay) snapshotOutbound() []*PeerConnection {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*PeerConnection, 0, len(o.outbound))
	for _, p := range o.outbound {
		out = append(out, p)
	}
	return out
}

func (o *Overlay) snapshotInbound() []*PeerConnection {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*PeerConnection, 0, len(o.inbound))
	for _, p := range o.inbound {
		out = append(out, p)
	}
	return out
}

// OutboundPeers returns a snapshot of every live outbound connection,
// for callers (e.g. the Node's sync-on-startup step) that need to issue
// requests against each of them.
func (o *Overlay) OutboundPeers() []*PeerConnection {
	return o.snapshotOutbound()
}

// Outbound reports the addresses of every live outbound peer, the
// payload behind get_nodes.
func (o *Overlay) Outbound() []string {
	peers := o.snapshotOutbound()
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.RemoteAddr)
	}
	return out
}

// Broadcast sends env to every outbound peer concurrently, best-effort:
// a send failure on one peer never aborts delivery to the rest.
func (o *Overlay) Broadcast(env Envelope) {
	peers := o.snapshotOutbound()
	var wg sync.WaitGroup
	wg.Add(len(peers))
	for _, p := range peers {
		p := p
		go func() {
			defer wg.Done()
			p.Send(env)
		}()
	}
	wg.Wait()
}

// Request issues a `get` envelope and waits for a reply. In ModeSingle,
// peer must be non-nil: it sends to that peer only and waits up to the
// request timeout. In ModeAll, it broadcasts to every outbound peer and
// collects every reply received before the timeout.
func (o *Overlay) Request(ctx context.Context, env Envelope, mode Mode, peer *PeerConnection) ([]PeerReply, error) {
	switch mode {
	case ModeSingle:
		if peer == nil {
			return nil, errors.New("overlay: ModeSingle requires a peer")
		}
		reply, err := o.requestSingle(ctx, peer, env, o.requestTimeout)
		if err != nil {
			return nil, err
		}
		return []PeerReply{{Peer: peer, Envelope: reply}}, nil
	case ModeAll:
		return o.recvAll(ctx, o.snapshotOutbound(), env, AllCompleted, o.requestTimeout), nil
	default:
		return nil, errors.New("overlay: unknown request mode")
	}
}

// requestSingle sends env to peer and waits for the next okay/error
// reply on that connection, the timeout, or ctx cancellation.
func (o *Overlay) requestSingle(ctx context.Context, peer *PeerConnection, env Envelope, timeout time.Duration) (Envelope, error) {
	replyCh, forget := peer.awaitReply()
	defer forget()

	if !peer.Send(env) {
		return Envelope{}, errors.New("overlay: peer connection closed")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replyCh:
		return reply, nil
	case <-timer.C:
		return Envelope{}, context.DeadlineExceeded
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// recvAll is the primitive behind Request(ModeAll): it sends env to
// every peer in peers concurrently and waits, according to returnWhen,
// for either the first reply or all replies, bounded by timeout.
// Stragglers past the deadline are excluded from the result.
func (o *Overlay) recvAll(ctx context.Context, peers []*PeerConnection, env Envelope, returnWhen ReturnWhen, timeout time.Duration) []PeerReply {
	fanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan PeerReply, len(peers))
	var wg sync.WaitGroup
	wg.Add(len(peers))
	for _, p := range peers {
		p := p
		go func() {
			defer wg.Done()
			reply, err := o.requestSingle(fanCtx, p, env, timeout)
			if err == nil {
				ch <- PeerReply{Peer: p, Envelope: reply}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	var out []PeerReply
	if returnWhen == FirstCompleted {
		select {
		case r, ok := <-ch:
			if ok {
				out = append(out, r)
			}
		case <-fanCtx.Done():
		}
		return out
	}
	for r := range ch {
		out = append(out, r)
	}
	return out
}

// readLoop pumps inbound frames off the socket until it closes, routing
// each through dispatch.
func (o *Overlay) readLoop(peer *PeerConnection) {
	defer o.removePeer(peer)
	defer peer.close()
	for {
		_, raw, err := peer.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := decodeEnvelope(raw)
		if err != nil {
			peer.Send(errorEnvelope(err.Error()))
			continue
		}
		o.dispatch(peer, env)
	}
}

// dispatch routes one inbound, already-validated envelope (spec.md
// §4.3/§7): replies to our own outstanding requests are delivered to
// the waiting Request call, unsolicited error frames are logged and
// dropped, and get/post frames are routed through the command table.
func (o *Overlay) dispatch(peer *PeerConnection, env Envelope) {
	switch env.Type {
	case TypeOkay, TypeError:
		if peer.deliverReply(env) {
			return
		}
		if env.Type == TypeError {
			o.logger.Info().Str("peer", peer.RemoteAddr).Str("message", env.Message()).Msg("unsolicited error envelope")
		}
	case TypeGet:
		o.dispatchGet(peer, env)
	case TypePost:
		o.dispatchPost(peer, env)
	}
}

func (o *Overlay) dispatchGet(peer *PeerConnection, env Envelope) {
	entry, ok := o.commands[env.Command()]
	if !ok || entry.Get == nil {
		peer.Send(errorEnvelope("unknown command: " + env.Command()))
		return
	}
	reply, err := entry.Get(context.Background(), env.Data)
	if err != nil {
		peer.Send(errorEnvelope(err.Error()))
		return
	}
	peer.Send(okayEnvelope(reply))
}

func (o *Overlay) dispatchPost(peer *PeerConnection, env Envelope) {
	entry, ok := o.commands[env.Command()]
	if !ok || entry.Post == nil {
		o.logger.Info().Str("peer", peer.RemoteAddr).Str("command", env.Command()).Msg("unknown post command")
		return
	}
	reply, err := entry.Post(context.Background(), peer, env.Data)
	if err != nil {
		peer.Send(errorEnvelope(err.Error()))
		return
	}
	if reply != nil {
		peer.Send(okayEnvelope(reply))
	}
}

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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsURL starts an httptest server wired to o's inbound handler and
// returns its ws:// URL.
func wsURL(t *testing.T, o *Overlay) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewUnstartedServer(http.HandlerFunc(o.handleInbound))
	srv.Start()
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDispatchGetRoutesThroughCommandTable(t *testing.T) {
	commands := CommandTable{
		"get_echo": {Get: func(_ context.Context, params map[string]any) (map[string]any, error) {
			return map[string]any{"value": params["value"]}, nil
		}},
	}
	o := New(commands)
	srv, addr := wsURL(t, o)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Envelope{Type: TypeGet, Data: map[string]any{"command": "get_echo", "value": "hi"}}))

	var reply Envelope
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, TypeOkay, reply.Type)
	require.Equal(t, "hi", reply.Data["value"])
}

func TestDispatchUnknownGetRepliesError(t *testing.T) {
	o := New(CommandTable{})
	srv, addr := wsURL(t, o)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Envelope{Type: TypeGet, Data: map[string]any{"command": "get_nonexistent"}}))

	var reply Envelope
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, TypeError, reply.Type)
}

func TestDispatchMalformedEnvelopeRepliesError(t *testing.T) {
	o := New(CommandTable{})
	srv, addr := wsURL(t, o)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"get","data":{}}`)))

	var reply Envelope
	require.NoError(t, conn.ReadJSON(&reply))
	require.Equal(t, TypeError, reply.Type)
}

func TestConnectRefusesDuplicate(t *testing.T) {
	server := New(CommandTable{})
	srv, addr := wsURL(t, server)
	defer srv.Close()

	client := New(CommandTable{})
	ctx := context.Background()
	_, err := client.Connect(ctx, addr)
	require.NoError(t, err)

	_, err = client.Connect(ctx, addr)
	require.ErrorIs(t, err, ErrDuplicateConnection)
}

func TestBroadcastDeliversToOutboundPeer(t *testing.T) {
	received := make(chan map[string]any, 1)
	server := New(CommandTable{
		"post_ping": {Post: func(_ context.Context, _ *PeerConnection, params map[string]any) (map[string]any, error) {
			received <- params
			return nil, nil
		}},
	})
	srv, addr := wsURL(t, server)
	defer srv.Close()

	client := New(CommandTable{})
	peer, err := client.Connect(context.Background(), addr)
	require.NoError(t, err)

	client.Broadcast(Envelope{Type: TypePost, Data: map[string]any{"command": "post_ping", "nonce": float64(7)}})

	select {
	case params := <-received:
		require.Equal(t, float64(7), params["nonce"])
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast was not delivered")
	}
	require.Len(t, client.Outbound(), 1)
	require.Equal(t, peer.RemoteAddr, client.Outbound()[0])
}

func TestRequestSingleRoundTrip(t *testing.T) {
	server := New(CommandTable{
		"get_value": {Get: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return map[string]any{"value": float64(42)}, nil
		}},
	})
	srv, addr := wsURL(t, server)
	defer srv.Close()

	client := New(CommandTable{})
	peer, err := client.Connect(context.Background(), addr)
	require.NoError(t, err)

	replies, err := client.Request(context.Background(), Envelope{Type: TypeGet, Data: map[string]any{"command": "get_value"}}, ModeSingle, peer)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, float64(42), replies[0].Envelope.Data["value"])
}

func TestRequestSingleUnknownCommandRepliesError(t *testing.T) {
	server := New(CommandTable{}) // no handler registered: server errors back immediately
	srv, addr := wsURL(t, server)
	defer srv.Close()

	client := New(CommandTable{})
	client.requestTimeout = 200 * time.Millisecond
	peer, err := client.Connect(context.Background(), addr)
	require.NoError(t, err)

	replies, err := client.Request(context.Background(), Envelope{Type: TypeGet, Data: map[string]any{"command": "get_unhandled"}}, ModeSingle, peer)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, TypeError, replies[0].Envelope.Type)
}

func TestDisconnectAllClearsPeerSets(t *testing.T) {
	server := New(CommandTable{})
	srv, addr := wsURL(t, server)
	defer srv.Close()

	client := New(CommandTable{})
	_, err := client.Connect(context.Background(), addr)
	require.NoError(t, err)
	require.Len(t, client.Outbound(), 1)

	client.DisconnectAll()
	require.Empty(t, client.Outbound())
}

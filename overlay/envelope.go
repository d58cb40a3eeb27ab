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

// Package overlay implements the peer-to-peer transport: connection
// management, the get/post/okay/error envelope, and the request/
// broadcast primitives built on top of a persistent, JSON-framed,
// bidirectional websocket stream (mirrors the request/response
// plumbing of klaytn's networks/p2p, rendered over gorilla/websocket
// instead of devp2p framing since this protocol has no discovery or
// RLPx handshake to speak of).
package overlay

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Type is one of the four envelope kinds carried at the frame level.
type Type string

const (
	TypeGet   Type = "get"
	TypePost  Type = "post"
	TypeOkay  Type = "okay"
	TypeError Type = "error"
)

// Envelope is the wire frame exchanged over every peer connection: one
// JSON object per frame, `data` holding a `command` string (for get/post)
// or a `message` string (for error).
type Envelope struct {
	Type Type           `json:"type"`
	Data map[string]any `json:"data"`
}

// ErrMalformedEnvelope is returned by decodeEnvelope when an inbound
// frame parses but is not a well-formed envelope: a missing or unknown
// type, or a get/post data body missing its command. A frame that does
// not parse into an envelope object is reported by the wrapped JSON
// error instead.
var ErrMalformedEnvelope = errors.New("overlay: malformed envelope")

// Command returns the `command` field of a get/post envelope's data, or
// "" if absent.
func (e Envelope) Command() string {
	if e.Data == nil {
		return ""
	}
	cmd, _ := e.Data["command"].(string)
	return cmd
}

// Message returns the `message` field of an error envelope's data.
func (e Envelope) Message() string {
	if e.Data == nil {
		return ""
	}
	msg, _ := e.Data["message"].(string)
	return msg
}

// decodeEnvelope parses and validates raw as an Envelope. A frame that
// decodes structurally but fails validation (missing command on a
// get/post) is reported via ErrMalformedEnvelope, distinct from a JSON
// syntax error, so callers can log the two cases differently if they
// wish.
func decodeEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, errors.Wrap(err, "overlay: decode envelope")
	}
	switch e.Type {
	case TypeGet, TypePost:
		if e.Data == nil || e.Command() == "" {
			return Envelope{}, ErrMalformedEnvelope
		}
	case TypeOkay:
		// data may be empty (no reply payload)
	case TypeError:
		if e.Data == nil {
			e.Data = map[string]any{}
		}
	default:
		return Envelope{}, ErrMalformedEnvelope
	}
	return e, nil
}

// okayEnvelope wraps data as a successful `okay` reply.
func okayEnvelope(data map[string]any) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{Type: TypeOkay, Data: data}
}

// errorEnvelope wraps msg as an `error` reply.
func errorEnvelope(msg string) Envelope {
	return Envelope{Type: TypeError, Data: map[string]any{"message": msg}}
}

// decodeParams re-marshals data and unmarshals it into target, giving
// handlers typed access to command-specific fields without hand-rolled
// map access.
func decodeParams(data map[string]any, target any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

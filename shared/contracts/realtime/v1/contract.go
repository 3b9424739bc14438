// Package v1 defines the Wisp Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello binds the already-authenticated user identity to the session (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeRoomJoin requests membership in a room (client -> server) and is echoed back.
	TypeRoomJoin = "room_join"
	// TypeRoomLeave leaves a room (client -> server).
	TypeRoomLeave = "room_leave"

	// TypePresenceUpdate broadcasts the full set of online user ids (server -> all clients).
	TypePresenceUpdate = "presence_update"

	// TypeMessageSend requests sending a direct message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageNew broadcasts a persisted direct message (server -> room members).
	TypeMessageNew = "message_new"

	// TypeGroupMessageSend requests sending a group message (client -> server).
	TypeGroupMessageSend = "group_message_send"
	// TypeGroupMessageNew broadcasts a persisted group message (server -> room members).
	TypeGroupMessageNew = "group_message_new"

	// TypeVoiceNoteSend carries a raw audio payload for a direct chat (client -> server).
	TypeVoiceNoteSend = "voice_note_send"
	// TypeGroupVoiceNoteSend carries a raw audio payload for a group (client -> server).
	TypeGroupVoiceNoteSend = "group_voice_note_send"

	// TypeMemberRemoved tells room members to evict a removed user's UI state (server -> room members).
	TypeMemberRemoved = "member_removed"

	// Call signaling (client -> server, relayed server -> target's private room).
	TypeCallRequest = "call_request"
	TypeCallAccept  = "call_accept"
	TypeCallEnd     = "call_end"
	TypeNegoOffer   = "nego_offer"
	TypeNegoAnswer  = "nego_answer"

	// Relayed call events (server -> target).
	TypeCallIncoming = "call_incoming"
	TypeCallAccepted = "call_accepted"
	TypeCallEnded    = "call_ended"

	// TypeError is a connection-scoped error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeRoomJoin,
		TypeRoomLeave,
		TypePresenceUpdate,
		TypeMessageSend,
		TypeMessageNew,
		TypeGroupMessageSend,
		TypeGroupMessageNew,
		TypeVoiceNoteSend,
		TypeGroupVoiceNoteSend,
		TypeMemberRemoved,
		TypeCallRequest,
		TypeCallAccept,
		TypeCallEnd,
		TypeNegoOffer,
		TypeNegoAnswer,
		TypeCallIncoming,
		TypeCallAccepted,
		TypeCallEnded,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

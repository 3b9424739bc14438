package v1

import "time"

// ---- Session ----

// HelloPayload binds the session to an identity issued by the auth edge.
// The server trusts these fields; credential validation happens upstream.
type HelloPayload struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// HelloAckPayload confirms the handshake and returns the session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// ---- Rooms & presence ----

// RoomJoinPayload requests membership in a room (direct chat id, group id,
// or the caller's own private channel "user:<id>").
type RoomJoinPayload struct {
	RoomID string `json:"room_id"`
}

// RoomLeavePayload leaves a room.
type RoomLeavePayload struct {
	RoomID string `json:"room_id"`
}

// PresenceUpdatePayload carries the full set of online user ids.
type PresenceUpdatePayload struct {
	UserIDs []string `json:"user_ids"`
}

// ---- Messages ----

// AttachmentRef describes an already-ingested attachment. The upload path
// is out of band; only the resulting descriptor travels through realtime.
type AttachmentRef struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
}

// MessageSendPayload requests sending a direct-chat message.
type MessageSendPayload struct {
	ChatID     string         `json:"chat_id"`
	SenderID   string         `json:"sender_id"`
	ReceiverID string         `json:"receiver_id"`
	Content    string         `json:"content"`
	Attachment *AttachmentRef `json:"attachment,omitempty"`
}

// GroupMessageSendPayload requests sending a group message.
type GroupMessageSendPayload struct {
	GroupID    string         `json:"group_id"`
	UserID     string         `json:"user_id"`
	Content    string         `json:"content"`
	Attachment *AttachmentRef `json:"attachment,omitempty"`
}

// VoiceNoteSendPayload carries raw audio for a direct chat.
// Audio is base64-encoded by encoding/json on the wire.
type VoiceNoteSendPayload struct {
	ChatID     string `json:"chat_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Audio      []byte `json:"audio"`
	Mime       string `json:"mime,omitempty"`
}

// GroupVoiceNoteSendPayload carries raw audio for a group.
type GroupVoiceNoteSendPayload struct {
	GroupID  string `json:"group_id"`
	SenderID string `json:"sender_id"`
	Audio    []byte `json:"audio"`
	Mime     string `json:"mime,omitempty"`
}

// MessageRecord is the flattened message shape broadcast to room members
// on message_new and group_message_new envelopes.
type MessageRecord struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chat_id,omitempty"`
	GroupID        string    `json:"group_id,omitempty"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	ReceiverID     string    `json:"receiver_id,omitempty"`
	ReceiverName   string    `json:"receiver_name,omitempty"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	AttachmentName string    `json:"attachment_name,omitempty"`
	AttachmentType string    `json:"attachment_type,omitempty"`
	AttachmentSize int64     `json:"attachment_size,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MemberRemovedPayload tells clients to evict a removed member.
type MemberRemovedPayload struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

// ---- Call signaling ----

// CallSignalPayload is the generic call-lifecycle relay shape.
// Signal carries the SDP offer/answer (or nothing for end events);
// the relay forwards it unchanged.
type CallSignalPayload struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Signal string `json:"signal,omitempty"`
}

// ---- Errors ----

// ErrorPayload is delivered only to the originating connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

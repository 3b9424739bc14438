// Package chat contains Wisp's conversation aggregates: the record-store
// boundary, the cache-aside coordinator, and the message fan-out pipeline.
package chat

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	ErrChatNotFound  = errors.New("chat: chat not found")
	ErrGroupNotFound = errors.New("chat: group not found")
	ErrUserNotFound  = errors.New("chat: user not found")
	ErrNotAdmin      = errors.New("chat: only the group admin may change membership")
)

// Kind is the closed message-kind variant. It is decided once at the
// boundary and carried as data, never re-derived downstream.
type Kind string

const (
	KindText       Kind = "text"
	KindAttachment Kind = "attachment"
	KindVoice      Kind = "voice"
)

// Valid reports whether k is one of the closed variants.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindAttachment, KindVoice:
		return true
	}
	return false
}

// User is the read-only identity projection supplied by the auth edge.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Attachment describes an ingested file by reference.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Mime string `json:"mime"`
	Size int64  `json:"size"`
}

// Message is the persisted unit of communication. Exactly one of ChatID or
// GroupID is set. Immutable after creation.
type Message struct {
	ID           string      `json:"id"`
	ChatID       string      `json:"chat_id,omitempty"`
	GroupID      string      `json:"group_id,omitempty"`
	SenderID     string      `json:"sender_id"`
	SenderName   string      `json:"sender_name,omitempty"`
	ReceiverID   string      `json:"receiver_id,omitempty"`
	ReceiverName string      `json:"receiver_name,omitempty"`
	Content      string      `json:"content"`
	Kind         Kind        `json:"type"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// RoomID returns the broadcast room the message belongs to.
func (m Message) RoomID() string {
	if m.GroupID != "" {
		return m.GroupID
	}
	return m.ChatID
}

// Chat is a direct conversation between an unordered pair of users.
// UserLo/UserHi hold the sorted pair so (A,B) and (B,A) resolve identically.
type Chat struct {
	ID        string    `json:"id"`
	UserLo    string    `json:"user_lo"`
	UserHi    string    `json:"user_hi"`
	CreatedAt time.Time `json:"created_at"`
}

// DirectChat is the chat identity aggregate: the chat plus its full message
// history ordered by creation time ascending.
type DirectChat struct {
	Chat     Chat      `json:"chat"`
	Messages []Message `json:"messages"`

	// Created reports that the lookup created the chat. It travels with
	// the store result only; a cached aggregate always decodes as false.
	Created bool `json:"-"`
}

// ChatSummary is one entry of a user's chat list: the chat, both
// participants, and the single most recent message (nil when empty).
type ChatSummary struct {
	Chat        Chat     `json:"chat"`
	Users       []User   `json:"users"`
	LastMessage *Message `json:"last_message,omitempty"`
}

// Group is a named multi-user conversation with a designated admin.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	AdminID   string    `json:"admin_id"`
	CreatedAt time.Time `json:"created_at"`
}

// GroupSnapshot is the group aggregate: the group, its ordered message
// history, and its member list.
type GroupSnapshot struct {
	Group    Group     `json:"group"`
	Messages []Message `json:"messages"`
	Members  []User    `json:"members"`
}

// AppendMessageInput describes a message append. Exactly one of ChatID or
// GroupID must be set; Kind must be a valid closed variant.
type AppendMessageInput struct {
	ChatID     string
	GroupID    string
	SenderID   string
	ReceiverID string
	Content    string
	Kind       Kind
	Attachment *Attachment
	Now        time.Time
}

// CreateGroupInput describes group creation. The creator becomes admin and
// a member; MemberIDs are joined alongside.
type CreateGroupInput struct {
	Name      string
	CreatorID string
	MemberIDs []string
	Now       time.Time
}

// Store is the transactional record-store boundary.
//
// Requirements:
//   - FindOrCreateDirectChat resolves the same chat for (A,B) and (B,A).
//   - Message queries are ordered by created_at ascending.
//   - Appends to one conversation are serialized: two sequential appends
//     persist in submission order.
type Store interface {
	FindOrCreateDirectChat(ctx context.Context, userA, userB string) (DirectChat, error)
	ListMessages(ctx context.Context, chatID string) ([]Message, error)
	ListChatsForUser(ctx context.Context, userID string) ([]ChatSummary, error)
	GetGroup(ctx context.Context, groupID string) (GroupSnapshot, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]Group, error)

	AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error)

	// UpsertUser makes an identity visible for display-name resolution.
	// Identity issuance happens upstream; this only mirrors id + name.
	UpsertUser(ctx context.Context, u User) error

	CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error)
	AddGroupMembers(ctx context.Context, groupID string, userIDs []string) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error
	GetGroupAdmin(ctx context.Context, groupID string) (string, error)

	IsChatParticipant(ctx context.Context, chatID, userID string) (bool, error)
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	ShareDirectChat(ctx context.Context, userA, userB string) (bool, error)

	Close() error
}

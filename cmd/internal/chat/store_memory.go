package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"wisp/cmd/internal/ids"
)

// InMemoryStore is a dev and test fallback when Postgres is not configured.
// It honors the same ordering and canonical-pair semantics as the Postgres
// store; appends are serialized by a single mutex.
type InMemoryStore struct {
	mu     sync.Mutex
	users  map[string]User
	chats  map[string]*memChat
	pairs  map[string]string // "lo\x00hi" -> chat id
	groups map[string]*memGroup
}

type memChat struct {
	chat Chat
	msgs []Message
}

type memGroup struct {
	group   Group
	members map[string]struct{}
	msgs    []Message
}

// NewInMemoryStore constructs an empty in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:  make(map[string]User),
		chats:  make(map[string]*memChat),
		pairs:  make(map[string]string),
		groups: make(map[string]*memGroup),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// UpsertUser records an identity for display-name resolution.
func (s *InMemoryStore) UpsertUser(ctx context.Context, u User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("missing user id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

// FindOrCreateDirectChat resolves the chat for the unordered pair, creating
// it when absent. Messages are returned ordered by creation time ascending.
func (s *InMemoryStore) FindOrCreateDirectChat(ctx context.Context, userA, userB string) (DirectChat, error) {
	if userA == "" || userB == "" {
		return DirectChat{}, errors.New("missing participant id")
	}
	if err := ctx.Err(); err != nil {
		return DirectChat{}, err
	}

	lo, hi := CanonicalPair(userA, userB)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.pairs[lo+"\x00"+hi]; ok {
		c := s.chats[id]
		return DirectChat{Chat: c.chat, Messages: cloneMessages(c.msgs)}, nil
	}

	now := time.Now().UTC()
	c := &memChat{
		chat: Chat{
			ID:        ids.MustULID(now),
			UserLo:    lo,
			UserHi:    hi,
			CreatedAt: now,
		},
	}
	s.chats[c.chat.ID] = c
	s.pairs[lo+"\x00"+hi] = c.chat.ID

	return DirectChat{Chat: c.chat, Messages: nil, Created: true}, nil
}

// ListMessages returns all messages for a chat ordered ascending.
func (s *InMemoryStore) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	if chatID == "" {
		return nil, errors.New("missing chat_id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	return cloneMessages(c.msgs), nil
}

// ListChatsForUser returns every chat containing the user, each with both
// participants and its single most recent message.
func (s *InMemoryStore) ListChatsForUser(ctx context.Context, userID string) ([]ChatSummary, error) {
	if userID == "" {
		return nil, errors.New("missing user_id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ChatSummary
	for _, c := range s.chats {
		if c.chat.UserLo != userID && c.chat.UserHi != userID {
			continue
		}
		sum := ChatSummary{
			Chat:  c.chat,
			Users: []User{s.userLocked(c.chat.UserLo), s.userLocked(c.chat.UserHi)},
		}
		if n := len(c.msgs); n > 0 {
			last := c.msgs[n-1]
			sum.LastMessage = &last
		}
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Chat.ID < out[j].Chat.ID })
	return out, nil
}

// GetGroup returns the group aggregate: group, ordered messages, members.
func (s *InMemoryStore) GetGroup(ctx context.Context, groupID string) (GroupSnapshot, error) {
	if groupID == "" {
		return GroupSnapshot{}, errors.New("missing group_id")
	}
	if err := ctx.Err(); err != nil {
		return GroupSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return GroupSnapshot{}, ErrGroupNotFound
	}

	members := make([]User, 0, len(g.members))
	for id := range g.members {
		members = append(members, s.userLocked(id))
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })

	return GroupSnapshot{
		Group:    g.group,
		Messages: cloneMessages(g.msgs),
		Members:  members,
	}, nil
}

// ListGroupsForUser returns the groups the user belongs to.
func (s *InMemoryStore) ListGroupsForUser(ctx context.Context, userID string) ([]Group, error) {
	if userID == "" {
		return nil, errors.New("missing user_id")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Group
	for _, g := range s.groups {
		if _, ok := g.members[userID]; ok {
			out = append(out, g.group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AppendMessage persists a message with resolved display names.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	if err := validateAppend(in); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		ID:         ids.MustULID(now),
		ChatID:     in.ChatID,
		GroupID:    in.GroupID,
		SenderID:   in.SenderID,
		SenderName: s.userLocked(in.SenderID).Name,
		Content:    in.Content,
		Kind:       in.Kind,
		Attachment: in.Attachment,
		CreatedAt:  now,
	}

	if in.GroupID != "" {
		g, ok := s.groups[in.GroupID]
		if !ok {
			return Message{}, ErrGroupNotFound
		}
		g.msgs = append(g.msgs, msg)
		return msg, nil
	}

	c, ok := s.chats[in.ChatID]
	if !ok {
		return Message{}, ErrChatNotFound
	}
	msg.ReceiverID = in.ReceiverID
	msg.ReceiverName = s.userLocked(in.ReceiverID).Name
	c.msgs = append(c.msgs, msg)
	return msg, nil
}

// CreateGroup creates a group with the creator as admin and member.
func (s *InMemoryStore) CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error) {
	if strings.TrimSpace(in.Name) == "" || in.CreatorID == "" {
		return Group{}, errors.New("missing group name or creator")
	}
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g := &memGroup{
		group: Group{
			ID:        ids.MustULID(now),
			Name:      in.Name,
			AdminID:   in.CreatorID,
			CreatedAt: now,
		},
		members: map[string]struct{}{in.CreatorID: {}},
	}
	for _, id := range in.MemberIDs {
		if id != "" {
			g.members[id] = struct{}{}
		}
	}
	s.groups[g.group.ID] = g
	return g.group, nil
}

// AddGroupMembers joins users to the group (idempotent).
func (s *InMemoryStore) AddGroupMembers(ctx context.Context, groupID string, userIDs []string) error {
	if groupID == "" {
		return errors.New("missing group_id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	for _, id := range userIDs {
		if id != "" {
			g.members[id] = struct{}{}
		}
	}
	return nil
}

// RemoveGroupMember removes one user from the group.
func (s *InMemoryStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	if groupID == "" || userID == "" {
		return errors.New("missing group_id or user_id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	delete(g.members, userID)
	return nil
}

// GetGroupAdmin returns the group's designated admin id.
func (s *InMemoryStore) GetGroupAdmin(ctx context.Context, groupID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return "", ErrGroupNotFound
	}
	return g.group.AdminID, nil
}

// IsChatParticipant reports whether the user belongs to the chat's pair.
func (s *InMemoryStore) IsChatParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return false, nil
	}
	return c.chat.UserLo == userID || c.chat.UserHi == userID, nil
}

// IsGroupMember reports whether the user is a member of the group.
func (s *InMemoryStore) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return false, nil
	}
	_, member := g.members[userID]
	return member, nil
}

// ShareDirectChat reports whether a direct chat exists for the pair.
func (s *InMemoryStore) ShareDirectChat(ctx context.Context, userA, userB string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	lo, hi := CanonicalPair(userA, userB)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pairs[lo+"\x00"+hi]
	return ok, nil
}

func (s *InMemoryStore) userLocked(id string) User {
	if u, ok := s.users[id]; ok {
		return u
	}
	return User{ID: id}
}

func validateAppend(in AppendMessageInput) error {
	if in.SenderID == "" {
		return errors.New("missing sender_id")
	}
	if (in.ChatID == "") == (in.GroupID == "") {
		return errors.New("exactly one of chat_id or group_id required")
	}
	if !in.Kind.Valid() {
		return errors.New("invalid message kind")
	}
	return nil
}

func cloneMessages(in []Message) []Message {
	if len(in) == 0 {
		return nil
	}
	return append([]Message(nil), in...)
}

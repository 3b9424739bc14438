package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	v1 "wisp/shared/contracts/realtime/v1"
)

// Group membership mutation is coupled to fan-out: every successful change
// persists a system message into the group stream (distinguishable by
// content, not a dedicated kind) and broadcasts it like any group message.

// CreateGroup creates the group with the caller as admin, seeds the welcome
// system message, and invalidates the (unlikely but possible) snapshot key.
func (p *Pipeline) CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error) {
	group, err := p.coord.Store().CreateGroup(ctx, in)
	if err != nil {
		return Group{}, fmt.Errorf("create group: %w", err)
	}

	if _, err := p.coord.Store().AppendMessage(ctx, AppendMessageInput{
		GroupID:  group.ID,
		SenderID: in.CreatorID,
		Content:  "Welcome to the group " + group.Name,
		Kind:     KindText,
	}); err != nil {
		return Group{}, fmt.Errorf("seed welcome message: %w", err)
	}

	if err := p.coord.InvalidateGroup(ctx, group.ID); err != nil {
		return Group{}, fmt.Errorf("invalidate cache: %w", err)
	}
	return group, nil
}

// AddMembers joins users to the group. Only the designated admin may call
// it; on success a system message is persisted and broadcast.
func (p *Pipeline) AddMembers(ctx context.Context, groupID, actorID string, userIDs []string) error {
	if err := p.requireAdmin(ctx, groupID, actorID); err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return errors.New("no user ids given")
	}

	if err := p.coord.Store().AddGroupMembers(ctx, groupID, userIDs); err != nil {
		return fmt.Errorf("add members: %w", err)
	}

	return p.systemMessage(ctx, groupID, actorID,
		"New members have been added to the group by admin")
}

// RemoveMember removes one user from the group. Admin-only; on success a
// system message is broadcast plus a member_removed signal so clients can
// evict the removed member's UI state.
func (p *Pipeline) RemoveMember(ctx context.Context, groupID, actorID, userID string) error {
	if err := p.requireAdmin(ctx, groupID, actorID); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return errors.New("missing user_id")
	}

	if err := p.coord.Store().RemoveGroupMember(ctx, groupID, userID); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}

	if err := p.systemMessage(ctx, groupID, actorID,
		"User has been removed from the group by admin"); err != nil {
		return err
	}

	if p.rooms != nil {
		payload, err := json.Marshal(v1.MemberRemovedPayload{GroupID: groupID, UserID: userID})
		if err != nil {
			return fmt.Errorf("encode member_removed: %w", err)
		}
		p.rooms.Broadcast(groupID, NewEnvelope(v1.TypeMemberRemoved, payload))
	}
	return nil
}

func (p *Pipeline) requireAdmin(ctx context.Context, groupID, actorID string) error {
	if strings.TrimSpace(groupID) == "" || strings.TrimSpace(actorID) == "" {
		return errors.New("missing group_id or actor id")
	}

	adminID, err := p.coord.Store().GetGroupAdmin(ctx, groupID)
	if err != nil {
		return err
	}
	if adminID != actorID {
		return ErrNotAdmin
	}
	return nil
}

// systemMessage persists and fans out an admin-generated notice through the
// normal group pipeline, so ordering and invalidation match user messages.
func (p *Pipeline) systemMessage(ctx context.Context, groupID, actorID, content string) error {
	_, err := p.SendGroup(ctx, GroupMessageInput{
		GroupID:  groupID,
		SenderID: actorID,
		Content:  content,
		Kind:     KindText,
	})
	return err
}

package realtime

import (
	"context"
	"time"
)

const accessCheckTimeout = 3 * time.Second

// MembershipStore is the capability subset of the chat store the gateway
// needs for authorization decisions.
type MembershipStore interface {
	IsChatParticipant(ctx context.Context, chatID, userID string) (bool, error)
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	ShareDirectChat(ctx context.Context, a, b string) (bool, error)
}

// AccessChecker gates room joins and call signaling. Every check fails
// closed: on store error the capability is denied.
type AccessChecker struct {
	store MembershipStore
}

// NewAccessChecker constructs an AccessChecker over the membership store.
func NewAccessChecker(store MembershipStore) *AccessChecker {
	return &AccessChecker{store: store}
}

// CanJoin reports whether userID may join roomID.
//
// Private rooms ("user:<id>") admit only their owner. Any other room id is
// either a direct chat id or a group id; membership in either grants entry.
func (a *AccessChecker) CanJoin(ctx context.Context, userID, roomID string) bool {
	if userID == "" || roomID == "" {
		return false
	}

	if owner, ok := IsPrivateRoomID(roomID); ok {
		return owner == userID
	}

	ctx, cancel := context.WithTimeout(ctx, accessCheckTimeout)
	defer cancel()

	if ok, err := a.store.IsChatParticipant(ctx, roomID, userID); err == nil && ok {
		return true
	}
	if ok, err := a.store.IsGroupMember(ctx, roomID, userID); err == nil && ok {
		return true
	}
	return false
}

// CanSignal reports whether from may send call signaling to to. Peers must
// already share a direct chat.
func (a *AccessChecker) CanSignal(ctx context.Context, from, to string) bool {
	if from == "" || to == "" || from == to {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, accessCheckTimeout)
	defer cancel()

	ok, err := a.store.ShareDirectChat(ctx, from, to)
	return err == nil && ok
}

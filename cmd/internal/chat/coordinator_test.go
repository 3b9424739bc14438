package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingStore counts read calls so tests can assert cache behavior.
type countingStore struct {
	Store
	listMessages atomic.Int64
	getGroup     atomic.Int64
}

func (s *countingStore) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	s.listMessages.Add(1)
	return s.Store.ListMessages(ctx, chatID)
}

func (s *countingStore) GetGroup(ctx context.Context, groupID string) (GroupSnapshot, error) {
	s.getGroup.Add(1)
	return s.Store.GetGroup(ctx, groupID)
}

// failingCache errors on every operation except Del, which succeeds so
// write paths stay usable.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("cache down")
}
func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}
func (failingCache) Del(context.Context, ...string) error { return nil }
func (failingCache) Close() error                         { return nil }

func seedDirectChat(t *testing.T, s Store) (chatID string) {
	t.Helper()
	dc, err := s.FindOrCreateDirectChat(context.Background(), "u1", "u2")
	if err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	if _, err := s.AppendMessage(context.Background(), AppendMessageInput{
		ChatID:     dc.Chat.ID,
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "hello",
		Kind:       KindText,
	}); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return dc.Chat.ID
}

func TestCoordinator_MessagesServedFromCacheAfterMiss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &countingStore{Store: NewInMemoryStore()}
	chatID := seedDirectChat(t, store)

	coord := NewCoordinator(testLogger(), store, NewMemoryCache())

	first, err := coord.Messages(ctx, chatID)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := coord.Messages(ctx, chatID)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}

	if len(first) != 1 || len(second) != 1 || first[0].Content != second[0].Content {
		t.Fatalf("reads disagree: %v vs %v", first, second)
	}
	if n := store.listMessages.Load(); n != 1 {
		t.Fatalf("store hit %d times, want 1 (second read must come from cache)", n)
	}
}

func TestCoordinator_InvalidationForcesRecompute(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &countingStore{Store: NewInMemoryStore()}
	chatID := seedDirectChat(t, store)

	coord := NewCoordinator(testLogger(), store, NewMemoryCache())

	if _, err := coord.Messages(ctx, chatID); err != nil {
		t.Fatalf("warm read: %v", err)
	}

	// A new message lands and every embedding key is invalidated before
	// anyone is told about it.
	if _, err := store.AppendMessage(ctx, AppendMessageInput{
		ChatID:     chatID,
		SenderID:   "u2",
		ReceiverID: "u1",
		Content:    "fresh",
		Kind:       KindText,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := coord.InvalidateDirectMessage(ctx, chatID, "u2", "u1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	msgs, err := coord.Messages(ctx, chatID)
	if err != nil {
		t.Fatalf("post-invalidate read: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "fresh" {
		t.Fatalf("post-invalidate read returned stale snapshot: %v", msgs)
	}
	if n := store.listMessages.Load(); n != 2 {
		t.Fatalf("store reads=%d want 2", n)
	}
}

func TestCoordinator_DirectChatIdentityInvalidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()
	coord := NewCoordinator(testLogger(), store, NewMemoryCache())

	dc, err := coord.DirectChat(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("direct chat: %v", err)
	}
	if len(dc.Messages) != 0 {
		t.Fatalf("fresh chat has messages: %v", dc.Messages)
	}

	if _, err := store.AppendMessage(ctx, AppendMessageInput{
		ChatID:     dc.Chat.ID,
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "ping",
		Kind:       KindText,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := coord.InvalidateDirectMessage(ctx, dc.Chat.ID, "u1", "u2"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	// The identity aggregate embeds the message history and has no TTL, so
	// only the invalidation above can refresh it.
	again, err := coord.DirectChat(ctx, "u2", "u1")
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if len(again.Messages) != 1 || again.Messages[0].Content != "ping" {
		t.Fatalf("identity aggregate stale after invalidation: %v", again.Messages)
	}
}

// gatedStore parks the first identity lookup between compute and write-back
// so a concurrent write can land in the gap.
type gatedStore struct {
	Store
	mu      sync.Mutex
	gated   bool
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) FindOrCreateDirectChat(ctx context.Context, userA, userB string) (DirectChat, error) {
	out, err := s.Store.FindOrCreateDirectChat(ctx, userA, userB)

	s.mu.Lock()
	first := !s.gated
	s.gated = true
	s.mu.Unlock()
	if first {
		close(s.entered)
		<-s.release
	}
	return out, err
}

func TestCoordinator_WriteBackDoesNotResurrectInvalidatedSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := NewInMemoryStore()
	dc, err := inner.FindOrCreateDirectChat(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("seed chat: %v", err)
	}

	gated := &gatedStore{Store: inner, entered: make(chan struct{}), release: make(chan struct{})}
	coord := NewCoordinator(testLogger(), gated, NewMemoryCache())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = coord.DirectChat(ctx, "u1", "u2")
	}()

	// The slow read holds its empty snapshot but has not written it back.
	// A message lands and invalidates every embedding key in the gap.
	<-gated.entered
	if _, err := inner.AppendMessage(ctx, AppendMessageInput{
		ChatID:     dc.Chat.ID,
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "landed mid-read",
		Kind:       KindText,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := coord.InvalidateDirectMessage(ctx, dc.Chat.ID, "u1", "u2"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(gated.release)
	<-done

	// The identity key has no TTL: if the slow read wrote its pre-write
	// snapshot back, the chat would read empty until the next message.
	again, err := coord.DirectChat(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if len(again.Messages) != 1 || again.Messages[0].Content != "landed mid-read" {
		t.Fatalf("read after invalidation returned stale snapshot: %v", again.Messages)
	}
}

func TestCoordinator_ChatCreationInvalidatesChatLists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()
	coord := NewCoordinator(testLogger(), store, NewMemoryCache())

	// Both participants start with warm, empty chat lists.
	for _, id := range []string{"u1", "u2"} {
		chats, err := coord.ChatsForUser(ctx, id)
		if err != nil {
			t.Fatalf("warm list for %s: %v", id, err)
		}
		if len(chats) != 0 {
			t.Fatalf("warm list for %s not empty: %v", id, chats)
		}
	}

	dc, err := coord.DirectChat(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	// Creation must evict both lists; the volatile TTL alone would leave
	// the new chat invisible for up to a minute.
	for _, id := range []string{"u1", "u2"} {
		chats, err := coord.ChatsForUser(ctx, id)
		if err != nil {
			t.Fatalf("list for %s: %v", id, err)
		}
		if len(chats) != 1 || chats[0].Chat.ID != dc.Chat.ID {
			t.Fatalf("chat list for %s missing new chat: %v", id, chats)
		}
	}
}

func TestCoordinator_CacheFailureDegradesToStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &countingStore{Store: NewInMemoryStore()}
	chatID := seedDirectChat(t, store)

	coord := NewCoordinator(testLogger(), store, failingCache{})

	for i := 0; i < 2; i++ {
		msgs, err := coord.Messages(ctx, chatID)
		if err != nil {
			t.Fatalf("read %d with broken cache: %v", i, err)
		}
		if len(msgs) != 1 {
			t.Fatalf("read %d: len=%d", i, len(msgs))
		}
	}
	if n := store.listMessages.Load(); n != 2 {
		t.Fatalf("store reads=%d want 2 (every read degrades to store)", n)
	}
}

func TestCoordinator_GroupSnapshotCached(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &countingStore{Store: NewInMemoryStore()}
	g, err := store.CreateGroup(ctx, CreateGroupInput{Name: "g", CreatorID: "admin"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	coord := NewCoordinator(testLogger(), store, NewMemoryCache())

	if _, err := coord.Group(ctx, g.ID); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if _, err := coord.Group(ctx, g.ID); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if n := store.getGroup.Load(); n != 1 {
		t.Fatalf("store reads=%d want 1", n)
	}

	if err := coord.InvalidateGroup(ctx, g.ID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := coord.Group(ctx, g.ID); err != nil {
		t.Fatalf("post-invalidate read: %v", err)
	}
	if n := store.getGroup.Load(); n != 2 {
		t.Fatalf("store reads=%d want 2 after invalidation", n)
	}
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after expiry, got %v", err)
	}
}

func TestMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewMemoryCache()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	b, err := c.Get(ctx, "k")
	if err != nil || string(b) != "v" {
		t.Fatalf("zero-ttl entry lost: %q err=%v", b, err)
	}
}

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	v1 "wisp/shared/contracts/realtime/v1"

	"wisp/cmd/internal/blob"
)

// recordingBroadcaster captures fan-out for assertions.
type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []recordedBroadcast
}

type recordedBroadcast struct {
	roomID string
	env    v1.Envelope
}

func (b *recordingBroadcaster) Broadcast(roomID string, env v1.Envelope) {
	b.mu.Lock()
	b.sent = append(b.sent, recordedBroadcast{roomID: roomID, env: env})
	b.mu.Unlock()
}

func (b *recordingBroadcaster) all() []recordedBroadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedBroadcast(nil), b.sent...)
}

// memBlobStore is a test blob backend recording every Put.
type memBlobStore struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objs: make(map[string][]byte)}
}

func (s *memBlobStore) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	s.mu.Lock()
	s.objs[name] = append([]byte(nil), data...)
	s.mu.Unlock()
	return "/uploads/" + name, nil
}

func (s *memBlobStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}
func (s *memBlobStore) Delete(context.Context, string) error { return nil }
func (s *memBlobStore) Close() error                         { return nil }

// brokenBlobStore fails every write.
type brokenBlobStore struct{}

func (brokenBlobStore) Put(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unreachable")
}
func (brokenBlobStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("bucket unreachable")
}
func (brokenBlobStore) Delete(context.Context, string) error { return errors.New("bucket unreachable") }
func (brokenBlobStore) Close() error                         { return nil }

func newTestPipeline(t *testing.T, blobs blob.Store) (*Pipeline, Store, *recordingBroadcaster) {
	t.Helper()
	store := NewInMemoryStore()
	coord := NewCoordinator(testLogger(), store, NewMemoryCache())
	rooms := &recordingBroadcaster{}
	return NewPipeline(testLogger(), coord, blobs, rooms), store, rooms
}

func TestPipeline_SendDirect_PersistsAndBroadcasts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, store, rooms := newTestPipeline(t, newMemBlobStore())

	dc, err := store.FindOrCreateDirectChat(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	msg, err := p.SendDirect(ctx, DirectMessageInput{
		ChatID:     dc.Chat.ID,
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "hello there",
		Kind:       KindText,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == "" || msg.Content != "hello there" {
		t.Fatalf("bad stored message: %+v", msg)
	}

	stored, err := store.ListMessages(ctx, dc.Chat.ID)
	if err != nil || len(stored) != 1 {
		t.Fatalf("persisted=%v err=%v", stored, err)
	}

	sent := rooms.all()
	if len(sent) != 1 {
		t.Fatalf("broadcasts=%d want 1", len(sent))
	}
	if sent[0].roomID != dc.Chat.ID {
		t.Fatalf("room=%q want chat id %q", sent[0].roomID, dc.Chat.ID)
	}
	if sent[0].env.Type != v1.TypeMessageNew {
		t.Fatalf("type=%q want %q", sent[0].env.Type, v1.TypeMessageNew)
	}

	var got v1.MessageRecord
	if err := json.Unmarshal(sent[0].env.Payload, &got); err != nil {
		t.Fatalf("decode broadcast payload: %v", err)
	}
	if got.ID != msg.ID || got.Content != msg.Content || got.Type != string(msg.Kind) {
		t.Fatalf("broadcast payload differs from stored record: %+v vs %+v", got, msg)
	}
}

func TestPipeline_BroadcastFlattensAttachment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, store, rooms := newTestPipeline(t, newMemBlobStore())
	dc, _ := store.FindOrCreateDirectChat(ctx, "u1", "u2")

	if _, err := p.SendDirect(ctx, DirectMessageInput{
		ChatID:     dc.Chat.ID,
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "see attached",
		Kind:       KindAttachment,
		Attachment: &Attachment{URL: "/uploads/q3.pdf", Name: "q3.pdf", Mime: "application/pdf", Size: 2048},
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	sent := rooms.all()
	if len(sent) != 1 {
		t.Fatalf("broadcasts=%d want 1", len(sent))
	}

	// Room members receive the contract's flat attachment fields, not the
	// storage shape's nested object.
	var fields map[string]any
	if err := json.Unmarshal(sent[0].env.Payload, &fields); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if fields["attachment_url"] != "/uploads/q3.pdf" || fields["attachment_name"] != "q3.pdf" {
		t.Fatalf("attachment url/name not flattened: %v", fields)
	}
	if fields["attachment_type"] != "application/pdf" || fields["attachment_size"] != float64(2048) {
		t.Fatalf("attachment type/size not flattened: %v", fields)
	}
	if _, nested := fields["attachment"]; nested {
		t.Fatalf("payload still nests the attachment: %v", fields)
	}
	if fields["type"] != "attachment" {
		t.Fatalf("type=%v want attachment", fields["type"])
	}
}

func TestPipeline_SendDirect_RejectsInvalidKind(t *testing.T) {
	t.Parallel()

	p, store, rooms := newTestPipeline(t, newMemBlobStore())
	dc, _ := store.FindOrCreateDirectChat(context.Background(), "u1", "u2")

	_, err := p.SendDirect(context.Background(), DirectMessageInput{
		ChatID:     dc.Chat.ID,
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "x",
		Kind:       Kind("sticker"),
	})
	if err == nil {
		t.Fatalf("expected kind validation error")
	}
	if len(rooms.all()) != 0 {
		t.Fatalf("nothing may be broadcast on validation failure")
	}
}

func TestPipeline_SendGroup_BroadcastsToGroupRoom(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, store, rooms := newTestPipeline(t, newMemBlobStore())

	g, err := store.CreateGroup(ctx, CreateGroupInput{Name: "g", CreatorID: "admin"})
	if err != nil {
		t.Fatalf("group: %v", err)
	}

	if _, err := p.SendGroup(ctx, GroupMessageInput{
		GroupID:  g.ID,
		SenderID: "admin",
		Content:  "meeting at 5",
		Kind:     KindText,
	}); err != nil {
		t.Fatalf("send: %v", err)
	}

	sent := rooms.all()
	if len(sent) != 1 || sent[0].roomID != g.ID || sent[0].env.Type != v1.TypeGroupMessageNew {
		t.Fatalf("unexpected broadcast: %+v", sent)
	}
}

func TestPipeline_SendDirectVoice_WritesBlobFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := newMemBlobStore()
	p, store, rooms := newTestPipeline(t, blobs)

	dc, _ := store.FindOrCreateDirectChat(ctx, "u1", "u2")

	msg, err := p.SendDirectVoice(ctx, dc.Chat.ID, "u1", "u2", []byte{0x1a, 0x45, 0xdf, 0xa3}, "audio/webm")
	if err != nil {
		t.Fatalf("send voice: %v", err)
	}
	if msg.Kind != KindVoice {
		t.Fatalf("kind=%q want voice", msg.Kind)
	}
	if !strings.HasPrefix(msg.Content, "/uploads/voice-note-") || !strings.HasSuffix(msg.Content, ".webm") {
		t.Fatalf("content is not a blob URL: %q", msg.Content)
	}

	blobs.mu.Lock()
	stored := len(blobs.objs)
	blobs.mu.Unlock()
	if stored != 1 {
		t.Fatalf("blob objects=%d want 1", stored)
	}
	if len(rooms.all()) != 1 {
		t.Fatalf("voice note must broadcast like any message")
	}
}

func TestPipeline_SendDirectVoice_BlobFailureAbortsBeforePersist(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, store, rooms := newTestPipeline(t, brokenBlobStore{})

	dc, _ := store.FindOrCreateDirectChat(ctx, "u1", "u2")

	if _, err := p.SendDirectVoice(ctx, dc.Chat.ID, "u1", "u2", []byte{1, 2, 3}, "audio/webm"); err == nil {
		t.Fatalf("expected blob failure to abort")
	}

	msgs, err := store.ListMessages(ctx, dc.Chat.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("message persisted despite blob failure: %v", msgs)
	}
	if len(rooms.all()) != 0 {
		t.Fatalf("broadcast happened despite blob failure")
	}
}

func TestPipeline_SendDirectVoice_RejectsEmptyAudio(t *testing.T) {
	t.Parallel()

	p, store, _ := newTestPipeline(t, newMemBlobStore())
	dc, _ := store.FindOrCreateDirectChat(context.Background(), "u1", "u2")

	if _, err := p.SendDirectVoice(context.Background(), dc.Chat.ID, "u1", "u2", nil, ""); err == nil {
		t.Fatalf("expected empty audio rejection")
	}
}

// erroringDelCache fails deletes, simulating an unreachable cache on the
// write path.
type erroringDelCache struct {
	*MemoryCache
}

func (c erroringDelCache) Del(context.Context, ...string) error {
	return errors.New("cache unreachable")
}

func TestPipeline_InvalidationFailureSuppressesBroadcast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()
	coord := NewCoordinator(testLogger(), store, erroringDelCache{NewMemoryCache()})
	rooms := &recordingBroadcaster{}
	p := NewPipeline(testLogger(), coord, newMemBlobStore(), rooms)

	dc, _ := store.FindOrCreateDirectChat(ctx, "u1", "u2")

	_, err := p.SendDirect(ctx, DirectMessageInput{
		ChatID:     dc.Chat.ID,
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "will persist but not fan out",
		Kind:       KindText,
	})
	if err == nil {
		t.Fatalf("expected invalidation error to surface")
	}
	if len(rooms.all()) != 0 {
		t.Fatalf("broadcast must be suppressed when invalidation fails")
	}

	// The message itself is persisted; only the fan-out was held back.
	msgs, lerr := store.ListMessages(ctx, dc.Chat.ID)
	if lerr != nil || len(msgs) != 1 {
		t.Fatalf("persisted=%v err=%v", msgs, lerr)
	}
}

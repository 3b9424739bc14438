package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	v1 "wisp/shared/contracts/realtime/v1"

	"wisp/cmd/internal/blob"
	"wisp/cmd/internal/ids"
)

// Broadcaster fans one envelope out to every connection joined to a room.
// Implemented by the realtime hub.
type Broadcaster interface {
	Broadcast(roomID string, env v1.Envelope)
}

// Pipeline is the message fan-out pipeline: persist -> invalidate cache ->
// broadcast. The sequence is not atomic; an error after persist leaves the
// cache merely stale (bounded by TTL) and suppresses the broadcast, so room
// members never observe a partial fan-out.
type Pipeline struct {
	log   *slog.Logger
	coord *Coordinator
	blobs blob.Store
	rooms Broadcaster
}

// NewPipeline wires the pipeline.
func NewPipeline(log *slog.Logger, coord *Coordinator, blobs blob.Store, rooms Broadcaster) *Pipeline {
	return &Pipeline{log: log, coord: coord, blobs: blobs, rooms: rooms}
}

// DirectMessageInput is a direct-chat submission. Kind is decided by the
// caller at the boundary (attachment present -> attachment, raw audio ->
// voice, neither -> text) and carried as data from here on.
type DirectMessageInput struct {
	ChatID     string
	SenderID   string
	ReceiverID string
	Content    string
	Kind       Kind
	Attachment *Attachment
}

// GroupMessageInput is a group submission.
type GroupMessageInput struct {
	GroupID    string
	SenderID   string
	Content    string
	Kind       Kind
	Attachment *Attachment
}

// SendDirect persists a direct message, invalidates every cache key that
// embeds the chat's message collection, then broadcasts the stored record.
func (p *Pipeline) SendDirect(ctx context.Context, in DirectMessageInput) (Message, error) {
	if strings.TrimSpace(in.ChatID) == "" || in.SenderID == "" || in.ReceiverID == "" {
		return Message{}, errors.New("missing chat_id, sender_id or receiver_id")
	}
	if !in.Kind.Valid() {
		return Message{}, errors.New("invalid message kind")
	}

	msg, err := p.coord.Store().AppendMessage(ctx, AppendMessageInput{
		ChatID:     in.ChatID,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		Kind:       in.Kind,
		Attachment: in.Attachment,
	})
	if err != nil {
		fanoutFailures.WithLabelValues("persist").Inc()
		return Message{}, fmt.Errorf("persist message: %w", err)
	}

	if err := p.coord.InvalidateDirectMessage(ctx, in.ChatID, in.SenderID, in.ReceiverID); err != nil {
		fanoutFailures.WithLabelValues("invalidate").Inc()
		p.log.Error("fanout.invalidate.fail", "chat_id", in.ChatID, "err", err)
		return Message{}, fmt.Errorf("invalidate cache: %w", err)
	}

	p.broadcastMessage(v1.TypeMessageNew, in.ChatID, msg)
	fanoutMessages.WithLabelValues(string(in.Kind)).Inc()
	return msg, nil
}

// SendGroup persists a group message, invalidates the group snapshot, then
// broadcasts the stored record to the group room.
func (p *Pipeline) SendGroup(ctx context.Context, in GroupMessageInput) (Message, error) {
	if strings.TrimSpace(in.GroupID) == "" || in.SenderID == "" {
		return Message{}, errors.New("missing group_id or sender_id")
	}
	if !in.Kind.Valid() {
		return Message{}, errors.New("invalid message kind")
	}

	msg, err := p.coord.Store().AppendMessage(ctx, AppendMessageInput{
		GroupID:    in.GroupID,
		SenderID:   in.SenderID,
		Content:    in.Content,
		Kind:       in.Kind,
		Attachment: in.Attachment,
	})
	if err != nil {
		fanoutFailures.WithLabelValues("persist").Inc()
		return Message{}, fmt.Errorf("persist message: %w", err)
	}

	if err := p.coord.InvalidateGroup(ctx, in.GroupID); err != nil {
		fanoutFailures.WithLabelValues("invalidate").Inc()
		p.log.Error("fanout.invalidate.fail", "group_id", in.GroupID, "err", err)
		return Message{}, fmt.Errorf("invalidate cache: %w", err)
	}

	p.broadcastMessage(v1.TypeGroupMessageNew, in.GroupID, msg)
	fanoutMessages.WithLabelValues(string(in.Kind)).Inc()
	return msg, nil
}

// SendDirectVoice writes the raw audio to blob storage first; only the
// resulting URL is stored as the message content. A failed blob write
// aborts the submission before any persistence or broadcast.
func (p *Pipeline) SendDirectVoice(ctx context.Context, chatID, senderID, receiverID string, audio []byte, mime string) (Message, error) {
	url, err := p.putVoiceBlob(ctx, audio, mime)
	if err != nil {
		return Message{}, err
	}
	return p.SendDirect(ctx, DirectMessageInput{
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    url,
		Kind:       KindVoice,
	})
}

// SendGroupVoice is the group counterpart of SendDirectVoice.
func (p *Pipeline) SendGroupVoice(ctx context.Context, groupID, senderID string, audio []byte, mime string) (Message, error) {
	url, err := p.putVoiceBlob(ctx, audio, mime)
	if err != nil {
		return Message{}, err
	}
	return p.SendGroup(ctx, GroupMessageInput{
		GroupID:  groupID,
		SenderID: senderID,
		Content:  url,
		Kind:     KindVoice,
	})
}

func (p *Pipeline) putVoiceBlob(ctx context.Context, audio []byte, mime string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("empty audio payload")
	}
	if p.blobs == nil {
		return "", errors.New("blob store not configured")
	}
	if mime == "" {
		mime = "audio/webm"
	}

	name := "voice-note-" + ids.MustULID(time.Now().UTC()) + extensionForMime(mime)
	url, err := p.blobs.Put(ctx, name, mime, audio)
	if err != nil {
		fanoutFailures.WithLabelValues("blob").Inc()
		return "", fmt.Errorf("store voice note: %w", err)
	}
	return url, nil
}

// MirrorUser records a session identity so later appends resolve display
// names. Identity issuance happens upstream; only id and name land here.
func (p *Pipeline) MirrorUser(ctx context.Context, id, name string) error {
	return p.coord.Store().UpsertUser(ctx, User{ID: id, Name: name})
}

func (p *Pipeline) broadcastMessage(typ, roomID string, msg Message) {
	if p.rooms == nil {
		return
	}
	payload, err := json.Marshal(recordFromMessage(msg))
	if err != nil {
		p.log.Error("fanout.encode.fail", "room_id", roomID, "err", err)
		return
	}
	p.rooms.Broadcast(roomID, NewEnvelope(typ, payload))
}

// recordFromMessage flattens a stored message into the wire record shape
// room members receive. Attachment fields go flat, matching the contract.
func recordFromMessage(m Message) v1.MessageRecord {
	rec := v1.MessageRecord{
		ID:           m.ID,
		ChatID:       m.ChatID,
		GroupID:      m.GroupID,
		SenderID:     m.SenderID,
		SenderName:   m.SenderName,
		ReceiverID:   m.ReceiverID,
		ReceiverName: m.ReceiverName,
		Content:      m.Content,
		Type:         string(m.Kind),
		CreatedAt:    m.CreatedAt,
	}
	if m.Attachment != nil {
		rec.AttachmentURL = m.Attachment.URL
		rec.AttachmentName = m.Attachment.Name
		rec.AttachmentType = m.Attachment.Mime
		rec.AttachmentSize = m.Attachment.Size
	}
	return rec
}

// NewEnvelope wraps a payload in a v1 envelope with a fresh id.
func NewEnvelope(typ string, payload json.RawMessage) v1.Envelope {
	now := time.Now().UTC()
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ids.MustULID(now),
		TS:      now,
		Payload: payload,
	}
}

func extensionForMime(mime string) string {
	switch mime {
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".webm"
	}
}

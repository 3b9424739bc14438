package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wisp/cmd/internal/ids"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Appends take a per-conversation transactional advisory lock so two
//   sequential submissions to one room persist in submission order and
//   created_at never regresses within a conversation.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "wisp").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "wisp",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const messageColumns = `m.id, COALESCE(m.chat_id, ''), COALESCE(m.group_id, ''),
	m.sender_id, COALESCE(su.name, ''), COALESCE(m.receiver_id, ''), COALESCE(ru.name, ''),
	m.content, m.type,
	COALESCE(m.attachment_url, ''), COALESCE(m.attachment_name, ''),
	COALESCE(m.attachment_type, ''), COALESCE(m.attachment_size, 0),
	m.created_at`

func (s *PostgresStore) messageFrom() string {
	users := pgIdent(s.schema, "users")
	messages := pgIdent(s.schema, "messages")
	return messages + ` m
	  LEFT JOIN ` + users + ` su ON su.id = m.sender_id
	  LEFT JOIN ` + users + ` ru ON ru.id = m.receiver_id`
}

// UpsertUser mirrors an externally issued identity (id + display name).
func (s *PostgresStore) UpsertUser(ctx context.Context, u User) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("missing user id")
	}

	users := pgIdent(s.schema, "users")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		 WHERE EXCLUDED.name <> ''`,
		u.ID, u.Name,
	)
	return err
}

// FindOrCreateDirectChat resolves the chat record for the unordered pair,
// creating it when absent, and loads its message history ascending.
func (s *PostgresStore) FindOrCreateDirectChat(ctx context.Context, userA, userB string) (DirectChat, error) {
	if s == nil || s.pool == nil {
		return DirectChat{}, errors.New("chat: nil store")
	}
	if userA == "" || userB == "" {
		return DirectChat{}, errors.New("missing participant id")
	}
	if err := ctx.Err(); err != nil {
		return DirectChat{}, err
	}

	lo, hi := CanonicalPair(userA, userB)
	chats := pgIdent(s.schema, "chats")

	var c Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_lo, user_hi, created_at FROM `+chats+`
		  WHERE user_lo = $1 AND user_hi = $2`,
		lo, hi,
	).Scan(&c.ID, &c.UserLo, &c.UserHi, &c.CreatedAt)

	var created bool
	if errors.Is(err, pgx.ErrNoRows) {
		now := time.Now().UTC()
		id, idErr := ids.NewULID(now)
		if idErr != nil {
			return DirectChat{}, idErr
		}

		// ON CONFLICT + re-select keeps find-or-create race-safe: two
		// concurrent callers for the same pair converge on one row. Only
		// the caller whose INSERT landed reports Created.
		ct, execErr := s.pool.Exec(ctx,
			`INSERT INTO `+chats+` (id, user_lo, user_hi, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (user_lo, user_hi) DO NOTHING`,
			id, lo, hi, now,
		)
		if execErr != nil {
			return DirectChat{}, fmt.Errorf("create chat: %w", execErr)
		}
		created = ct.RowsAffected() == 1

		err = s.pool.QueryRow(ctx,
			`SELECT id, user_lo, user_hi, created_at FROM `+chats+`
			  WHERE user_lo = $1 AND user_hi = $2`,
			lo, hi,
		).Scan(&c.ID, &c.UserLo, &c.UserHi, &c.CreatedAt)
	}
	if err != nil {
		return DirectChat{}, err
	}

	msgs, err := s.ListMessages(ctx, c.ID)
	if err != nil {
		return DirectChat{}, err
	}
	return DirectChat{Chat: c, Messages: msgs, Created: created}, nil
}

// ListMessages returns all messages for a chat ordered by created_at ASC.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if chatID == "" {
		return nil, errors.New("missing chat_id")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+s.messageFrom()+`
		  WHERE m.chat_id = $1
		  ORDER BY m.created_at ASC, m.id ASC`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListChatsForUser returns all chats containing the user with each chat's
// single most recent message.
func (s *PostgresStore) ListChatsForUser(ctx context.Context, userID string) ([]ChatSummary, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if userID == "" {
		return nil, errors.New("missing user_id")
	}

	chats := pgIdent(s.schema, "chats")
	users := pgIdent(s.schema, "users")

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.user_lo, c.user_hi, c.created_at,
		        COALESCE(lu.name, ''), COALESCE(hu.name, '')
		   FROM `+chats+` c
		   LEFT JOIN `+users+` lu ON lu.id = c.user_lo
		   LEFT JOIN `+users+` hu ON hu.id = c.user_hi
		  WHERE c.user_lo = $1 OR c.user_hi = $1
		  ORDER BY c.id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatSummary
	for rows.Next() {
		var (
			sum            ChatSummary
			loName, hiName string
		)
		if err := rows.Scan(&sum.Chat.ID, &sum.Chat.UserLo, &sum.Chat.UserHi, &sum.Chat.CreatedAt, &loName, &hiName); err != nil {
			return nil, err
		}
		sum.Users = []User{
			{ID: sum.Chat.UserLo, Name: loName},
			{ID: sum.Chat.UserHi, Name: hiName},
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		last, err := s.lastMessage(ctx, out[i].Chat.ID)
		if err != nil {
			return nil, err
		}
		out[i].LastMessage = last
	}
	return out, nil
}

func (s *PostgresStore) lastMessage(ctx context.Context, chatID string) (*Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+s.messageFrom()+`
		  WHERE m.chat_id = $1
		  ORDER BY m.created_at DESC, m.id DESC
		  LIMIT 1`,
		chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// GetGroup returns the group aggregate: group, ordered messages, members.
func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (GroupSnapshot, error) {
	if s == nil || s.pool == nil {
		return GroupSnapshot{}, errors.New("chat: nil store")
	}
	if groupID == "" {
		return GroupSnapshot{}, errors.New("missing group_id")
	}

	groups := pgIdent(s.schema, "groups")
	groupUsers := pgIdent(s.schema, "group_users")
	users := pgIdent(s.schema, "users")

	var snap GroupSnapshot
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, admin_id, created_at FROM `+groups+` WHERE id = $1`,
		groupID,
	).Scan(&snap.Group.ID, &snap.Group.Name, &snap.Group.AdminID, &snap.Group.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GroupSnapshot{}, ErrGroupNotFound
	}
	if err != nil {
		return GroupSnapshot{}, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+s.messageFrom()+`
		  WHERE m.group_id = $1
		  ORDER BY m.created_at ASC, m.id ASC`,
		groupID,
	)
	if err != nil {
		return GroupSnapshot{}, err
	}
	snap.Messages, err = func() ([]Message, error) {
		defer rows.Close()
		return scanMessages(rows)
	}()
	if err != nil {
		return GroupSnapshot{}, err
	}

	mrows, err := s.pool.Query(ctx,
		`SELECT u.id, COALESCE(u.name, '')
		   FROM `+groupUsers+` gu
		   JOIN `+users+` u ON u.id = gu.user_id
		  WHERE gu.group_id = $1
		  ORDER BY u.id ASC`,
		groupID,
	)
	if err != nil {
		return GroupSnapshot{}, err
	}
	defer mrows.Close()

	for mrows.Next() {
		var u User
		if err := mrows.Scan(&u.ID, &u.Name); err != nil {
			return GroupSnapshot{}, err
		}
		snap.Members = append(snap.Members, u)
	}
	if err := mrows.Err(); err != nil {
		return GroupSnapshot{}, err
	}
	return snap, nil
}

// ListGroupsForUser returns the groups the user belongs to.
func (s *PostgresStore) ListGroupsForUser(ctx context.Context, userID string) ([]Group, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if userID == "" {
		return nil, errors.New("missing user_id")
	}

	groups := pgIdent(s.schema, "groups")
	groupUsers := pgIdent(s.schema, "group_users")

	rows, err := s.pool.Query(ctx,
		`SELECT g.id, g.name, g.admin_id, g.created_at
		   FROM `+groups+` g
		   JOIN `+groupUsers+` gu ON gu.group_id = g.id
		  WHERE gu.user_id = $1
		  ORDER BY g.id ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.AdminID, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// AppendMessage persists a message under a per-conversation advisory lock
// so appends to one conversation are strictly ordered.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
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
	id, err := ids.NewULID(now)
	if err != nil {
		return Message{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize all appends per conversation.
	lockKey := in.ChatID
	if in.GroupID != "" {
		lockKey = in.GroupID
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	messages := pgIdent(s.schema, "messages")

	var att Attachment
	if in.Attachment != nil {
		att = *in.Attachment
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, chat_id, group_id, sender_id, receiver_id, content, type,
		     attachment_url, attachment_name, attachment_type, attachment_size, created_at
		   ) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7,
		             NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, 0), $12)`,
		id, in.ChatID, in.GroupID, in.SenderID, in.ReceiverID, in.Content, string(in.Kind),
		att.URL, att.Name, att.Mime, att.Size, now,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	senderName, err := s.userName(ctx, tx, in.SenderID)
	if err != nil {
		return Message{}, err
	}
	var receiverName string
	if in.ReceiverID != "" {
		receiverName, err = s.userName(ctx, tx, in.ReceiverID)
		if err != nil {
			return Message{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	return Message{
		ID:           id,
		ChatID:       in.ChatID,
		GroupID:      in.GroupID,
		SenderID:     in.SenderID,
		SenderName:   senderName,
		ReceiverID:   in.ReceiverID,
		ReceiverName: receiverName,
		Content:      in.Content,
		Kind:         in.Kind,
		Attachment:   in.Attachment,
		CreatedAt:    now,
	}, nil
}

// CreateGroup creates the group, memberships, and the welcome system message
// in one transaction.
func (s *PostgresStore) CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error) {
	if s == nil || s.pool == nil {
		return Group{}, errors.New("chat: nil store")
	}
	if strings.TrimSpace(in.Name) == "" || in.CreatorID == "" {
		return Group{}, errors.New("missing group name or creator")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Group{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Group{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	groups := pgIdent(s.schema, "groups")
	groupUsers := pgIdent(s.schema, "group_users")

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+groups+` (id, name, admin_id, created_at) VALUES ($1, $2, $3, $4)`,
		id, in.Name, in.CreatorID, now,
	); err != nil {
		return Group{}, fmt.Errorf("insert group: %w", err)
	}

	members := append([]string{in.CreatorID}, in.MemberIDs...)
	for _, uid := range members {
		if uid == "" {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+groupUsers+` (group_id, user_id, joined_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (group_id, user_id) DO NOTHING`,
			id, uid, now,
		); err != nil {
			return Group{}, fmt.Errorf("insert member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Group{}, err
	}

	return Group{ID: id, Name: in.Name, AdminID: in.CreatorID, CreatedAt: now}, nil
}

// AddGroupMembers joins users to the group, skipping duplicates.
func (s *PostgresStore) AddGroupMembers(ctx context.Context, groupID string, userIDs []string) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}
	if groupID == "" {
		return errors.New("missing group_id")
	}

	if _, err := s.GetGroupAdmin(ctx, groupID); err != nil {
		return err
	}

	groupUsers := pgIdent(s.schema, "group_users")
	now := time.Now().UTC()

	for _, uid := range userIDs {
		if uid == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO `+groupUsers+` (group_id, user_id, joined_at)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (group_id, user_id) DO NOTHING`,
			groupID, uid, now,
		); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return nil
}

// RemoveGroupMember removes one user from the group.
func (s *PostgresStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}
	if groupID == "" || userID == "" {
		return errors.New("missing group_id or user_id")
	}

	groupUsers := pgIdent(s.schema, "group_users")
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+groupUsers+` WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	)
	return err
}

// GetGroupAdmin returns the group's designated admin id.
func (s *PostgresStore) GetGroupAdmin(ctx context.Context, groupID string) (string, error) {
	if s == nil || s.pool == nil {
		return "", errors.New("chat: nil store")
	}

	groups := pgIdent(s.schema, "groups")

	var adminID string
	err := s.pool.QueryRow(ctx,
		`SELECT admin_id FROM `+groups+` WHERE id = $1`,
		groupID,
	).Scan(&adminID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrGroupNotFound
	}
	if err != nil {
		return "", err
	}
	return adminID, nil
}

// IsChatParticipant reports whether the user belongs to the chat's pair.
func (s *PostgresStore) IsChatParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("chat: nil store")
	}
	if chatID == "" || userID == "" {
		return false, nil
	}

	chats := pgIdent(s.schema, "chats")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+chats+` WHERE id = $1 AND (user_lo = $2 OR user_hi = $2)`,
		chatID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsGroupMember reports whether the user is a member of the group.
func (s *PostgresStore) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("chat: nil store")
	}
	if groupID == "" || userID == "" {
		return false, nil
	}

	groupUsers := pgIdent(s.schema, "group_users")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+groupUsers+` WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ShareDirectChat reports whether a direct chat exists for the pair.
func (s *PostgresStore) ShareDirectChat(ctx context.Context, userA, userB string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errors.New("chat: nil store")
	}
	if userA == "" || userB == "" {
		return false, nil
	}

	lo, hi := CanonicalPair(userA, userB)
	chats := pgIdent(s.schema, "chats")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+chats+` WHERE user_lo = $1 AND user_hi = $2`,
		lo, hi,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) userName(ctx context.Context, tx pgx.Tx, userID string) (string, error) {
	users := pgIdent(s.schema, "users")

	var name string
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(name, '') FROM `+users+` WHERE id = $1`,
		userID,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var (
			m       Message
			kind    string
			att     Attachment
			attSize int64
		)
		if err := rows.Scan(
			&m.ID, &m.ChatID, &m.GroupID,
			&m.SenderID, &m.SenderName, &m.ReceiverID, &m.ReceiverName,
			&m.Content, &kind,
			&att.URL, &att.Name, &att.Mime, &attSize,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		m.Kind = Kind(kind)
		if att.URL != "" {
			att.Size = attSize
			m.Attachment = &att
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

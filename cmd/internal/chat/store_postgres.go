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
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Uses per-conversation transactional advisory locks so that pair
//   get-or-create and message append stay race-free under concurrency.
//
// Expected tables (schema default "bizhub"):
//   conversations(id, pair_key UNIQUE, user_a, user_b, created_at)
//   conversation_state(conversation_id, user_id, unread, hidden,
//                      PRIMARY KEY(conversation_id, user_id))
//   messages(id, conversation_id, client_msg_id, sender_id, sender_name,
//            text, sent_at, edited_at, hidden_for text[],
//            UNIQUE(conversation_id, client_msg_id))
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "bizhub").
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
		schema: "bizhub",
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

// GetOrCreateConversation resolves the canonical conversation for the pair,
// inserting it on first contact. The advisory lock on the pair key makes
// concurrent first-contact calls converge on one row.
func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, in GetOrCreateInput) (GetOrCreateResult, error) {
	if s == nil || s.pool == nil {
		return GetOrCreateResult{}, errors.New("chat: nil store")
	}
	a := strings.TrimSpace(in.UserID)
	b := strings.TrimSpace(in.OtherUserID)
	if a == "" || b == "" || a == b {
		return GetOrCreateResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return GetOrCreateResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return GetOrCreateResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	key := PairKey(a, b)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return GetOrCreateResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	conversations := pgIdent(s.schema, "conversations")
	state := pgIdent(s.schema, "conversation_state")

	var (
		convID    string
		userA     string
		userB     string
		createdAt time.Time
		created   bool
	)

	err = tx.QueryRow(ctx,
		`SELECT id, user_a, user_b, created_at FROM `+conversations+` WHERE pair_key = $1`,
		key,
	).Scan(&convID, &userA, &userB, &createdAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		convID, err = NewULID(now)
		if err != nil {
			return GetOrCreateResult{}, err
		}
		ua, ub := a, b
		if ub < ua {
			ua, ub = ub, ua
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+conversations+` (id, pair_key, user_a, user_b, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			convID, key, ua, ub, now,
		); err != nil {
			return GetOrCreateResult{}, fmt.Errorf("insert conversation: %w", err)
		}
		userA, userB, createdAt, created = ua, ub, now, true
	case err != nil:
		return GetOrCreateResult{}, err
	}

	// Reopening a hidden thread resurfaces it for the caller.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+state+` (conversation_id, user_id, unread, hidden)
		 VALUES ($1, $2, 0, FALSE)
		 ON CONFLICT (conversation_id, user_id) DO UPDATE SET hidden = FALSE`,
		convID, a,
	); err != nil {
		return GetOrCreateResult{}, err
	}

	conv, err := s.readConversation(ctx, tx, convID, userA, userB, createdAt)
	if err != nil {
		return GetOrCreateResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return GetOrCreateResult{}, err
	}
	return GetOrCreateResult{Conversation: conv, Created: created}, nil
}

// ListConversations returns the caller's visible conversations, most recent first.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := pgIdent(s.schema, "conversations")
	state := pgIdent(s.schema, "conversation_state")
	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.user_a, c.user_b, c.created_at,
		        COALESCE(st.unread, 0),
		        lm.id, lm.sender_id, lm.text, lm.sent_at
		   FROM `+conversations+` c
		   LEFT JOIN `+state+` st
		     ON st.conversation_id = c.id AND st.user_id = $1
		   LEFT JOIN LATERAL (
		        SELECT m.id, m.sender_id, m.text, m.sent_at
		          FROM `+messages+` m
		         WHERE m.conversation_id = c.id
		         ORDER BY m.id DESC
		         LIMIT 1
		   ) lm ON TRUE
		  WHERE (c.user_a = $1 OR c.user_b = $1)
		    AND COALESCE(st.hidden, FALSE) = FALSE`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var (
			c      Conversation
			ua, ub string
			unread int
			lmID   *string
			lmFrom *string
			lmText *string
			lmAt   *time.Time
		)
		if err := rows.Scan(&c.ID, &ua, &ub, &c.CreatedAt, &unread, &lmID, &lmFrom, &lmText, &lmAt); err != nil {
			return nil, err
		}
		c.Participants = []string{ua, ub}
		c.Unread = map[string]int{userID: unread}
		if lmID != nil {
			c.LastMessage = &Summary{MessageID: *lmID, SenderID: *lmFrom, Text: *lmText, SentAt: *lmAt}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	SortByActivity(out)
	return out, nil
}

// GetConversation returns a conversation by id with per-user state for both sides.
func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	if s == nil || s.pool == nil {
		return Conversation{}, errors.New("chat: nil store")
	}
	if conversationID == "" {
		return Conversation{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	conversations := pgIdent(s.schema, "conversations")

	var (
		ua, ub    string
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_a, user_b, created_at FROM `+conversations+` WHERE id = $1`,
		conversationID,
	).Scan(&ua, &ub, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}

	return s.readConversation(ctx, s.pool, conversationID, ua, ub, createdAt)
}

// DeleteConversation soft-deletes the thread from the caller's view.
func (s *PostgresStore) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}
	if conversationID == "" || userID == "" {
		return ErrInvalidInput
	}

	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return ErrNotParticipant
	}

	state := pgIdent(s.schema, "conversation_state")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+state+` (conversation_id, user_id, unread, hidden)
		 VALUES ($1, $2, 0, TRUE)
		 ON CONFLICT (conversation_id, user_id) DO UPDATE SET hidden = TRUE, unread = 0`,
		conversationID, userID,
	)
	return err
}

// AppendMessage persists a message with idempotency per client_msg_id,
// bumps the recipient's unread counter and resurfaces hidden threads.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	if s == nil || s.pool == nil {
		return AppendMessageResult{}, errors.New("chat: nil store")
	}
	if in.ConversationID == "" || in.ClientMsgID == "" || in.SenderID == "" {
		return AppendMessageResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendMessageResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize writes per conversation: duplicate detection and unread
	// accounting must not interleave.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ConversationID); err != nil {
		return AppendMessageResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	conversations := pgIdent(s.schema, "conversations")
	state := pgIdent(s.schema, "conversation_state")
	messages := pgIdent(s.schema, "messages")

	var ua, ub string
	err = tx.QueryRow(ctx,
		`SELECT user_a, user_b FROM `+conversations+` WHERE id = $1`,
		in.ConversationID,
	).Scan(&ua, &ub)
	if errors.Is(err, pgx.ErrNoRows) {
		return AppendMessageResult{}, ErrNotFound
	}
	if err != nil {
		return AppendMessageResult{}, err
	}
	if in.SenderID != ua && in.SenderID != ub {
		return AppendMessageResult{}, ErrNotParticipant
	}

	existing, err := readMessageByClientMsgID(ctx, tx, messages, in.ConversationID, in.ClientMsgID)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendMessageResult{}, err
		}
		return AppendMessageResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendMessageResult{}, err
	}

	msgID, err := NewULID(now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (
		     id, conversation_id, client_msg_id, sender_id, sender_name, text, sent_at, hidden_for
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, '{}')`,
		msgID, in.ConversationID, in.ClientMsgID, in.SenderID, in.SenderName, in.Text, now,
	); err != nil {
		return AppendMessageResult{}, fmt.Errorf("insert message: %w", err)
	}

	recipient := ub
	if in.SenderID == ub {
		recipient = ua
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+state+` (conversation_id, user_id, unread, hidden)
		 VALUES ($1, $2, 1, FALSE)
		 ON CONFLICT (conversation_id, user_id)
		 DO UPDATE SET unread = `+state+`.unread + 1, hidden = FALSE`,
		in.ConversationID, recipient,
	); err != nil {
		return AppendMessageResult{}, err
	}
	// A new message resurfaces the thread for the sender too.
	if _, err := tx.Exec(ctx,
		`UPDATE `+state+` SET hidden = FALSE WHERE conversation_id = $1 AND user_id = $2`,
		in.ConversationID, in.SenderID,
	); err != nil {
		return AppendMessageResult{}, err
	}

	out := Message{
		ID:             msgID,
		ClientMsgID:    in.ClientMsgID,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Text:           in.Text,
		SentAt:         now,
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendMessageResult{}, err
	}
	return AppendMessageResult{Stored: out, Duplicated: false}, nil
}

// ListMessages returns the newest window before BeforeID, ordered ASC.
func (s *PostgresStore) ListMessages(ctx context.Context, in ListMessagesInput) (ListMessagesResult, error) {
	if s == nil || s.pool == nil {
		return ListMessagesResult{}, errors.New("chat: nil store")
	}
	if in.ConversationID == "" {
		return ListMessagesResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ListMessagesResult{}, err
	}

	limit := clampLimit(in.Limit)
	fetch := limit + 1

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, client_msg_id, sender_id, sender_name, text, sent_at, edited_at
		   FROM `+messages+`
		  WHERE conversation_id = $1
		    AND ($2 = '' OR id < $2)
		    AND NOT ($3::text = ANY(hidden_for))
		  ORDER BY id DESC
		  LIMIT $4`,
		in.ConversationID, in.BeforeID, in.ForUserID, fetch,
	)
	if err != nil {
		return ListMessagesResult{}, err
	}
	defer rows.Close()

	msgs := make([]Message, 0, fetch)
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.ClientMsgID,
			&m.SenderID,
			&m.SenderName,
			&m.Text,
			&m.SentAt,
			&m.EditedAt,
		); err != nil {
			return ListMessagesResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return ListMessagesResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	// Newest-first query; flip to the ASC contract.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return ListMessagesResult{Messages: msgs, HasMore: hasMore}, nil
}

// EditMessage replaces the text of a message owned by EditorID.
func (s *PostgresStore) EditMessage(ctx context.Context, in EditMessageInput) (Message, error) {
	if s == nil || s.pool == nil {
		return Message{}, errors.New("chat: nil store")
	}
	if in.MessageID == "" || in.EditorID == "" {
		return Message{}, ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	messages := pgIdent(s.schema, "messages")

	var m Message
	err := s.pool.QueryRow(ctx,
		`UPDATE `+messages+`
		    SET text = $1, edited_at = $2
		  WHERE id = $3 AND sender_id = $4
		RETURNING id, conversation_id, client_msg_id, sender_id, sender_name, text, sent_at, edited_at`,
		in.Text, now, in.MessageID, in.EditorID,
	).Scan(&m.ID, &m.ConversationID, &m.ClientMsgID, &m.SenderID, &m.SenderName, &m.Text, &m.SentAt, &m.EditedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Distinguish "missing" from "not yours".
		var one int
		probe := s.pool.QueryRow(ctx, `SELECT 1 FROM `+messages+` WHERE id = $1`, in.MessageID).Scan(&one)
		if errors.Is(probe, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		if probe != nil {
			return Message{}, probe
		}
		return Message{}, ErrNotSender
	}
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// DeleteMessages removes messages owned by OwnerID and returns the ids removed.
func (s *PostgresStore) DeleteMessages(ctx context.Context, in DeleteMessagesInput) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if in.ConversationID == "" || in.OwnerID == "" || len(in.MessageIDs) == 0 {
		return nil, ErrInvalidInput
	}

	messages := pgIdent(s.schema, "messages")

	// Ownership is verified before anything is mutated.
	var foreign int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+messages+`
		  WHERE conversation_id = $1 AND id = ANY($2) AND sender_id <> $3`,
		in.ConversationID, in.MessageIDs, in.OwnerID,
	).Scan(&foreign)
	if err != nil {
		return nil, err
	}
	if foreign > 0 {
		return nil, ErrNotSender
	}

	rows, err := s.pool.Query(ctx,
		`DELETE FROM `+messages+`
		  WHERE conversation_id = $1 AND id = ANY($2) AND sender_id = $3
		RETURNING id`,
		in.ConversationID, in.MessageIDs, in.OwnerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var removed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		removed = append(removed, id)
	}
	return removed, rows.Err()
}

// MarkRead zeroes the caller's unread counter.
func (s *PostgresStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}
	if conversationID == "" || userID == "" {
		return ErrInvalidInput
	}

	state := pgIdent(s.schema, "conversation_state")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+state+` (conversation_id, user_id, unread, hidden)
		 VALUES ($1, $2, 0, FALSE)
		 ON CONFLICT (conversation_id, user_id) DO UPDATE SET unread = 0`,
		conversationID, userID,
	)
	return err
}

// ---- internals ----

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) readConversation(ctx context.Context, q querier, id, userA, userB string, createdAt time.Time) (Conversation, error) {
	state := pgIdent(s.schema, "conversation_state")
	messages := pgIdent(s.schema, "messages")

	conv := Conversation{
		ID:           id,
		Participants: []string{userA, userB},
		CreatedAt:    createdAt,
		Unread:       make(map[string]int),
	}

	rows, err := q.Query(ctx,
		`SELECT user_id, unread, hidden FROM `+state+` WHERE conversation_id = $1`,
		id,
	)
	if err != nil {
		return Conversation{}, err
	}
	for rows.Next() {
		var (
			uid    string
			unread int
			hidden bool
		)
		if err := rows.Scan(&uid, &unread, &hidden); err != nil {
			rows.Close()
			return Conversation{}, err
		}
		conv.Unread[uid] = unread
		if hidden {
			conv.HiddenFor = append(conv.HiddenFor, uid)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Conversation{}, err
	}

	var lm Summary
	err = q.QueryRow(ctx,
		`SELECT id, sender_id, text, sent_at FROM `+messages+`
		  WHERE conversation_id = $1
		  ORDER BY id DESC LIMIT 1`,
		id,
	).Scan(&lm.MessageID, &lm.SenderID, &lm.Text, &lm.SentAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return Conversation{}, err
	default:
		conv.LastMessage = &lm
	}

	return conv, nil
}

func readMessageByClientMsgID(ctx context.Context, tx pgx.Tx, messagesTable, conversationID, clientMsgID string) (Message, error) {
	var m Message
	err := tx.QueryRow(ctx,
		`SELECT id, conversation_id, client_msg_id, sender_id, sender_name, text, sent_at, edited_at
		   FROM `+messagesTable+`
		  WHERE conversation_id = $1 AND client_msg_id = $2`,
		conversationID, clientMsgID,
	).Scan(&m.ID, &m.ConversationID, &m.ClientMsgID, &m.SenderID, &m.SenderName, &m.Text, &m.SentAt, &m.EditedAt)
	return m, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

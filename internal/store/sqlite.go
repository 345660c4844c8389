// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('CUSTOMER', 'AGENT', 'SUPERVISOR')),
			password_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			customer TEXT NOT NULL REFERENCES users(username),
			agent TEXT REFERENCES users(username),
			status TEXT NOT NULL CHECK (status IN ('OPEN', 'ASSIGNED', 'CLOSED')),
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_customer
			ON conversations(customer, status);

		CREATE INDEX IF NOT EXISTS idx_conversations_status
			ON conversations(status, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender TEXT NOT NULL,
			sender_role TEXT NOT NULL,
			body TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('SENT', 'DELIVERED', 'READ')),
			created_at TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isUniqueConstraintError checks whether an error is a SQLite unique constraint violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateUser inserts a new user.
// Returns ErrDuplicateUser if the username is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, username, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Role,
		user.PasswordHash,
		user.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("user created", "username", user.Username, "role", user.Role)
	return nil
}

// GetUserByUsername retrieves a user by username.
// Returns ErrNotFound if no such user exists.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, username, role, password_hash, created_at
		FROM users
		WHERE username = ?
	`

	var user User
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.Role,
		&user.PasswordHash,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &user, nil
}

// CreateConversation inserts a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, customer, agent, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.Customer,
		conv.Agent,
		conv.Status,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("conversation created", "conversation_id", conv.ID, "customer", conv.Customer)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, customer, agent, status, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`

	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// GetOpenConversationByCustomer returns the customer's OPEN conversation, if any.
// Returns ErrNotFound if the customer has no open conversation.
func (s *SQLiteStore) GetOpenConversationByCustomer(ctx context.Context, customer string) (*Conversation, error) {
	query := `
		SELECT id, customer, agent, status, created_at, updated_at
		FROM conversations
		WHERE customer = ? AND status = 'OPEN'
		ORDER BY created_at DESC
		LIMIT 1
	`

	return s.scanConversation(s.db.QueryRowContext(ctx, query, customer))
}

// ListConversationsByCustomer returns all conversations started by the customer,
// newest first.
func (s *SQLiteStore) ListConversationsByCustomer(ctx context.Context, customer string) ([]*Conversation, error) {
	query := `
		SELECT id, customer, agent, status, created_at, updated_at
		FROM conversations
		WHERE customer = ?
		ORDER BY created_at DESC
	`

	return s.queryConversations(ctx, query, customer)
}

// ListConversationsForAgent returns the agent's work queue: every OPEN
// conversation plus the conversations assigned to this agent.
func (s *SQLiteStore) ListConversationsForAgent(ctx context.Context, agent string) ([]*Conversation, error) {
	query := `
		SELECT id, customer, agent, status, created_at, updated_at
		FROM conversations
		WHERE status = 'OPEN' OR (agent = ? AND status = 'ASSIGNED')
		ORDER BY updated_at DESC
	`

	return s.queryConversations(ctx, query, agent)
}

// ListActiveConversations returns all OPEN or ASSIGNED conversations,
// most recently updated first. Used by the supervisor view.
func (s *SQLiteStore) ListActiveConversations(ctx context.Context) ([]*Conversation, error) {
	query := `
		SELECT id, customer, agent, status, created_at, updated_at
		FROM conversations
		WHERE status IN ('OPEN', 'ASSIGNED')
		ORDER BY updated_at DESC
	`

	return s.queryConversations(ctx, query)
}

// AcceptConversation atomically assigns an agent to an OPEN conversation.
// The WHERE clause on status is the compare-and-set: when two agents race,
// exactly one UPDATE matches a row.
func (s *SQLiteStore) AcceptConversation(ctx context.Context, id, agent string) error {
	query := `
		UPDATE conversations
		SET agent = ?, status = 'ASSIGNED', updated_at = ?
		WHERE id = ? AND status = 'OPEN'
	`

	result, err := s.db.ExecContext(ctx, query, agent, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("accepting conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		// Either the conversation doesn't exist or it left OPEN
		if _, err := s.GetConversation(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}

	s.logger.Debug("conversation accepted", "conversation_id", id, "agent", agent)
	return nil
}

// CloseConversation atomically moves an OPEN or ASSIGNED conversation to CLOSED.
func (s *SQLiteStore) CloseConversation(ctx context.Context, id string) error {
	query := `
		UPDATE conversations
		SET status = 'CLOSED', updated_at = ?
		WHERE id = ? AND status IN ('OPEN', 'ASSIGNED')
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("closing conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetConversation(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}

	s.logger.Debug("conversation closed", "conversation_id", id)
	return nil
}

// SaveMessage appends a message to a conversation's log. The per-conversation
// sequence number makes history ordering independent of timestamp resolution.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender, sender_role, body, status, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?))
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.SenderRole,
		msg.Body,
		msg.Status,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("message saved",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender", msg.Sender)
	return nil
}

// GetMessage retrieves a single message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `
		SELECT id, conversation_id, sender, sender_role, body, status, created_at
		FROM messages
		WHERE id = ?
	`

	var msg Message
	var createdAtStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Sender,
		&msg.SenderRole,
		&msg.Body,
		&msg.Status,
		&createdAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}

	msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &msg, nil
}

// ListMessages returns a conversation's messages in append order.
// A limit <= 0 returns the full history.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender, sender_role, body, status, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq
	`
	args := []any{conversationID}

	if limit > 0 {
		// Keep append order while returning only the most recent messages
		query = `
			SELECT id, conversation_id, sender, sender_role, body, status, created_at
			FROM (
				SELECT id, conversation_id, sender, sender_role, body, status, created_at, seq
				FROM messages
				WHERE conversation_id = ?
				ORDER BY seq DESC
				LIMIT ?
			)
			ORDER BY seq
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Sender,
			&msg.SenderRole,
			&msg.Body,
			&msg.Status,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

// AdvanceMessageStatus moves a message's delivery status forward only.
// The status CASE in the WHERE clause rejects backward and same-state moves,
// making repeated calls idempotent no-ops.
func (s *SQLiteStore) AdvanceMessageStatus(ctx context.Context, id string, to MessageStatus) (bool, error) {
	var query string
	switch to {
	case MessageStatusDelivered:
		query = `UPDATE messages SET status = 'DELIVERED' WHERE id = ? AND status = 'SENT'`
	case MessageStatusRead:
		query = `UPDATE messages SET status = 'READ' WHERE id = ? AND status IN ('SENT', 'DELIVERED')`
	default:
		return false, fmt.Errorf("cannot advance message status to %q", to)
	}

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("advancing message status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		// No-op: already at or past the target status, or unknown message
		if _, err := s.GetMessage(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}

	s.logger.Debug("message status advanced", "message_id", id, "status", to)
	return true, nil
}

// scanConversation scans a single conversation row.
func (s *SQLiteStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var agent sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.Customer,
		&agent,
		&conv.Status,
		&createdAtStr,
		&updatedAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if agent.Valid {
		conv.Agent = &agent.String
	}

	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}

// queryConversations runs a multi-row conversation query.
func (s *SQLiteStore) queryConversations(ctx context.Context, query string, args ...any) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var conv Conversation
		var agent sql.NullString
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(
			&conv.ID,
			&conv.Customer,
			&agent,
			&conv.Status,
			&createdAtStr,
			&updatedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}

		if agent.Valid {
			conv.Agent = &agent.String
		}

		conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		conversations = append(conversations, &conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	return conversations, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

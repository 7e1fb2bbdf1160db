package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wirerelay/internal/store"
	"github.com/vovakirdan/wirerelay/internal/utils"
)

//go:embed schema.sql
var schema string

const dsnParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema or seed rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate creates the tables and indexes if they do not exist yet.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mapError converts driver constraint failures into store sentinels.
func mapError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w", op, store.ErrConflict)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: referenced row %w", op, store.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ==== UserStore implementation ====

// CreateUser creates a new user.
func (s *SQLiteStore) CreateUser(ctx context.Context, email, name string, avatar *string) (*store.User, error) {
	user := store.User{
		ID:        utils.NewID(),
		Email:     email,
		Name:      name,
		Avatar:    avatar,
		CreatedAt: time.Now().UTC(),
	}
	query := `
		INSERT INTO users (id, email, name, avatar, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Email, user.Name, user.Avatar, user.CreatedAt); err != nil {
		return nil, mapError("insert user", err)
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, email, name, avatar, created_at
		FROM users
		WHERE id = ?
	`
	var user store.User
	var avatar sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&avatar,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	user.Avatar = nullString(avatar)
	user.CreatedAt = user.CreatedAt.UTC()

	return &user, nil
}

// ==== ChannelStore implementation ====

// CreateChannel creates a channel with the creator as its only ADMIN member.
func (s *SQLiteStore) CreateChannel(ctx context.Context, name *string, channelType store.ChannelType, creatorID string) (*store.ChannelWithMembers, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	channel, err := insertChannel(ctx, tx, name, channelType)
	if err != nil {
		return nil, err
	}
	if err := insertMember(ctx, tx, channel.ID, creatorID, store.RoleAdmin); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.channelWithMembers(ctx, s.db, *channel)
}

// FindDirectChannel returns the DIRECT channel shared by the two users.
func (s *SQLiteStore) FindDirectChannel(ctx context.Context, userID, partnerID string) (*store.ChannelWithMembers, error) {
	query := `
		SELECT c.id, c.name, c.type, c.created_at
		FROM channels c
		JOIN channel_members a ON a.channel_id = c.id AND a.user_id = ?
		JOIN channel_members b ON b.channel_id = c.id AND b.user_id = ?
		WHERE c.type = 'DIRECT'
		ORDER BY c.created_at ASC
		LIMIT 1
	`
	channel, err := scanChannel(s.db.QueryRowContext(ctx, query, userID, partnerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("direct channel: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query direct channel: %w", err)
	}

	return s.channelWithMembers(ctx, s.db, *channel)
}

// CreateDirectChannel creates a DIRECT channel with both users as ADMIN members.
func (s *SQLiteStore) CreateDirectChannel(ctx context.Context, userID, partnerID string) (*store.ChannelWithMembers, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	channel, err := insertChannel(ctx, tx, nil, store.ChannelTypeDirect)
	if err != nil {
		return nil, err
	}
	for _, id := range []string{userID, partnerID} {
		if err := insertMember(ctx, tx, channel.ID, id, store.RoleAdmin); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.channelWithMembers(ctx, s.db, *channel)
}

// GetMembership returns the membership row for (channelID, userID).
func (s *SQLiteStore) GetMembership(ctx context.Context, channelID, userID string) (*store.ChannelMember, error) {
	query := `
		SELECT channel_id, user_id, role, joined_at
		FROM channel_members
		WHERE channel_id = ? AND user_id = ?
	`
	var m store.ChannelMember
	err := s.db.QueryRowContext(ctx, query, channelID, userID).Scan(&m.ChannelID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("membership: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query membership: %w", err)
	}
	m.JoinedAt = m.JoinedAt.UTC()

	return &m, nil
}

// ListChannelsForUser lists channels the user belongs to, newest first.
func (s *SQLiteStore) ListChannelsForUser(ctx context.Context, userID string) ([]*store.ChannelWithMembers, error) {
	query := `
		SELECT c.id, c.name, c.type, c.created_at
		FROM channels c
		JOIN channel_members cm ON cm.channel_id = c.id
		WHERE cm.user_id = ?
		ORDER BY c.created_at DESC, c.id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}

	var channels []store.Channel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, *channel)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	// Release the single connection before loading members.
	rows.Close()

	result := make([]*store.ChannelWithMembers, 0, len(channels))
	for _, channel := range channels {
		withMembers, err := s.channelWithMembers(ctx, s.db, channel)
		if err != nil {
			return nil, err
		}
		result = append(result, withMembers)
	}

	return result, nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a message and, in the same transaction, reads the
// sender's profile and the channel member list.
func (s *SQLiteStore) CreateMessage(ctx context.Context, in store.NewMessage) (*store.PostedMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	posted := store.PostedMessage{
		Message: store.Message{
			ID:        utils.NewID(),
			Content:   in.Content,
			ChannelID: in.ChannelID,
			UserID:    in.UserID,
			CreatedAt: time.Now().UTC(),
		},
	}

	insert := `
		INSERT INTO messages (id, content, channel_id, user_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, insert,
		posted.ID, posted.Content, posted.ChannelID, posted.UserID, posted.CreatedAt,
	); err != nil {
		return nil, mapError("insert message", err)
	}

	var avatar sql.NullString
	profile := `SELECT name, avatar FROM users WHERE id = ?`
	if err := tx.QueryRowContext(ctx, profile, in.UserID).Scan(&posted.Sender.Name, &avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sender %s: %w", in.UserID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query sender: %w", err)
	}
	posted.Sender.Avatar = nullString(avatar)

	memberIDs, err := listMemberIDs(ctx, tx, in.ChannelID)
	if err != nil {
		return nil, err
	}
	posted.MemberIDs = memberIDs

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &posted, nil
}

// ListMessages returns up to limit messages of a channel, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, channelID string, limit int, cursor *string) ([]*store.MessageWithSender, error) {
	query := `
		SELECT m.id, m.content, m.channel_id, m.user_id, m.created_at, u.name, u.avatar
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.channel_id = ?
	`
	args := []any{channelID}
	if cursor != nil {
		query += ` AND (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = ?)`
		args = append(args, *cursor)
	}
	query += ` ORDER BY m.created_at DESC, m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.MessageWithSender, 0, limit)
	for rows.Next() {
		var msg store.MessageWithSender
		var avatar sql.NullString
		if err := rows.Scan(
			&msg.ID,
			&msg.Content,
			&msg.ChannelID,
			&msg.UserID,
			&msg.CreatedAt,
			&msg.Sender.Name,
			&avatar,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		msg.Sender.Avatar = nullString(avatar)
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// ==== helpers ====

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*store.Channel, error) {
	var channel store.Channel
	var name sql.NullString
	if err := row.Scan(&channel.ID, &name, &channel.Type, &channel.CreatedAt); err != nil {
		return nil, err
	}
	channel.Name = nullString(name)
	channel.CreatedAt = channel.CreatedAt.UTC()
	return &channel, nil
}

func insertChannel(ctx context.Context, q querier, name *string, channelType store.ChannelType) (*store.Channel, error) {
	channel := store.Channel{
		ID:        utils.NewID(),
		Name:      name,
		Type:      channelType,
		CreatedAt: time.Now().UTC(),
	}
	query := `
		INSERT INTO channels (id, name, type, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := q.ExecContext(ctx, query, channel.ID, channel.Name, channel.Type, channel.CreatedAt); err != nil {
		return nil, mapError("insert channel", err)
	}
	return &channel, nil
}

func insertMember(ctx context.Context, q querier, channelID, userID string, role store.MemberRole) error {
	query := `
		INSERT INTO channel_members (channel_id, user_id, role, joined_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := q.ExecContext(ctx, query, channelID, userID, role, time.Now().UTC()); err != nil {
		return mapError("insert channel member", err)
	}
	return nil
}

func listMemberIDs(ctx context.Context, q querier, channelID string) ([]string, error) {
	query := `
		SELECT user_id FROM channel_members
		WHERE channel_id = ?
		ORDER BY joined_at ASC
	`
	rows, err := q.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (s *SQLiteStore) channelWithMembers(ctx context.Context, q querier, channel store.Channel) (*store.ChannelWithMembers, error) {
	query := `
		SELECT cm.channel_id, cm.user_id, cm.role, cm.joined_at,
		       u.id, u.email, u.name, u.avatar, u.created_at
		FROM channel_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.channel_id = ?
		ORDER BY cm.joined_at ASC
	`
	rows, err := q.QueryContext(ctx, query, channel.ID)
	if err != nil {
		return nil, fmt.Errorf("query channel members: %w", err)
	}
	defer rows.Close()

	result := &store.ChannelWithMembers{Channel: channel}
	for rows.Next() {
		var m store.MemberWithUser
		var avatar sql.NullString
		if err := rows.Scan(
			&m.ChannelID, &m.UserID, &m.Role, &m.JoinedAt,
			&m.User.ID, &m.User.Email, &m.User.Name, &avatar, &m.User.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan channel member: %w", err)
		}
		m.JoinedAt = m.JoinedAt.UTC()
		m.User.CreatedAt = m.User.CreatedAt.UTC()
		m.User.Avatar = nullString(avatar)
		result.Members = append(result.Members, m)
	}

	return result, rows.Err()
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

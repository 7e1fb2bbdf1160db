package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

// User represents a user in the system.
type User struct {
	ID        string
	Email     string
	Name      string
	Avatar    *string
	CreatedAt time.Time
}

// Profile is the public part of a user attached to messages.
type Profile struct {
	Name   string
	Avatar *string
}

// ChannelType defines different kinds of channels.
type ChannelType string

const (
	ChannelTypeDirect ChannelType = "DIRECT"
	ChannelTypeGroup  ChannelType = "GROUP"
	ChannelTypePublic ChannelType = "PUBLIC"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelTypeDirect, ChannelTypeGroup, ChannelTypePublic:
		return true
	}
	return false
}

// Channel is a conversation scope messages are posted into.
type Channel struct {
	ID        string
	Name      *string // nil for direct channels
	Type      ChannelType
	CreatedAt time.Time
}

// MemberRole is the role a member holds in a channel.
type MemberRole string

const (
	RoleAdmin  MemberRole = "ADMIN"
	RoleMember MemberRole = "MEMBER"
)

// ChannelMember represents channel membership.
type ChannelMember struct {
	ChannelID string
	UserID    string
	Role      MemberRole
	JoinedAt  time.Time
}

// MemberWithUser is a membership row joined with its user.
type MemberWithUser struct {
	ChannelMember
	User User
}

// ChannelWithMembers is a channel plus its full member list.
type ChannelWithMembers struct {
	Channel
	Members []MemberWithUser
}

// Message represents a persisted chat message.
type Message struct {
	ID        string
	Content   string
	ChannelID string
	UserID    string
	CreatedAt time.Time
}

// NewMessage is the input to CreateMessage.
type NewMessage struct {
	Content   string
	ChannelID string
	UserID    string
}

// PostedMessage is a freshly written message together with the sender's
// profile and the channel's member ids, all read in the write transaction.
type PostedMessage struct {
	Message
	Sender    Profile
	MemberIDs []string
}

// MessageWithSender is a history row.
type MessageWithSender struct {
	Message
	Sender Profile
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user. Returns ErrConflict if the email is taken.
	CreateUser(ctx context.Context, email, name string, avatar *string) (*User, error)

	// GetUserByID retrieves a user by ID. Returns ErrNotFound if absent.
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// ChannelStore handles channel and membership persistence.
type ChannelStore interface {
	// CreateChannel creates a channel with the creator as its only ADMIN member.
	CreateChannel(ctx context.Context, name *string, channelType ChannelType, creatorID string) (*ChannelWithMembers, error)

	// FindDirectChannel returns the DIRECT channel shared by the two users.
	// Returns ErrNotFound if there is none.
	FindDirectChannel(ctx context.Context, userID, partnerID string) (*ChannelWithMembers, error)

	// CreateDirectChannel creates a DIRECT channel with both users as ADMIN members.
	CreateDirectChannel(ctx context.Context, userID, partnerID string) (*ChannelWithMembers, error)

	// GetMembership returns the membership row. Returns ErrNotFound if absent.
	GetMembership(ctx context.Context, channelID, userID string) (*ChannelMember, error)

	// ListChannelsForUser lists channels the user belongs to, newest first.
	ListChannelsForUser(ctx context.Context, userID string) ([]*ChannelWithMembers, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a message and returns it with the sender profile
	// and the member ids of the channel at write time.
	CreateMessage(ctx context.Context, msg NewMessage) (*PostedMessage, error)

	// ListMessages returns up to limit messages of a channel, newest first.
	// If cursor is non-nil, only messages older than that message id are returned.
	ListMessages(ctx context.Context, channelID string, limit int, cursor *string) ([]*MessageWithSender, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChannelStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}

package core

import (
	"context"
	"errors"

	"github.com/vovakirdan/wirerelay/internal/store"
)

// MembershipOracle answers existence and membership questions against the
// durable store.
type MembershipOracle interface {
	// UserExists reports whether a user with this id exists.
	UserExists(ctx context.Context, userID string) (bool, error)

	// IsMember reports whether the user belongs to the channel.
	IsMember(ctx context.Context, channelID, userID string) (bool, error)
}

type storeOracle struct {
	users    store.UserStore
	channels store.ChannelStore
}

// NewStoreOracle adapts store lookups to MembershipOracle.
func NewStoreOracle(users store.UserStore, channels store.ChannelStore) MembershipOracle {
	return &storeOracle{users: users, channels: channels}
}

func (o *storeOracle) UserExists(ctx context.Context, userID string) (bool, error) {
	if _, err := o.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (o *storeOracle) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	if _, err := o.channels.GetMembership(ctx, channelID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

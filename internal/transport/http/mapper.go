package http

import (
	"time"

	"github.com/samber/lo"

	"github.com/vovakirdan/wirerelay/internal/store"
)

// unknownUserName names a direct channel whose partner is missing.
const unknownUserName = "Unknown User"

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Avatar    *string   `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}

// MemberResponse represents a channel member in API responses.
type MemberResponse struct {
	UserID   string       `json:"userId"`
	Role     string       `json:"role"`
	JoinedAt time.Time    `json:"joinedAt"`
	User     UserResponse `json:"user"`
}

// ChannelResponse represents a channel in API responses.
// For direct channels Name and Avatar are those of the other member.
type ChannelResponse struct {
	ID        string           `json:"id"`
	Name      *string          `json:"name"`
	Avatar    *string          `json:"avatar,omitempty"`
	Type      string           `json:"type"`
	CreatedAt time.Time        `json:"createdAt"`
	Members   []MemberResponse `json:"members"`
}

// SenderResponse is the public profile attached to a history message.
type SenderResponse struct {
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
}

// MessageResponse represents a history message.
type MessageResponse struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	ChannelID string         `json:"channelId"`
	UserID    string         `json:"userId"`
	CreatedAt time.Time      `json:"createdAt"`
	User      SenderResponse `json:"user"`
}

// MessagePageResponse is one page of channel history.
type MessagePageResponse struct {
	Items      []MessageResponse `json:"items"`
	NextCursor *string           `json:"nextCursor"`
}

func toUserResponse(u store.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
	}
}

func toChannelResponse(ch *store.ChannelWithMembers) ChannelResponse {
	return ChannelResponse{
		ID:        ch.ID,
		Name:      ch.Name,
		Type:      string(ch.Type),
		CreatedAt: ch.CreatedAt,
		Members: lo.Map(ch.Members, func(m store.MemberWithUser, _ int) MemberResponse {
			return MemberResponse{
				UserID:   m.UserID,
				Role:     string(m.Role),
				JoinedAt: m.JoinedAt,
				User:     toUserResponse(m.User),
			}
		}),
	}
}

// toChannelResponseFor renders ch from viewerID's point of view: a direct
// channel takes the name and avatar of the other member.
func toChannelResponseFor(ch *store.ChannelWithMembers, viewerID string) ChannelResponse {
	resp := toChannelResponse(ch)
	if ch.Type != store.ChannelTypeDirect {
		return resp
	}

	name := unknownUserName
	resp.Name = &name
	partner, ok := lo.Find(ch.Members, func(m store.MemberWithUser) bool {
		return m.UserID != viewerID
	})
	if ok {
		resp.Name = &partner.User.Name
		resp.Avatar = partner.User.Avatar
	}
	return resp
}

func toMessagePage(messages []*store.MessageWithSender) MessagePageResponse {
	page := MessagePageResponse{
		Items: lo.Map(messages, func(m *store.MessageWithSender, _ int) MessageResponse {
			return MessageResponse{
				ID:        m.ID,
				Content:   m.Content,
				ChannelID: m.ChannelID,
				UserID:    m.UserID,
				CreatedAt: m.CreatedAt,
				User: SenderResponse{
					Name:   m.Sender.Name,
					Avatar: m.Sender.Avatar,
				},
			}
		}),
	}
	if n := len(messages); n > 0 {
		page.NextCursor = &messages[n-1].ID
	}
	return page
}

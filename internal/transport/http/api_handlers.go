package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/store"
)

// historyPageSize is the number of messages returned per history page.
const historyPageSize = 50

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(st store.Store, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		store: st,
		log:   logger,
	}
}

// CreateUserRequest represents the create user request body.
type CreateUserRequest struct {
	Email  string  `json:"email" binding:"required,email"`
	Name   string  `json:"name" binding:"required,max=64"`
	Avatar *string `json:"avatar"`
}

// CreateChannelRequest represents the create channel request body.
type CreateChannelRequest struct {
	Name      *string `json:"name" binding:"omitempty,max=64"`
	Type      string  `json:"type" binding:"required,oneof=DIRECT GROUP PUBLIC"`
	UserID    string  `json:"userId" binding:"required"`
	PartnerID string  `json:"partnerId"`
}

// CreateUser handles user creation.
// POST /api/users
func (h *APIHandlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create user request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Email and Name are required"})
		return
	}

	user, err := h.store.CreateUser(c.Request.Context(), req.Email, req.Name, req.Avatar)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "A user with this email already exists"})
			return
		}
		h.log.Error().Err(err).Str("email", req.Email).Msg("failed to create user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create user"})
		return
	}

	h.log.Info().Str("user_id", user.ID).Msg("user created")
	c.JSON(http.StatusCreated, toUserResponse(*user))
}

// CreateChannel handles channel creation. A DIRECT request returns the
// existing conversation between the two users when there is one.
// POST /api/channels
func (h *APIHandlers) CreateChannel(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create channel request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	channelType := store.ChannelType(req.Type)

	if channelType == store.ChannelTypeDirect {
		if req.PartnerID == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Partner ID required for Direct Messages"})
			return
		}
		if req.PartnerID == req.UserID {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Cannot start a conversation with yourself"})
			return
		}

		existing, err := h.store.FindDirectChannel(ctx, req.UserID, req.PartnerID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, toChannelResponseFor(existing, req.UserID))
			return
		case !errors.Is(err, store.ErrNotFound):
			h.log.Error().Err(err).Str("user_id", req.UserID).Str("partner_id", req.PartnerID).Msg("failed to look up direct channel")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create channel"})
			return
		}

		channel, err := h.store.CreateDirectChannel(ctx, req.UserID, req.PartnerID)
		if err != nil {
			h.channelError(c, err, req.UserID)
			return
		}
		h.log.Info().Str("channel_id", channel.ID).Str("user_id", req.UserID).Str("partner_id", req.PartnerID).Msg("direct channel created")
		c.JSON(http.StatusCreated, toChannelResponseFor(channel, req.UserID))
		return
	}

	if req.Name == nil || *req.Name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Name is required"})
		return
	}

	channel, err := h.store.CreateChannel(ctx, req.Name, channelType, req.UserID)
	if err != nil {
		h.channelError(c, err, req.UserID)
		return
	}

	h.log.Info().Str("channel_id", channel.ID).Str("type", req.Type).Str("user_id", req.UserID).Msg("channel created")
	c.JSON(http.StatusCreated, toChannelResponse(channel))
}

func (h *APIHandlers) channelError(c *gin.Context, err error, userID string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	}
	h.log.Error().Err(err).Str("user_id", userID).Msg("failed to create channel")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create channel"})
}

// ListUserChannels lists the channels a user belongs to, newest first.
// GET /api/users/:userId/channels
func (h *APIHandlers) ListUserChannels(c *gin.Context) {
	userID := c.Param("userId")

	channels, err := h.store.ListChannelsForUser(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to list channels")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch channels"})
		return
	}

	response := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		response = append(response, toChannelResponseFor(ch, userID))
	}

	h.log.Debug().Str("user_id", userID).Int("channel_count", len(channels)).Msg("channels listed")
	c.JSON(http.StatusOK, response)
}

// ListMessages returns one page of channel history, newest first.
// GET /api/channels/:channelId/messages?cursor=<messageId>
func (h *APIHandlers) ListMessages(c *gin.Context) {
	channelID := c.Param("channelId")

	var cursor *string
	if v := c.Query("cursor"); v != "" {
		cursor = &v
	}

	messages, err := h.store.ListMessages(c.Request.Context(), channelID, historyPageSize, cursor)
	if err != nil {
		h.log.Error().Err(err).Str("channel_id", channelID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to fetch messages"})
		return
	}

	c.JSON(http.StatusOK, toMessagePage(messages))
}

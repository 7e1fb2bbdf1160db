package core

import (
	"context"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/wirerelay/internal/metrics"
	"github.com/vovakirdan/wirerelay/internal/proto"
	"github.com/vovakirdan/wirerelay/internal/store"
)

// Delivery summarizes one fan-out.
type Delivery struct {
	MessageID  string
	Recipients int // live connections found for channel members
	Delivered  int
	Dropped    int
}

// Dispatcher validates, persists and fans out messages.
type Dispatcher struct {
	registry         *Registry
	oracle           MembershipOracle
	messages         store.MessageStore
	maxContentLength int
	log              *zerolog.Logger
	metrics          *metrics.Metrics
}

// NewDispatcher builds a dispatcher. maxContentLength <= 0 disables the length check.
func NewDispatcher(registry *Registry, oracle MembershipOracle, messages store.MessageStore, maxContentLength int, logger *zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		registry:         registry,
		oracle:           oracle,
		messages:         messages,
		maxContentLength: maxContentLength,
		log:              logger,
		metrics:          m,
	}
}

// Send posts content from senderID into a channel and pushes the resulting
// NEW_MESSAGE to every open connection of every channel member.
// Returned errors are *CoreError values meant for the sender only; when an
// error is returned nothing was written and nothing was broadcast.
func (d *Dispatcher) Send(ctx context.Context, senderID string, p proto.SendMessagePayload) (Delivery, error) {
	if err := p.Validate(); err != nil {
		d.metrics.Incr(metrics.SendRejected, 1)
		return Delivery{}, errChannelRequired
	}
	if d.maxContentLength > 0 && utf8.RuneCountInString(p.Content) > d.maxContentLength {
		d.metrics.Incr(metrics.SendRejected, 1)
		return Delivery{}, errContentTooLong
	}

	// The sender may disconnect mid-dispatch; the write and fan-out still complete.
	ctx = context.WithoutCancel(ctx)

	member, err := d.oracle.IsMember(ctx, p.ChannelID, senderID)
	if err != nil {
		d.log.Error().Err(err).Str("user_id", senderID).Str("channel_id", p.ChannelID).Msg("membership lookup failed")
		return Delivery{}, errDatabase
	}
	if !member {
		d.metrics.Incr(metrics.SendRejected, 1)
		d.log.Debug().Str("user_id", senderID).Str("channel_id", p.ChannelID).Msg("send rejected: not a member")
		return Delivery{}, errNotMember
	}

	posted, err := d.messages.CreateMessage(ctx, store.NewMessage{
		Content:   p.Content,
		ChannelID: p.ChannelID,
		UserID:    senderID,
	})
	if err != nil {
		d.log.Error().Err(err).Str("user_id", senderID).Str("channel_id", p.ChannelID).Msg("failed to save message")
		return Delivery{}, errDatabase
	}
	d.metrics.Incr(metrics.MessagesPersisted, 1)

	frame, err := proto.Encode(proto.NewMessageFrame(proto.NewMessagePayload{
		ID:        posted.ID,
		Content:   posted.Content,
		ChannelID: posted.ChannelID,
		UserID:    posted.UserID,
		CreatedAt: posted.CreatedAt,
		User: proto.UserProfile{
			Name:   posted.Sender.Name,
			Avatar: posted.Sender.Avatar,
		},
	}))
	if err != nil {
		// The message is stored; history readers will still see it.
		d.log.Error().Err(err).Str("message_id", posted.ID).Msg("failed to encode message")
		return Delivery{MessageID: posted.ID}, nil
	}

	delivery := d.fanOut(posted.MemberIDs, frame)
	delivery.MessageID = posted.ID

	d.log.Debug().
		Str("message_id", posted.ID).
		Str("channel_id", posted.ChannelID).
		Int("members", len(posted.MemberIDs)).
		Int("delivered", delivery.Delivered).
		Int("dropped", delivery.Dropped).
		Msg("message dispatched")

	return delivery, nil
}

func (d *Dispatcher) fanOut(memberIDs []string, frame []byte) Delivery {
	var delivery Delivery
	for _, memberID := range lo.Uniq(memberIDs) {
		for _, conn := range d.registry.ConnectionsFor(memberID) {
			delivery.Recipients++
			if conn.Deliver(frame) {
				delivery.Delivered++
				continue
			}
			delivery.Dropped++
			d.log.Debug().Str("conn_id", conn.ID).Str("user_id", memberID).Msg("dropped frame for closed or slow connection")
		}
	}
	d.metrics.Incr(metrics.MessagesDelivered, int64(delivery.Delivered))
	d.metrics.Incr(metrics.MessagesDropped, int64(delivery.Dropped))
	return delivery
}

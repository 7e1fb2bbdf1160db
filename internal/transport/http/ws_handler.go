package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/metrics"
	"github.com/vovakirdan/wirerelay/internal/proto"
	"github.com/vovakirdan/wirerelay/internal/utils"
)

var (
	// errKicked ends the write loop after a forced close was flushed.
	errKicked = errors.New("connection kicked")
	// errServerClosing ends the write loop when the hub shuts the connection down.
	errServerClosing = errors.New("server shutting down")
)

// WSOptions configures the WebSocket gateway.
type WSOptions struct {
	// MaxMessageBytes caps one inbound frame; <= 0 keeps the library default.
	MaxMessageBytes int64
	// OriginPatterns are accepted Origin hosts. Empty accepts any origin.
	OriginPatterns []string
}

// WSHandler upgrades HTTP connections and bridges them to core.Session.
type WSHandler struct {
	hub     *core.Hub
	opts    WSOptions
	metrics *metrics.Metrics
	log     *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, opts WSOptions, m *metrics.Metrics, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, opts: opts, metrics: m, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	acceptOpts := &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns}
	if len(h.opts.OriginPatterns) == 0 {
		acceptOpts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	session := h.hub.Open(utils.NewID())
	defer session.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, session)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, session.Conn())
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	// Unregister before the close handshake so no fan-out targets a dying socket.
	session.Close()

	switch {
	case errors.Is(err, errKicked):
		conn.Close(websocket.StatusPolicyViolation, "identification failed")
		return
	case errors.Is(err, errServerClosing):
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", session.Conn().ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session) error {
	connID := session.Conn().ID
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			h.log.Debug().Err(err).Str("conn_id", connID).Msg("read ws inbound")
			return err
		}
		if msgType != websocket.MessageText {
			h.metrics.Incr(metrics.FramesMalformed, 1)
			h.log.Warn().Str("conn_id", connID).Msg("ignoring binary frame")
			continue
		}

		frame, err := proto.Decode(data)
		if err != nil {
			// Malformed input is dropped; the connection stays open.
			h.metrics.Incr(metrics.FramesMalformed, 1)
			h.log.Warn().Err(err).Str("conn_id", connID).Msg("failed to decode inbound")
			continue
		}

		session.Handle(ctx, frame)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, c *core.Conn) error {
	for {
		select {
		case frame := <-c.Outbound():
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				h.log.Error().Err(err).Str("conn_id", c.ID).Msg("write ws frame")
				return err
			}
		case <-c.Kicked():
			return h.flush(ctx, conn, c)
		case <-c.Done():
			return errServerClosing
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flush writes whatever is still queued and reports the kick.
func (h *WSHandler) flush(ctx context.Context, conn *websocket.Conn, c *core.Conn) error {
	for {
		select {
		case frame := <-c.Outbound():
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return err
			}
		default:
			return errKicked
		}
	}
}

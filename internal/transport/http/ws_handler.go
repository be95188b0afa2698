package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/parcelchat-server/internal/auth"
	"github.com/vovakirdan/parcelchat-server/internal/config"
	"github.com/vovakirdan/parcelchat-server/internal/core"
	"github.com/vovakirdan/parcelchat-server/internal/proto"
	"github.com/vovakirdan/parcelchat-server/internal/utils"
)

const writeTimeout = 10 * time.Second

var errOutboxOverflow = errors.New("outbound queue overflow")

// WSHandler authenticates, upgrades and bridges connections to core.Client.
type WSHandler struct {
	hub  *core.Hub
	auth *auth.Service
	cfg  *config.Config
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, auth: authService, cfg: cfg, log: logger}
}

// Handle serves GET /ws. Credentials come from the token and userId query
// parameters or a Bearer header and are checked before the upgrade.
func (h *WSHandler) Handle(c *gin.Context) {
	r := c.Request
	creds := auth.Credentials{
		UserID: c.Query("userId"),
		Token:  c.Query("token"),
	}
	if creds.Token == "" {
		creds.Token = bearerToken(c.GetHeader("Authorization"))
	}

	identity, err := h.auth.Authenticate(r.Context(), creds)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.log.Debug().Err(err).Str("remote", c.ClientIP()).Msg("ws authentication rejected")
			c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: core.ErrCodeUnauthorized})
			return
		}
		h.log.Error().Err(err).Msg("ws authentication failed")
		c.JSON(stdhttp.StatusInternalServerError, ErrorResponse{Error: core.ErrCodeInternal})
		return
	}

	conn, err := websocket.Accept(c.Writer, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := core.NewClient(utils.NewID(), identity.UserID, identity.Role, h.cfg.OutboxLimit)
	logger := h.log.With().
		Str("connection_id", client.ID).
		Str("user_id", client.UserID).
		Logger()

	h.hub.Connect(client)
	defer h.hub.Disconnect(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	limiter := newRateLimiter(h.cfg.RateLimitPerMinute)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, limiter, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()

	err = <-errCh
	status, reason := closeStatus(err, client, &logger)
	conn.Close(status, reason)
	cancel() // stop the other goroutine
	<-errCh
}

func closeStatus(err error, client *core.Client, logger *zerolog.Logger) (websocket.StatusCode, string) {
	if errors.Is(err, errOutboxOverflow) {
		logger.Warn().Int("pending", client.Pending()).Msg("ws consumer fell behind")
		return websocket.StatusPolicyViolation, "too slow"
	}
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return websocket.StatusNormalClosure, "closing"
	}

	status := websocket.StatusInternalError
	if s := websocket.CloseStatus(err); s != -1 {
		status = s
	}
	switch status {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return status, "closing"
	case websocket.StatusMessageTooBig:
		logger.Debug().Err(err).Msg("ws frame over read limit")
		return status, "message too big"
	}
	logger.Warn().Err(err).Msg("ws connection closed with error")
	return status, "internal error"
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, limiter *rateLimiter, logger *zerolog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		if typ != websocket.MessageText {
			if err := h.write(ctx, conn, *protoError("", proto.ErrCodeInvalidMessage, "frames must be JSON text")); err != nil {
				return err
			}
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			logger.Debug().Err(err).Msg("malformed ws frame")
			if err := h.write(ctx, conn, *protoError("", proto.ErrCodeBadRequest, "malformed frame")); err != nil {
				return err
			}
			continue
		}

		reply := h.dispatch(ctx, client, limiter, inbound)
		if reply == nil {
			continue
		}
		if err := h.write(ctx, conn, *reply); err != nil {
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		event, err := client.Next(ctx)
		if err != nil {
			if errors.Is(err, core.ErrClientClosed) {
				if client.Overflowed() {
					return errOutboxOverflow
				}
				return nil
			}
			return err
		}
		if err := h.write(ctx, conn, outboundFromEvent(event)); err != nil {
			logger.Error().Err(err).Str("event", event.Kind.String()).Msg("write ws event")
			return err
		}
	}
}

// dispatch runs one request to completion. A nil reply means nothing is sent back.
func (h *WSHandler) dispatch(ctx context.Context, client *core.Client, limiter *rateLimiter, in proto.Inbound) *proto.Outbound {
	switch in.Type {
	case proto.InboundTypeJoin:
		var data proto.ConversationData
		if err := decodeData(in, &data); err != nil {
			return protoError(in.Ref, proto.ErrCodeBadRequest, "invalid joinConversation data")
		}
		snap, err := h.hub.Join(ctx, client, data.ConversationID)
		if err != nil {
			return ack(in.Ref, errorAck(err))
		}
		return ack(in.Ref, joinAckFromSnapshot(snap))

	case proto.InboundTypeLeave:
		var data proto.ConversationData
		if err := decodeData(in, &data); err != nil {
			return protoError(in.Ref, proto.ErrCodeBadRequest, "invalid leaveConversation data")
		}
		h.hub.Leave(client, data.ConversationID)
		return ack(in.Ref, proto.StatusAck{Status: proto.StatusSuccess})

	case proto.InboundTypeSend:
		var data proto.SendData
		if err := decodeData(in, &data); err != nil {
			return protoError(in.Ref, proto.ErrCodeBadRequest, "invalid sendMessage data")
		}
		if !limiter.allow() {
			return ack(in.Ref, errorAck(errRateLimited))
		}
		res, err := h.hub.Send(ctx, client, core.SendRequest{
			ConversationID: data.ConversationID,
			SenderID:       data.SenderID,
			ReceiverID:     data.ReceiverID,
			Content:        data.Content,
		})
		if err != nil {
			return ack(in.Ref, errorAck(err))
		}
		return ack(in.Ref, proto.SendAck{
			Status:    proto.StatusSuccess,
			MessageID: res.MessageID,
			Timestamp: formatTime(res.Timestamp),
			Delivery:  string(res.Delivery),
		})

	case proto.InboundTypeMarkRead:
		var data proto.MarkReadData
		if err := decodeData(in, &data); err != nil {
			return protoError(in.Ref, proto.ErrCodeBadRequest, "invalid markAsRead data")
		}
		count, err := h.hub.MarkRead(ctx, client, data.ConversationID, data.MessageIDs)
		if err != nil {
			return ack(in.Ref, errorAck(err))
		}
		return ack(in.Ref, proto.ReadAck{Status: proto.StatusSuccess, Count: count})

	case proto.InboundTypeTyping, proto.InboundTypeStopTyping:
		var data proto.ConversationData
		if err := decodeData(in, &data); err != nil {
			return protoError(in.Ref, proto.ErrCodeBadRequest, "invalid typing data")
		}
		if !limiter.allow() {
			return ack(in.Ref, errorAck(errRateLimited))
		}
		h.hub.Typing(client, data.ConversationID, in.Type == proto.InboundTypeTyping)
		return nil

	default:
		return protoError(in.Ref, proto.ErrCodeInvalidMessage, "unknown message type")
	}
}

var errRateLimited = &core.CoreError{Code: core.ErrCodeRateLimited, Message: "too many requests"}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, out)
}

func decodeData(in proto.Inbound, v any) error {
	if len(in.Data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(in.Data, v)
}

func ack(ref string, data any) *proto.Outbound {
	return &proto.Outbound{Type: proto.OutboundTypeAck, Ref: ref, Data: data}
}

func protoError(ref, code, msg string) *proto.Outbound {
	return &proto.Outbound{Type: proto.OutboundTypeError, Ref: ref, Error: &proto.Error{Code: code, Msg: msg}}
}

func asCoreError(err error) (*core.CoreError, bool) {
	var ce *core.CoreError
	ok := errors.As(err, &ce)
	return ce, ok
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bizlink/messaging-service/internal/auth"
	"bizlink/messaging-service/internal/repository"
	"bizlink/messaging-service/internal/service"
)

const (
	readTimeout     = 60 * time.Second
	maxFrameSize    = 1 << 20
	inflightTimeout = 5 * time.Second
)

// Handler owns the websocket endpoint: it admits connections through the
// gatekeeper, registers presence, and runs the per-connection event loop.
// Events from one connection are handled strictly in receipt order; a failed
// event answers only its own connection.
type Handler struct {
	svc       service.MessagingService
	verifier  *auth.Verifier
	presence  *Presence
	deliverer *Deliverer
	upgrader  websocket.Upgrader
	logger    *logrus.Logger
}

func NewHandler(
	svc service.MessagingService,
	verifier *auth.Verifier,
	presence *Presence,
	deliverer *Deliverer,
	allowedOrigins []string,
	logger *logrus.Logger,
) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &Handler{
		svc:       svc,
		verifier:  verifier,
		presence:  presence,
		deliverer: deliverer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowed["*"] {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
		logger: logger,
	}
}

// ServeWS handles GET /ws. The credential is checked before the upgrade; a
// refused connection never reaches the presence registry.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	account, err := h.verifier.Authenticate(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		h.logger.WithError(err).Warn("Websocket admission refused")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}

	conn := NewConnection(account, ws)
	conn.Start()
	h.presence.Register(account.ID, conn)

	h.logger.WithFields(logrus.Fields{
		"user_id":   account.ID,
		"user_type": account.UserType,
	}).Info("Websocket connected")

	defer func() {
		h.presence.Deregister(account.ID, conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
		// A replaced connection exits while a newer one is live; only the
		// last one to go announces the user offline.
		if !h.presence.IsOnline(account.ID) {
			h.deliverer.BroadcastStatus(account.ID, "offline")
		}
		h.logger.WithField("user_id", account.ID).Info("Websocket disconnected")
	}()

	h.deliverer.BroadcastStatus(account.ID, "online")
	h.reply(conn, EventConnected, connectedPayload{UserID: account.ID, UserType: account.UserType})

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.replyError(conn, EventError, CodeValidationFailure, "invalid frame")
			continue
		}

		h.dispatch(conn, frame)
	}
}

func (h *Handler) dispatch(conn *Connection, frame inboundFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), inflightTimeout)
	defer cancel()

	switch frame.Event {
	case EventJoinBusiness:
		h.handleJoinBusiness(ctx, conn, frame.Data)
	case EventSendMessage:
		h.handleSendMessage(ctx, conn, frame.Data)
	case EventMarkRead:
		h.handleMarkRead(ctx, conn, frame.Data)
	case EventTypingStart:
		h.handleTyping(conn, frame.Data, true)
	case EventTypingStop:
		h.handleTyping(conn, frame.Data, false)
	case EventDeleteMessage:
		h.handleDeleteMessage(ctx, conn, frame.Data)
	case EventUserStatus:
		h.handleUserStatus(conn, frame.Data)
	default:
		h.replyError(conn, EventError, CodeValidationFailure, "unknown event")
	}
}

func (h *Handler) handleJoinBusiness(ctx context.Context, conn *Connection, data json.RawMessage) {
	var payload joinBusinessPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.BusinessID == "" {
		h.replyError(conn, EventError, CodeValidationFailure, "businessId is required")
		return
	}

	owns, err := h.svc.OwnsBusiness(ctx, conn.Account.ID, payload.BusinessID)
	if err != nil {
		h.replyError(conn, EventError, CodeInternalError, "ownership check failed")
		return
	}
	if !owns {
		h.replyError(conn, EventError, CodeAuthorizationFailure, "business is not owned by this user")
		return
	}

	h.presence.JoinBusiness(payload.BusinessID, conn.Account.ID, conn)
	h.logger.WithFields(logrus.Fields{
		"user_id":     conn.Account.ID,
		"business_id": payload.BusinessID,
	}).Info("Joined business channel")
}

func (h *Handler) handleSendMessage(ctx context.Context, conn *Connection, data json.RawMessage) {
	var payload sendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		h.replyError(conn, EventMessageError, CodeValidationFailure, "invalid payload")
		return
	}

	res, err := h.svc.SendMessage(ctx, service.SendInput{
		SenderID:    conn.Account.ID,
		SenderType:  conn.Account.UserType,
		ReceiverID:  payload.ReceiverID,
		BusinessID:  payload.BusinessID,
		Content:     payload.Content,
		Type:        payload.MessageType,
		Attachments: payload.Attachments,
	})
	if err != nil {
		h.replyError(conn, EventMessageError, classify(err), err.Error())
		return
	}

	h.reply(conn, EventMessageSent, messageEventPayload{
		Message:      res.Message,
		Conversation: res.Conversation,
	})
	h.deliverer.DeliverMessage(res)
}

func (h *Handler) handleMarkRead(ctx context.Context, conn *Connection, data json.RawMessage) {
	var payload markReadPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.MessageID == "" {
		h.replyError(conn, EventMarkReadError, CodeValidationFailure, "messageId is required")
		return
	}

	msg, err := h.svc.MarkMessageRead(ctx, payload.MessageID, conn.Account.ID)
	if err != nil {
		h.replyError(conn, EventMarkReadError, classify(err), err.Error())
		return
	}

	h.reply(conn, EventMarkReadSuccess, markReadPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
	})
	h.deliverer.NotifyRead(msg)
}

func (h *Handler) handleTyping(conn *Connection, data json.RawMessage, active bool) {
	var payload typingPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ReceiverID == "" {
		// Typing indicators are best-effort; a malformed one is dropped.
		return
	}
	h.deliverer.RelayTyping(conn.Account, payload.ReceiverID, payload.ConversationID, active)
}

func (h *Handler) handleDeleteMessage(ctx context.Context, conn *Connection, data json.RawMessage) {
	var payload deleteMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.MessageID == "" {
		h.replyError(conn, EventDeleteError, CodeValidationFailure, "messageId is required")
		return
	}

	msg, err := h.svc.DeleteMessage(ctx, payload.MessageID, conn.Account.ID)
	if err != nil {
		h.replyError(conn, EventDeleteError, classify(err), err.Error())
		return
	}

	h.reply(conn, EventDeleteSuccess, deleteMessagePayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
	})
	h.deliverer.NotifyDeleted(msg, conn.Account.ID)
}

func (h *Handler) handleUserStatus(conn *Connection, data json.RawMessage) {
	var payload userStatusPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.Status == "" {
		h.replyError(conn, EventError, CodeValidationFailure, "status is required")
		return
	}
	h.deliverer.BroadcastStatus(conn.Account.ID, payload.Status)
}

func (h *Handler) reply(conn *Connection, event string, data interface{}) {
	payload, err := encode(event, data)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode event")
		return
	}
	_ = conn.Send(payload)
}

func (h *Handler) replyError(conn *Connection, event, code, message string) {
	h.reply(conn, event, errorPayload{Code: code, Message: message})
}

// classify maps service and repository failures onto the wire error codes.
func classify(err error) string {
	switch {
	case errors.Is(err, service.ErrNotParticipant),
		errors.Is(err, service.ErrNotReceiver):
		return CodeAuthorizationFailure
	case errors.Is(err, repository.ErrConversationNotFound),
		errors.Is(err, repository.ErrMessageNotFound),
		errors.Is(err, repository.ErrBusinessNotFound),
		errors.Is(err, repository.ErrAccountNotFound):
		return CodeNotFound
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrMissingRecipient),
		errors.Is(err, service.ErrContentTooLong),
		errors.Is(err, service.ErrBadAttachment),
		errors.Is(err, service.ErrSelfMessage):
		return CodeValidationFailure
	default:
		return CodeInternalError
	}
}

package realtime

import (
	"github.com/sirupsen/logrus"

	"bizlink/messaging-service/internal/models"
	"bizlink/messaging-service/internal/service"
)

// Deliverer decides which live connections receive a real-time event. It
// consults Presence synchronously and never retries: an absent receiver's
// record is the persisted message and its unread counter, observed later
// over REST.
type Deliverer struct {
	presence *Presence
	logger   *logrus.Logger

	// businessRoomFanout gates the additional emit to the business-scoped
	// room when the receiver is the business owner. The owner connected
	// both personally and in the room then receives the event twice;
	// multi-seat deployments want that, single-seat ones turn it off.
	businessRoomFanout bool
}

func NewDeliverer(presence *Presence, businessRoomFanout bool, logger *logrus.Logger) *Deliverer {
	return &Deliverer{
		presence:           presence,
		businessRoomFanout: businessRoomFanout,
		logger:             logger,
	}
}

// DeliverMessage fans a freshly persisted message out to the receiver's
// personal channel and, for business-owner receivers, the business room.
func (d *Deliverer) DeliverMessage(res *service.SendResult) {
	payload, err := encode(EventNewMessage, messageEventPayload{
		Message:      res.Message,
		Conversation: res.Conversation,
	})
	if err != nil {
		d.logger.WithError(err).Error("Failed to encode message event")
		return
	}

	if conn, ok := d.presence.ConnectionFor(res.Message.ReceiverID); ok {
		if err := conn.Send(payload); err != nil {
			d.logger.WithFields(logrus.Fields{
				"receiver_id": res.Message.ReceiverID,
				"message_id":  res.Message.ID,
			}).WithError(err).Warn("Personal delivery failed")
		}
	}

	if res.ReceiverRole != models.RoleBusinessOwner || !d.businessRoomFanout {
		return
	}

	roomPayload, err := encode(EventBusinessMessage, messageEventPayload{
		Message:      res.Message,
		Conversation: res.Conversation,
	})
	if err != nil {
		return
	}
	for _, conn := range d.presence.BusinessRoom(res.Message.BusinessID) {
		_ = conn.Send(roomPayload)
	}
}

// NotifyRead tells the original sender their message was read, if reachable.
func (d *Deliverer) NotifyRead(msg *models.Message) {
	conn, ok := d.presence.ConnectionFor(msg.SenderID)
	if !ok {
		return
	}
	payload, err := encode(EventMessageRead, messageReadPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ReaderID:       msg.ReceiverID,
	})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

// NotifyDeleted tells the other participant a message was hidden from the
// deleter's view.
func (d *Deliverer) NotifyDeleted(msg *models.Message, deleterID string) {
	otherID := msg.SenderID
	if deleterID == msg.SenderID {
		otherID = msg.ReceiverID
	}
	conn, ok := d.presence.ConnectionFor(otherID)
	if !ok {
		return
	}
	payload, err := encode(EventMessageDeleted, messageDeletedPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		DeletedBy:      deleterID,
	})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

// RelayTyping forwards a typing indicator to the receiver's personal channel
// when they are reachable, and otherwise drops it. No persistence, no retry.
func (d *Deliverer) RelayTyping(sender *models.Account, receiverID, conversationID string, active bool) {
	conn, ok := d.presence.ConnectionFor(receiverID)
	if !ok {
		return
	}

	event := EventUserTyping
	text := sender.Name + " is typing..."
	if !active {
		event = EventUserStoppedTyping
		text = ""
	}

	payload, err := encode(event, typingEventPayload{
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		ConversationID: conversationID,
		Text:           text,
	})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

// BroadcastStatus announces a user's status change to every registered
// connection.
func (d *Deliverer) BroadcastStatus(userID, status string) {
	payload, err := encode(EventUserStatusChange, statusChangePayload{
		UserID: userID,
		Status: status,
	})
	if err != nil {
		return
	}
	for _, conn := range d.presence.Connections() {
		_ = conn.Send(payload)
	}
}

package ws

import (
	"errors"
	"log"
	"time"

	"github.com/oakline/chatsync/internal/service"
)

// MessageReceipt reports that a message reached or was read by this session's
// user. Fire-and-forget and idempotent: failures are logged, never surfaced,
// since receipts are best-effort by nature. The recipient id is always the
// authenticated user.
type MessageReceipt struct {
	ConversationID uint `json:"conversation_id"`
	MessageID      uint `json:"message_id"`
	Read           bool `json:"read"`
}

func (msg *MessageReceipt) GetType() string {
	return "receipt"
}

func (msg *MessageReceipt) Process(ctx *MessageContext) error {
	now := time.Now().UTC()

	var change *service.StatusChange
	var err error
	if msg.Read {
		change, err = ctx.ReceiptService.MarkRead(msg.MessageID, ctx.UserID, now)
	} else {
		change, err = ctx.ReceiptService.MarkDelivered(msg.MessageID, ctx.UserID, now)
	}
	if err != nil {
		// Bad ids are client bugs worth telling the client about;
		// storage trouble stays server-side.
		if errors.Is(err, service.ErrNotFound) || errors.Is(err, service.ErrForbidden) {
			return SendError(ctx.Session, "invalid_receipt", "Receipt rejected", err.Error())
		}
		log.Printf("receipt for message %d from user %d dropped: %v", msg.MessageID, ctx.UserID, err)
		return nil
	}
	if change == nil {
		return nil
	}

	ctx.Registry.SendToUser(change.AuthorID, Envelope{
		Type:    EventReceiptUpdate,
		Payload: ReceiptUpdateEvent{Update: change.Update, Status: change.Status},
	})
	return nil
}

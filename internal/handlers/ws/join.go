package ws

import (
	"errors"
	"log"
	"time"

	"github.com/oakline/chatsync/internal/service"
)

// MessageJoin subscribes the connection to a conversation channel. Acked with
// joined or an error envelope; the connection stays open on failure.
type MessageJoin struct {
	ConversationID uint `json:"conversation_id"`
}

func (msg *MessageJoin) GetType() string {
	return "join"
}

func (msg *MessageJoin) Process(ctx *MessageContext) error {
	peerViewing, err := ctx.Registry.Subscribe(ctx.Session, msg.ConversationID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrForbidden):
			return SendError(ctx.Session, "forbidden", "Not a participant of this conversation", "")
		case errors.Is(err, service.ErrNotFound):
			return SendError(ctx.Session, "not_found", "Conversation does not exist", "")
		default:
			return SendError(ctx.Session, "join_failed", "Failed to join conversation", err.Error())
		}
	}

	// Anything sent while this user was away is now reaching an active
	// session: record deliveries and let the authors know.
	changes, err := ctx.ReceiptService.BackfillDelivered(msg.ConversationID, ctx.UserID, time.Now().UTC())
	if err != nil {
		log.Printf("delivery backfill for user %d in conversation %d failed: %v", ctx.UserID, msg.ConversationID, err)
	}
	for _, change := range changes {
		ctx.Registry.SendToUser(change.AuthorID, Envelope{
			Type:    EventReceiptUpdate,
			Payload: ReceiptUpdateEvent{Update: change.Update, Status: change.Status},
		})
	}

	return ctx.Session.Send(Envelope{
		Type:    EventJoined,
		Payload: JoinedEvent{ConversationID: msg.ConversationID, PeerViewing: peerViewing},
	})
}

// MessageLeave unsubscribes the connection from a conversation channel. No
// ack.
type MessageLeave struct {
	ConversationID uint `json:"conversation_id"`
}

func (msg *MessageLeave) GetType() string {
	return "leave"
}

func (msg *MessageLeave) Process(ctx *MessageContext) error {
	ctx.Registry.Unsubscribe(ctx.Session, msg.ConversationID)
	return nil
}

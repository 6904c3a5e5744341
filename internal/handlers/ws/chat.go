package ws

import (
	"errors"
	"time"

	"github.com/oakline/chatsync/internal/models"
	"github.com/oakline/chatsync/internal/service"
)

// MessageChat is a client request to create a message in a conversation.
// Acked with chat_ack carrying the durable message, or an error envelope.
type MessageChat struct {
	ConversationID uint                   `json:"conversation_id"`
	ClientID       string                 `json:"client_id"`
	Content        string                 `json:"content"`
	Category       models.MessageCategory `json:"category"`
}

func (msg *MessageChat) GetType() string {
	return "chat"
}

func (msg *MessageChat) Process(ctx *MessageContext) error {
	created, participants, err := ctx.MessageService.Create(ctx.UserID, service.SendMessageInput{
		ConversationID: msg.ConversationID,
		ClientID:       msg.ClientID,
		Content:        msg.Content,
		Category:       msg.Category,
	})
	if err != nil {
		return SendError(ctx.Session, chatErrorCode(err), "Failed to send message", err.Error())
	}

	// Ack to the origin first so the sender's reconciler can swap its
	// optimistic entry before the broadcast echo arrives.
	if err := ctx.Session.Send(Envelope{
		Type:    EventChatAck,
		Payload: ChatAckEvent{ClientID: created.ClientID, Message: created.ToResponse()},
	}); err != nil {
		return err
	}

	ctx.Registry.Publish(msg.ConversationID, Envelope{
		Type:    EventMessage,
		Payload: NewMessageEvent{Message: created.ToResponse()},
	}, nil)

	// Every recipient with a session subscribed to the channel just
	// received the broadcast: record delivery and push the resulting
	// status to the author.
	if created.Category != models.SystemMessage {
		now := time.Now().UTC()
		for _, userID := range ctx.Registry.SubscribedUsers(msg.ConversationID) {
			if userID == ctx.UserID || !containsID(participants, userID) {
				continue
			}
			change, err := ctx.ReceiptService.MarkDelivered(created.ID, userID, now)
			if err != nil || change == nil {
				continue
			}
			ctx.Registry.SendToUser(change.AuthorID, Envelope{
				Type:    EventReceiptUpdate,
				Payload: ReceiptUpdateEvent{Update: change.Update, Status: change.Status},
			})
		}
	}

	return nil
}

func chatErrorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return "forbidden"
	case errors.Is(err, service.ErrNotFound):
		return "not_found"
	case errors.Is(err, service.ErrInvalidContent):
		return "invalid_content"
	case errors.Is(err, service.ErrInvalidClientID):
		return "invalid_client_id"
	default:
		return "send_failed"
	}
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

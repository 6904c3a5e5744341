package ws

import (
	"github.com/oakline/chatsync/internal/models"
)

// Server-pushed event types. Clients never send these; they arrive wrapped in
// an Envelope with the matching type tag.
const (
	EventMessage       = "message"
	EventReceiptUpdate = "receipt_update"
	EventTyping        = "typing"
	EventPresence      = "presence"
	EventJoined        = "joined"
	EventChatAck       = "chat_ack"
)

// NewMessageEvent announces a freshly persisted message to every connection
// subscribed to its conversation, the author's own connections included. The
// client reconciler deduplicates the self-echo against the chat ack.
type NewMessageEvent struct {
	Message models.MessageResponse `json:"message"`
}

// ReceiptUpdateEvent carries one recipient's receipt change plus the
// recomputed aggregate status, pushed to the message author.
type ReceiptUpdateEvent struct {
	Update models.ReceiptUpdate  `json:"update"`
	Status models.DeliveryStatus `json:"status"`
}

// TypingEvent is broadcast to a conversation, excluding the origin
// connection.
type TypingEvent struct {
	ConversationID uint `json:"conversation_id"`
	UserID         uint `json:"user_id"`
	IsTyping       bool `json:"is_typing"`
}

// PresenceEvent is emitted when the last connection of a user leaves a
// conversation channel, or the first one joins it.
type PresenceEvent struct {
	ConversationID uint `json:"conversation_id"`
	UserID         uint `json:"user_id"`
	Viewing        bool `json:"viewing"`
}

// JoinedEvent acknowledges conversation:join. PeerViewing tells the client
// whether any other participant currently has the conversation open.
type JoinedEvent struct {
	ConversationID uint `json:"conversation_id"`
	PeerViewing    bool `json:"peer_viewing"`
}

// ChatAckEvent acknowledges message:create. ClientID lets the sender's
// reconciler swap its optimistic entry in place.
type ChatAckEvent struct {
	ClientID string                 `json:"client_id"`
	Message  models.MessageResponse `json:"message"`
}

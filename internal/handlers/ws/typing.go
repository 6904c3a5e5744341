package ws

// MessageTyping is a keystroke signal. No ack; forwarded to the channel with
// the origin connection excluded. The session's debounce timer guarantees a
// closing Typing(false) even if the client never sends one.
type MessageTyping struct {
	ConversationID uint `json:"conversation_id"`
	IsTyping       bool `json:"is_typing"`
}

func (msg *MessageTyping) GetType() string {
	return "typing"
}

func (msg *MessageTyping) Process(ctx *MessageContext) error {
	// Only subscribed sessions may emit typing into a channel.
	if !ctx.Session.Joined(msg.ConversationID) {
		return SendError(ctx.Session, "not_joined", "Join the conversation before typing", "")
	}

	ctx.Session.TouchTyping(msg.ConversationID, msg.IsTyping)
	return nil
}

package handlers

import (
	"log"
	"os"

	"github.com/gofiber/websocket/v2"
	"github.com/oakline/chatsync/internal/cache"
	"github.com/oakline/chatsync/internal/handlers/ws"
	"github.com/oakline/chatsync/internal/service"
)

type WebSocketHandler struct {
	messageService *service.MessageService
	receiptService *service.ReceiptService
	registry       *ws.Registry
	presence       *cache.PresenceCache
}

func NewWebSocketHandler(messageService *service.MessageService, receiptService *service.ReceiptService, guard ws.Guard, presence *cache.PresenceCache) *WebSocketHandler {
	return &WebSocketHandler{
		messageService: messageService,
		receiptService: receiptService,
		registry:       ws.NewRegistry(guard, presence),
		presence:       presence,
	}
}

// GetRegistry returns the channel registry (used to attach the relay and to
// push events from outside the socket loop)
func (h *WebSocketHandler) GetRegistry() *ws.Registry {
	return h.registry
}

func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	// Auth middleware ran before the upgrade; a connection without an
	// identity never reaches this point (fail-closed).
	userID := c.Locals("userID").(uint)
	wsDebug := os.Getenv("WS_DEBUG") == "true"

	session := ws.NewSession(c, userID, h.registry)
	h.registry.Register(session)

	defer func() {
		session.Close()
		h.registry.Deregister(session)
	}()

	ctx := &ws.MessageContext{
		UserID:         userID,
		Session:        session,
		Registry:       h.registry,
		MessageService: h.messageService,
		ReceiptService: h.receiptService,
	}

	// Handle incoming messages
	for {
		messageType, messageBytes, err := c.ReadMessage()
		if err != nil {
			log.Printf("read from user %d failed: %v", userID, err)
			break
		}

		if wsDebug {
			log.Printf("ws_recv user_id=%d frame_type=%d size=%d", userID, messageType, len(messageBytes))
		}

		msg, err := ws.Deserialize(messageBytes)
		if err != nil {
			log.Printf("bad frame from user %d: %v", userID, err)
			ws.SendError(session, "invalid_message", "Invalid message format", err.Error())
			continue
		}

		if err := msg.Process(ctx); err != nil {
			log.Printf("processing %s from user %d failed: %v", msg.GetType(), userID, err)
			ws.SendError(session, "processing_failed", "Failed to process message", err.Error())
		}
	}
}

package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oakline/chatsync/internal/httpx"
	"github.com/oakline/chatsync/internal/models"
	"github.com/oakline/chatsync/internal/service"
)

// HistoryHandler serves paginated conversation history. Pages are newest
// first; the client appends older pages behind what it already rendered.
type HistoryHandler struct {
	messageService *service.MessageService
}

func NewHistoryHandler(messageService *service.MessageService) *HistoryHandler {
	return &HistoryHandler{messageService: messageService}
}

type historyResponse struct {
	Messages []models.MessageResponse `json:"messages"`
	HasMore  bool                     `json:"has_more"`
}

// GetMessages handles GET /api/messages?conversation_id=&before=&limit=
// where before is an RFC3339 timestamp cursor.
func (h *HistoryHandler) GetMessages(c *fiber.Ctx) error {
	userID, err := httpx.LocalUint(c, "userID")
	if err != nil {
		return httpx.Unauthorized(c, "missing_identity", "Missing authenticated user")
	}

	conversationID := c.QueryInt("conversation_id")
	if conversationID <= 0 {
		return httpx.BadRequest(c, "invalid_conversation_id", "conversation_id is required")
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httpx.BadRequest(c, "invalid_cursor", "before must be an RFC3339 timestamp")
		}
		before = &parsed
	}

	messages, err := h.messageService.GetPageBefore(userID, uint(conversationID), before, limit)
	if err != nil {
		if errors.Is(err, service.ErrForbidden) {
			return httpx.Forbidden(c, "forbidden", "Not a participant of this conversation")
		}
		return httpx.Internal(c, "history_failed")
	}

	out := make([]models.MessageResponse, len(messages))
	for i := range messages {
		out[i] = messages[i].ToResponse()
	}

	return c.JSON(historyResponse{
		Messages: out,
		HasMore:  len(out) == limit,
	})
}

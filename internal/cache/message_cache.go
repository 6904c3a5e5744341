package cache

import (
	"fmt"
	"time"

	"github.com/oakline/chatsync/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// PageTTL bounds staleness of the cached latest page; anything older
	// is fetched from the database anyway.
	PageTTL = 5 * time.Minute
)

// MessageCache caches the latest page of each conversation. Only the latest
// page is worth caching: it is what every client fetches on open, and it is
// the only page invalidated by new messages.
type MessageCache struct {
	redis *RedisCache
}

// NewMessageCache creates a new message cache
func NewMessageCache(redis *RedisCache) *MessageCache {
	return &MessageCache{redis: redis}
}

func latestPageKey(conversationID uint) string {
	return fmt.Sprintf("page:%d:latest", conversationID)
}

// GetLatestPage retrieves the cached latest page of a conversation
func (mc *MessageCache) GetLatestPage(conversationID uint) ([]models.Message, bool) {
	if mc == nil || mc.redis == nil {
		return nil, false
	}
	data, err := mc.redis.Get(latestPageKey(conversationID))
	if err != nil || data == nil {
		return nil, false
	}

	var messages []models.Message
	if err := msgpack.Unmarshal(data, &messages); err != nil {
		return nil, false
	}

	return messages, true
}

// SetLatestPage caches the latest page of a conversation
func (mc *MessageCache) SetLatestPage(conversationID uint, messages []models.Message) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(messages)
	if err != nil {
		return err
	}
	return mc.redis.Set(latestPageKey(conversationID), data, PageTTL)
}

// InvalidateLatestPage drops the cached page after a new message lands
func (mc *MessageCache) InvalidateLatestPage(conversationID uint) error {
	if mc == nil || mc.redis == nil {
		return nil
	}
	return mc.redis.Delete(latestPageKey(conversationID))
}

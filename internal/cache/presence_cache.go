package cache

import (
	"fmt"
	"strconv"
	"time"
)

const (
	// OnlineUserTTL bounds how long a crashed connection can look online.
	OnlineUserTTL = 90 * time.Second
)

// PresenceCache tracks which users are connected and which conversations
// they are actively viewing. Viewing state drives auto-delivery on join and
// the "peer is viewing" flag returned by conversation:join.
type PresenceCache struct {
	redis *RedisCache
}

// NewPresenceCache creates a new presence cache
func NewPresenceCache(redis *RedisCache) *PresenceCache {
	return &PresenceCache{redis: redis}
}

func viewingKey(conversationID uint) string {
	return fmt.Sprintf("viewing:%d", conversationID)
}

// SetUserOnline adds a user to the online users set
func (pc *PresenceCache) SetUserOnline(userID uint) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	if err := pc.redis.SetAdd("online:users", userID); err != nil {
		return err
	}

	// Individual key with TTL for auto-expiration on crash
	userKey := fmt.Sprintf("online:%d", userID)
	return pc.redis.Set(userKey, []byte("1"), OnlineUserTTL)
}

// SetUserOffline removes a user from the online users set
func (pc *PresenceCache) SetUserOffline(userID uint) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	if err := pc.redis.SetRemove("online:users", userID); err != nil {
		return err
	}
	return pc.redis.Delete(fmt.Sprintf("online:%d", userID))
}

// IsUserOnline checks if a user is online
func (pc *PresenceCache) IsUserOnline(userID uint) bool {
	if pc == nil || pc.redis == nil {
		return false
	}
	return pc.redis.Exists(fmt.Sprintf("online:%d", userID))
}

// SetViewing marks a user as actively viewing a conversation.
func (pc *PresenceCache) SetViewing(conversationID, userID uint) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	return pc.redis.SetAdd(viewingKey(conversationID), userID)
}

// ClearViewing removes a user from a conversation's viewing set.
func (pc *PresenceCache) ClearViewing(conversationID, userID uint) error {
	if pc == nil || pc.redis == nil {
		return nil
	}
	return pc.redis.SetRemove(viewingKey(conversationID), userID)
}

// AnyOtherViewing reports whether any user besides the given one is viewing
// the conversation. Works across gateway nodes since it goes through Redis.
func (pc *PresenceCache) AnyOtherViewing(conversationID, userID uint) (bool, error) {
	if pc == nil || pc.redis == nil {
		return false, nil
	}
	members, err := pc.redis.SetMembers(viewingKey(conversationID))
	if err != nil {
		return false, err
	}
	self := strconv.FormatUint(uint64(userID), 10)
	for _, m := range members {
		if m != self {
			return true, nil
		}
	}
	return false, nil
}

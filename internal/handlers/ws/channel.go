package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/oakline/chatsync/internal/cache"
	"github.com/oakline/chatsync/internal/service"
)

// Guard is the external authorization check consulted before a session may
// subscribe to a conversation channel.
type Guard interface {
	Exists(conversationID uint) (bool, error)
	IsParticipant(conversationID, userID uint) (bool, error)
}

// BroadcastRelay mirrors channel publishes to other gateway nodes. Optional;
// a nil relay keeps everything single-node.
type BroadcastRelay interface {
	Relay(conversationID uint, payload []byte) error
}

// Registry tracks which connections are subscribed to which conversation and
// fans events out to them. Broadcasts take the read lock only, so one
// channel's fan-out never blocks another's subscribe.
type Registry struct {
	mu       sync.RWMutex
	channels map[uint]map[*Session]struct{}
	byUser   map[uint]map[*Session]struct{}
	guard    Guard
	presence *cache.PresenceCache
	relay    BroadcastRelay
}

func NewRegistry(guard Guard, presence *cache.PresenceCache) *Registry {
	return &Registry{
		channels: make(map[uint]map[*Session]struct{}),
		byUser:   make(map[uint]map[*Session]struct{}),
		guard:    guard,
		presence: presence,
	}
}

// SetRelay attaches a cross-node broadcast relay. Must be called before any
// session registers.
func (r *Registry) SetRelay(relay BroadcastRelay) {
	r.relay = relay
}

// Register adds a freshly authenticated connection to the user index.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	sessions, ok := r.byUser[s.UserID()]
	if !ok {
		sessions = make(map[*Session]struct{})
		r.byUser[s.UserID()] = sessions
	}
	sessions[s] = struct{}{}
	total := len(r.byUser)
	r.mu.Unlock()

	r.presence.SetUserOnline(s.UserID())
	log.Printf("user %d connected (users online: %d)", s.UserID(), total)
}

// Deregister removes a connection entirely: all channel subscriptions and the
// user index entry. Called on disconnect.
func (r *Registry) Deregister(s *Session) {
	r.UnsubscribeAll(s)

	r.mu.Lock()
	if sessions, ok := r.byUser[s.UserID()]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(r.byUser, s.UserID())
		}
	}
	_, stillOnline := r.byUser[s.UserID()]
	r.mu.Unlock()

	if !stillOnline {
		r.presence.SetUserOffline(s.UserID())
	}
	log.Printf("user %d connection closed", s.UserID())
}

// Subscribe registers the session on a conversation channel after the
// authorization check. Returns whether any other participant is currently
// viewing the conversation, which drives auto-delivery on the client.
func (r *Registry) Subscribe(s *Session, conversationID uint) (bool, error) {
	exists, err := r.guard.Exists(conversationID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, service.ErrNotFound
	}

	member, err := r.guard.IsParticipant(conversationID, s.UserID())
	if err != nil {
		return false, err
	}
	if !member {
		return false, service.ErrForbidden
	}

	r.mu.Lock()
	subs, ok := r.channels[conversationID]
	if !ok {
		subs = make(map[*Session]struct{})
		r.channels[conversationID] = subs
	}
	firstForUser := !userSubscribed(subs, s.UserID())
	subs[s] = struct{}{}
	r.mu.Unlock()

	s.trackJoin(conversationID)
	r.presence.SetViewing(conversationID, s.UserID())

	peerViewing := r.anyOtherViewing(conversationID, s.UserID())

	if firstForUser {
		r.Publish(conversationID, Envelope{
			Type:    EventPresence,
			Payload: PresenceEvent{ConversationID: conversationID, UserID: s.UserID(), Viewing: true},
		}, s)
	}

	return peerViewing, nil
}

// Unsubscribe removes the session from one channel. The last connection of a
// user leaving emits a presence change to the remaining subscribers.
func (r *Registry) Unsubscribe(s *Session, conversationID uint) {
	r.mu.Lock()
	subs, ok := r.channels[conversationID]
	if ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(r.channels, conversationID)
		}
	}
	lastForUser := ok && !userSubscribed(subs, s.UserID())
	r.mu.Unlock()

	s.trackLeave(conversationID)

	if lastForUser {
		r.presence.ClearViewing(conversationID, s.UserID())
		r.Publish(conversationID, Envelope{
			Type:    EventPresence,
			Payload: PresenceEvent{ConversationID: conversationID, UserID: s.UserID(), Viewing: false},
		}, s)
	}
}

// UnsubscribeAll detaches the session from every channel it joined.
func (r *Registry) UnsubscribeAll(s *Session) {
	for _, conversationID := range s.joinedChannels() {
		r.Unsubscribe(s, conversationID)
	}
}

// Publish broadcasts an envelope to every subscriber of a conversation,
// excluding at most one origin session (typing events skip their sender).
// Failed writes are logged and skipped; the health checker reaps dead
// connections.
func (r *Registry) Publish(conversationID uint, env Envelope, exclude *Session) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.channels[conversationID]))
	for s := range r.channels[conversationID] {
		if s != exclude {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(env); err != nil {
			log.Printf("broadcast to user %d failed: %v", s.UserID(), err)
		}
	}

	if r.relay != nil {
		if data, err := json.Marshal(env); err == nil {
			if err := r.relay.Relay(conversationID, data); err != nil {
				log.Printf("relay publish for conversation %d failed: %v", conversationID, err)
			}
		}
	}
}

// PublishLocal re-broadcasts a payload that arrived from another gateway
// node. Never relayed again.
func (r *Registry) PublishLocal(conversationID uint, payload json.RawMessage) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.channels[conversationID]))
	for s := range r.channels[conversationID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(payload); err != nil {
			log.Printf("relayed broadcast to user %d failed: %v", s.UserID(), err)
		}
	}
}

// SendToUser delivers an envelope to every connection of one user,
// subscribed or not. Used for receipt updates pushed to message authors.
func (r *Registry) SendToUser(userID uint, env Envelope) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.byUser[userID]))
	for s := range r.byUser[userID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(env); err != nil {
			log.Printf("send to user %d failed: %v", userID, err)
		}
	}
}

// SubscribedUsers returns the distinct user ids currently subscribed to a
// conversation channel.
func (r *Registry) SubscribedUsers(conversationID uint) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[uint]struct{})
	out := make([]uint, 0, len(r.channels[conversationID]))
	for s := range r.channels[conversationID] {
		if _, ok := seen[s.UserID()]; !ok {
			seen[s.UserID()] = struct{}{}
			out = append(out, s.UserID())
		}
	}
	return out
}

// IsOnline checks for a registered connection on this node first, then asks
// the shared presence set so connections held by other gateway nodes count.
func (r *Registry) IsOnline(userID uint) bool {
	r.mu.RLock()
	_, ok := r.byUser[userID]
	r.mu.RUnlock()
	if ok {
		return true
	}
	return r.presence.IsUserOnline(userID)
}

func (r *Registry) anyOtherViewing(conversationID, userID uint) bool {
	// Cross-node state first; fall back to the local channel when Redis
	// is not configured.
	if viewing, err := r.presence.AnyOtherViewing(conversationID, userID); err == nil && viewing {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for s := range r.channels[conversationID] {
		if s.UserID() != userID {
			return true
		}
	}
	return false
}

func userSubscribed(subs map[*Session]struct{}, userID uint) bool {
	for s := range subs {
		if s.UserID() == userID {
			return true
		}
	}
	return false
}

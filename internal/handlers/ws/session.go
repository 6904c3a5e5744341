package ws

import (
	"sync"
	"time"
)

// TypingWindow is how long a typing indicator stays alive without another
// keystroke event before the session auto-emits Typing(false).
const TypingWindow = 2000 * time.Millisecond

// Conn is the write half of a connection as the session sees it. Both fiber's
// and gorilla's websocket connections satisfy it.
type Conn interface {
	WriteJSON(v interface{}) error
}

// Session is one authenticated real-time connection. It owns the typing
// debounce timers and the set of conversation channels the connection has
// joined. The author identity attached to outbound operations always comes
// from the session, never from a client payload.
type Session struct {
	conn     Conn
	userID   uint
	registry *Registry

	// writeMu serializes writes; fan-out from multiple channels may hit
	// the same connection concurrently.
	writeMu sync.Mutex

	mu           sync.Mutex
	joined       map[uint]struct{}
	typingTimers map[uint]*time.Timer
	typingWindow time.Duration
	closed       bool
}

func NewSession(conn Conn, userID uint, registry *Registry) *Session {
	return &Session{
		conn:         conn,
		userID:       userID,
		registry:     registry,
		joined:       make(map[uint]struct{}),
		typingTimers: make(map[uint]*time.Timer),
		typingWindow: TypingWindow,
	}
}

func (s *Session) UserID() uint {
	return s.userID
}

// Send writes a JSON value to the connection.
func (s *Session) Send(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Joined reports whether the session has subscribed to the conversation.
func (s *Session) Joined(conversationID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.joined[conversationID]
	return ok
}

func (s *Session) trackJoin(conversationID uint) {
	s.mu.Lock()
	s.joined[conversationID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) trackLeave(conversationID uint) {
	s.mu.Lock()
	delete(s.joined, conversationID)
	if timer, ok := s.typingTimers[conversationID]; ok {
		timer.Stop()
		delete(s.typingTimers, conversationID)
	}
	s.mu.Unlock()
}

func (s *Session) joinedChannels() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint, 0, len(s.joined))
	for id := range s.joined {
		out = append(out, id)
	}
	return out
}

// TouchTyping handles a typing signal from the client. Typing(true) (re)arms
// the debounce timer; if no further keystroke event arrives within the
// window, the session auto-emits Typing(false) so a crashed or stalled client
// cannot leave a stuck indicator. An explicit Typing(false) cancels the
// timer.
func (s *Session) TouchTyping(conversationID uint, isTyping bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if timer, ok := s.typingTimers[conversationID]; ok {
		timer.Stop()
		delete(s.typingTimers, conversationID)
	}
	if isTyping {
		s.typingTimers[conversationID] = time.AfterFunc(s.typingWindow, func() {
			s.expireTyping(conversationID)
		})
	}
	s.mu.Unlock()

	s.registry.Publish(conversationID, Envelope{
		Type:    EventTyping,
		Payload: TypingEvent{ConversationID: conversationID, UserID: s.userID, IsTyping: isTyping},
	}, s)
}

func (s *Session) expireTyping(conversationID uint) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.typingTimers, conversationID)
	s.mu.Unlock()

	s.registry.Publish(conversationID, Envelope{
		Type:    EventTyping,
		Payload: TypingEvent{ConversationID: conversationID, UserID: s.userID, IsTyping: false},
	}, s)
}

// Close stops all typing timers and marks the session dead. Channel cleanup
// happens in Registry.Deregister.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	for id, timer := range s.typingTimers {
		timer.Stop()
		delete(s.typingTimers, id)
	}
	s.mu.Unlock()
}

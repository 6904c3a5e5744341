package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/oakline/chatsync/internal/service"
)

// fakeConn records everything written to it.
type fakeConn struct {
	mu     sync.Mutex
	writes []interface{}
	failed bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return errors.New("connection closed")
	}
	c.writes = append(c.writes, v)
	return nil
}

func (c *fakeConn) envelopes(eventType string) []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Envelope
	for _, w := range c.writes {
		if env, ok := w.(Envelope); ok && env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// fakeGuard is a static membership table.
type fakeGuard struct {
	members map[uint][]uint
}

func (g *fakeGuard) Exists(conversationID uint) (bool, error) {
	_, ok := g.members[conversationID]
	return ok, nil
}

func (g *fakeGuard) IsParticipant(conversationID, userID uint) (bool, error) {
	for _, id := range g.members[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func newRegistryFixture() (*Registry, *fakeGuard) {
	guard := &fakeGuard{members: map[uint][]uint{1: {10, 20, 30}}}
	return NewRegistry(guard, nil), guard
}

func connect(r *Registry, userID uint) (*Session, *fakeConn) {
	conn := &fakeConn{}
	sess := NewSession(conn, userID, r)
	r.Register(sess)
	return sess, conn
}

func TestSubscribeAuthorization(t *testing.T) {
	r, _ := newRegistryFixture()
	sess, _ := connect(r, 99)

	if _, err := r.Subscribe(sess, 1); !errors.Is(err, service.ErrForbidden) {
		t.Errorf("Subscribe outsider error = %v, want ErrForbidden", err)
	}

	if _, err := r.Subscribe(sess, 42); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("Subscribe unknown conversation error = %v, want ErrNotFound", err)
	}

	member, _ := connect(r, 10)
	if _, err := r.Subscribe(member, 1); err != nil {
		t.Errorf("Subscribe member error = %v, want nil", err)
	}
	if !member.Joined(1) {
		t.Errorf("session should track the joined channel")
	}
}

func TestSubscribeReportsPeerViewing(t *testing.T) {
	r, _ := newRegistryFixture()

	a, _ := connect(r, 10)
	viewing, err := r.Subscribe(a, 1)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if viewing {
		t.Errorf("first subscriber should see no peer viewing")
	}

	b, _ := connect(r, 20)
	viewing, err = r.Subscribe(b, 1)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if !viewing {
		t.Errorf("second subscriber should see a peer viewing")
	}
}

func TestPublishExcludesOrigin(t *testing.T) {
	r, _ := newRegistryFixture()

	a, aConn := connect(r, 10)
	b, bConn := connect(r, 20)
	r.Subscribe(a, 1)
	r.Subscribe(b, 1)
	aBase := aConn.count()

	r.Publish(1, Envelope{Type: EventTyping, Payload: TypingEvent{ConversationID: 1, UserID: 10, IsTyping: true}}, a)

	if got := aConn.count() - aBase; got != 0 {
		t.Errorf("origin received %d writes, want 0", got)
	}
	if got := len(bConn.envelopes(EventTyping)); got != 1 {
		t.Errorf("peer received %d typing events, want 1", got)
	}
}

func TestPublishReachesAllWithoutExclusion(t *testing.T) {
	r, _ := newRegistryFixture()

	a, aConn := connect(r, 10)
	b, bConn := connect(r, 20)
	r.Subscribe(a, 1)
	r.Subscribe(b, 1)

	r.Publish(1, Envelope{Type: EventMessage}, nil)

	if len(aConn.envelopes(EventMessage)) != 1 || len(bConn.envelopes(EventMessage)) != 1 {
		t.Errorf("both subscribers should receive the broadcast")
	}
}

func TestUnsubscribeLastConnectionEmitsPresence(t *testing.T) {
	r, _ := newRegistryFixture()

	a, _ := connect(r, 10)
	a2, _ := connect(r, 10) // second connection of the same user
	b, bConn := connect(r, 20)
	r.Subscribe(a, 1)
	r.Subscribe(a2, 1)
	r.Subscribe(b, 1)
	base := len(bConn.envelopes(EventPresence))

	// First connection leaving: user 10 still subscribed via a2.
	r.Unsubscribe(a, 1)
	if got := len(bConn.envelopes(EventPresence)) - base; got != 0 {
		t.Errorf("presence emitted while user still has a subscribed connection")
	}

	// Last connection leaving fires exactly one presence change.
	r.Unsubscribe(a2, 1)
	events := bConn.envelopes(EventPresence)[base:]
	if len(events) != 1 {
		t.Fatalf("presence events = %d, want 1", len(events))
	}
	pe := events[0].Payload.(PresenceEvent)
	if pe.UserID != 10 || pe.Viewing {
		t.Errorf("presence event = %+v, want user 10 not viewing", pe)
	}
}

func TestDeregisterCleansAllChannels(t *testing.T) {
	r, _ := newRegistryFixture()

	guardTwo := r.guard.(*fakeGuard)
	guardTwo.members[2] = []uint{10, 20}

	a, _ := connect(r, 10)
	r.Subscribe(a, 1)
	r.Subscribe(a, 2)

	r.Deregister(a)

	if users := r.SubscribedUsers(1); len(users) != 0 {
		t.Errorf("conversation 1 still has subscribers: %v", users)
	}
	if users := r.SubscribedUsers(2); len(users) != 0 {
		t.Errorf("conversation 2 still has subscribers: %v", users)
	}
	if r.IsOnline(10) {
		t.Errorf("user should be offline after deregister")
	}
}

func TestSendToUserHitsEveryConnection(t *testing.T) {
	r, _ := newRegistryFixture()

	_, c1 := connect(r, 10)
	_, c2 := connect(r, 10)
	_, other := connect(r, 20)

	r.SendToUser(10, Envelope{Type: EventReceiptUpdate})

	if len(c1.envelopes(EventReceiptUpdate)) != 1 || len(c2.envelopes(EventReceiptUpdate)) != 1 {
		t.Errorf("both connections of the user should receive the push")
	}
	if len(other.envelopes(EventReceiptUpdate)) != 0 {
		t.Errorf("unrelated user received the push")
	}
}

// recordingRelay captures relayed payloads.
type recordingRelay struct {
	mu       sync.Mutex
	payloads []json.RawMessage
}

func (rr *recordingRelay) Relay(conversationID uint, payload []byte) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.payloads = append(rr.payloads, append([]byte(nil), payload...))
	return nil
}

func (rr *recordingRelay) count() int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return len(rr.payloads)
}

func TestPublishMirrorsToRelay(t *testing.T) {
	r, _ := newRegistryFixture()
	relay := &recordingRelay{}
	r.SetRelay(relay)

	a, _ := connect(r, 10)
	r.Subscribe(a, 1)

	r.Publish(1, Envelope{Type: EventMessage, Payload: NewMessageEvent{}}, nil)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	if len(relay.payloads) == 0 {
		t.Fatalf("publish was not mirrored to the relay")
	}
	var env SerializedMessage
	if err := json.Unmarshal(relay.payloads[len(relay.payloads)-1], &env); err != nil {
		t.Fatalf("relayed payload is not a valid envelope: %v", err)
	}
	if env.Type != EventMessage {
		t.Errorf("relayed envelope type = %q, want %q", env.Type, EventMessage)
	}
}

func TestPublishLocalDoesNotRelayAgain(t *testing.T) {
	r, _ := newRegistryFixture()
	relay := &recordingRelay{}
	r.SetRelay(relay)

	a, aConn := connect(r, 10)
	r.Subscribe(a, 1)
	// Subscribe publishes a presence envelope, which is itself mirrored;
	// only growth past this point would mean a feedback loop.
	base := relay.count()

	payload := json.RawMessage(`{"type":"message","payload":{}}`)
	r.PublishLocal(1, payload)

	if aConn.count() == 0 {
		t.Errorf("relayed payload should reach local subscribers")
	}
	if got := relay.count(); got != base {
		t.Errorf("relay grew from %d to %d payloads, PublishLocal must not feed the relay back", base, got)
	}
}

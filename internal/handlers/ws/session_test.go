package ws

import (
	"testing"
	"time"
)

func typingEvents(conn *fakeConn) []TypingEvent {
	var out []TypingEvent
	for _, env := range conn.envelopes(EventTyping) {
		out = append(out, env.Payload.(TypingEvent))
	}
	return out
}

func waitForTypingEvents(t *testing.T, conn *fakeConn, want int) []TypingEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := typingEvents(conn); len(events) >= want {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d typing events, got %d", want, len(typingEvents(conn)))
	return nil
}

func TestTypingDebounceAutoStop(t *testing.T) {
	r, _ := newRegistryFixture()

	a, _ := connect(r, 10)
	b, bConn := connect(r, 20)
	r.Subscribe(a, 1)
	r.Subscribe(b, 1)

	a.typingWindow = 30 * time.Millisecond
	a.TouchTyping(1, true)

	// No further keystroke: the session must auto-emit exactly one stop.
	events := waitForTypingEvents(t, bConn, 2)
	if len(events) != 2 {
		t.Fatalf("typing events = %d, want 2", len(events))
	}
	if !events[0].IsTyping || events[1].IsTyping {
		t.Errorf("events = %+v, want one true then one false", events)
	}

	// And nothing further after the window has passed again.
	time.Sleep(60 * time.Millisecond)
	if got := typingEvents(bConn); len(got) != 2 {
		t.Errorf("stuck or duplicate typing events: %+v", got)
	}
}

func TestTypingKeystrokesExtendTheWindow(t *testing.T) {
	r, _ := newRegistryFixture()

	a, _ := connect(r, 10)
	b, bConn := connect(r, 20)
	r.Subscribe(a, 1)
	r.Subscribe(b, 1)

	a.typingWindow = 150 * time.Millisecond
	a.TouchTyping(1, true)
	time.Sleep(80 * time.Millisecond)
	a.TouchTyping(1, true) // keystroke re-arms the timer
	time.Sleep(90 * time.Millisecond)

	// Past the original window now, but the keystroke re-armed the timer:
	// only the two explicit trues so far, no auto-stop yet.
	events := typingEvents(bConn)
	for _, ev := range events {
		if !ev.IsTyping {
			t.Fatalf("auto-stop fired despite keystrokes: %+v", events)
		}
	}

	events = waitForTypingEvents(t, bConn, 3)
	if events[len(events)-1].IsTyping {
		t.Errorf("final event should be the auto-stop, got %+v", events)
	}
}

func TestExplicitStopCancelsTimer(t *testing.T) {
	r, _ := newRegistryFixture()

	a, _ := connect(r, 10)
	b, bConn := connect(r, 20)
	r.Subscribe(a, 1)
	r.Subscribe(b, 1)

	a.typingWindow = 30 * time.Millisecond
	a.TouchTyping(1, true)
	a.TouchTyping(1, false)

	time.Sleep(60 * time.Millisecond)

	events := typingEvents(bConn)
	if len(events) != 2 {
		t.Fatalf("typing events = %d, want exactly true then false", len(events))
	}
	if !events[0].IsTyping || events[1].IsTyping {
		t.Errorf("events = %+v, want one true then one false", events)
	}
}

func TestCloseStopsTypingTimer(t *testing.T) {
	r, _ := newRegistryFixture()

	a, _ := connect(r, 10)
	b, bConn := connect(r, 20)
	r.Subscribe(a, 1)
	r.Subscribe(b, 1)

	a.typingWindow = 20 * time.Millisecond
	a.TouchTyping(1, true)
	a.Close()
	r.Deregister(a)

	time.Sleep(50 * time.Millisecond)

	// The disconnect already removed the session from the channel; the
	// timer must not fire into it afterwards.
	events := typingEvents(bConn)
	if len(events) != 1 {
		t.Errorf("typing events after close = %+v, want only the initial true", events)
	}
}

func TestLeaveClearsTypingTimer(t *testing.T) {
	r, _ := newRegistryFixture()

	a, _ := connect(r, 10)
	b, bConn := connect(r, 20)
	r.Subscribe(a, 1)
	r.Subscribe(b, 1)

	a.typingWindow = 20 * time.Millisecond
	a.TouchTyping(1, true)
	r.Unsubscribe(a, 1)

	time.Sleep(50 * time.Millisecond)

	for _, ev := range typingEvents(bConn) {
		if !ev.IsTyping {
			t.Errorf("auto-stop fired after the session left the channel")
		}
	}
}

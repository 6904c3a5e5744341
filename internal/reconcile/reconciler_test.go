package reconcile

import (
	"reflect"
	"testing"
	"time"

	"github.com/oakline/chatsync/internal/models"
)

const (
	selfID = uint(10)
	peerID = uint(20)
	convID = uint(1)
)

func ts(sec int) *time.Time {
	t := time.Date(2025, 3, 1, 12, 0, sec, 0, time.UTC)
	return &t
}

func durableMsg(id uint, clientID string, authorID uint, sec int) models.MessageResponse {
	return models.MessageResponse{
		ID:             id,
		ClientID:       clientID,
		ConversationID: convID,
		AuthorID:       authorID,
		Content:        "m",
		Category:       models.UserMessage,
		SentAt:         ts(sec),
	}
}

func newFixture() *Reconciler {
	r := NewReconciler(selfID)
	r.SetParticipants(convID, []uint{selfID, peerID})
	return r
}

func ids(entries []Entry) []uint {
	out := make([]uint, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestOptimisticSendLifecycle(t *testing.T) {
	r := newFixture()

	r.StartSend(convID, "tmp-1", "hi")

	msgs := r.Messages(convID)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Status != models.StatusSending || msgs[0].ID != 0 {
		t.Errorf("optimistic entry = %+v, want Sending without id", msgs[0])
	}

	r.AckSend(convID, durableMsg(100, "tmp-1", selfID, 1))

	msgs = r.Messages(convID)
	if len(msgs) != 1 {
		t.Fatalf("messages after ack = %d, want 1", len(msgs))
	}
	if msgs[0].ID != 100 || msgs[0].Status != models.StatusSent {
		t.Errorf("acked entry = %+v, want id 100 with status Sent", msgs[0])
	}
}

func TestAckEchoRaceLeavesSingleEntry(t *testing.T) {
	// The self-echo broadcast and the chat ack race; in either order the
	// list must end with exactly one durable entry.
	orders := map[string]func(r *Reconciler){
		"ack first": func(r *Reconciler) {
			r.AckSend(convID, durableMsg(100, "tmp-1", selfID, 1))
			r.ApplyPush(convID, durableMsg(100, "tmp-1", selfID, 1))
		},
		"echo first": func(r *Reconciler) {
			r.ApplyPush(convID, durableMsg(100, "tmp-1", selfID, 1))
			r.AckSend(convID, durableMsg(100, "tmp-1", selfID, 1))
		},
	}

	for name, run := range orders {
		t.Run(name, func(t *testing.T) {
			r := newFixture()
			r.StartSend(convID, "tmp-1", "hi")
			run(r)

			msgs := r.Messages(convID)
			if len(msgs) != 1 {
				t.Fatalf("messages = %d, want exactly 1", len(msgs))
			}
			if msgs[0].ID != 100 {
				t.Errorf("entry id = %d, want the durable 100", msgs[0].ID)
			}
		})
	}
}

func TestFailAndRetry(t *testing.T) {
	r := newFixture()
	r.StartSend(convID, "tmp-1", "hi")

	r.FailSend(convID, "tmp-1")
	if got := r.Messages(convID)[0].Status; got != models.StatusFailed {
		t.Errorf("status after timeout = %q, want %q", got, models.StatusFailed)
	}

	if !r.RetrySend(convID, "tmp-1") {
		t.Fatalf("retry of a failed entry should be possible")
	}
	if got := r.Messages(convID)[0].Status; got != models.StatusSending {
		t.Errorf("status after retry = %q, want %q", got, models.StatusSending)
	}

	// A late ack after the failure still promotes the same entry.
	r.AckSend(convID, durableMsg(100, "tmp-1", selfID, 1))
	msgs := r.Messages(convID)
	if len(msgs) != 1 || msgs[0].ID != 100 {
		t.Errorf("messages after late ack = %+v, want single durable entry", msgs)
	}
}

func TestFailAfterAckIsIgnored(t *testing.T) {
	r := newFixture()
	r.StartSend(convID, "tmp-1", "hi")
	r.AckSend(convID, durableMsg(100, "tmp-1", selfID, 1))

	// The timeout fires late, after the ack landed.
	r.FailSend(convID, "tmp-1")
	if got := r.Messages(convID)[0].Status; got == models.StatusFailed {
		t.Errorf("late timeout must not fail an acked message")
	}
}

func TestHistoryPageAppendsToTail(t *testing.T) {
	r := newFixture()

	// Live messages already rendered.
	r.ApplyPush(convID, durableMsg(103, "c-103", peerID, 30))
	r.ApplyPush(convID, durableMsg(104, "c-104", peerID, 40))

	token := r.BeginHistoryFetch(convID)
	applied := r.ApplyHistoryPage(convID, token, []models.MessageResponse{
		durableMsg(102, "c-102", peerID, 20),
		durableMsg(101, "c-101", peerID, 10),
	}, 2)
	if !applied {
		t.Fatalf("page with a fresh token should be applied")
	}

	got := ids(r.Messages(convID))
	want := []uint{104, 103, 102, 101}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if !r.HasMore(convID) {
		t.Errorf("full page should set the has-more flag")
	}

	// Short page: history exhausted.
	token = r.BeginHistoryFetch(convID)
	r.ApplyHistoryPage(convID, token, []models.MessageResponse{
		durableMsg(100, "c-100", peerID, 5),
	}, 2)
	if r.HasMore(convID) {
		t.Errorf("short page should clear the has-more flag")
	}
}

func TestHistoryPageNeverDuplicatesOrReorders(t *testing.T) {
	r := newFixture()
	r.ApplyPush(convID, durableMsg(102, "c-102", peerID, 20))
	r.ApplyPush(convID, durableMsg(103, "c-103", peerID, 30))
	before := ids(r.Messages(convID))

	// Overlapping page re-delivers an already-present message.
	token := r.BeginHistoryFetch(convID)
	r.ApplyHistoryPage(convID, token, []models.MessageResponse{
		durableMsg(102, "c-102", peerID, 20),
		durableMsg(101, "c-101", peerID, 10),
	}, 2)

	got := ids(r.Messages(convID))
	if !reflect.DeepEqual(got[:2], before) {
		t.Errorf("existing prefix disturbed: %v, want prefix %v", got, before)
	}
	want := []uint{103, 102, 101}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestStaleHistoryPageDiscarded(t *testing.T) {
	r := newFixture()

	token := r.BeginHistoryFetch(convID)
	r.Close(convID) // switch away invalidates the fetch

	applied := r.ApplyHistoryPage(convID, token, []models.MessageResponse{
		durableMsg(101, "c-101", peerID, 10),
	}, 1)
	if applied {
		t.Errorf("stale page should have been discarded")
	}
	if len(r.Messages(convID)) != 0 {
		t.Errorf("discarded page must not mutate the list")
	}
}

func TestReceiptUpdateIdempotent(t *testing.T) {
	r := newFixture()
	r.StartSend(convID, "tmp-1", "hi")
	r.AckSend(convID, durableMsg(100, "tmp-1", selfID, 1))

	update := models.ReceiptUpdate{
		ConversationID: convID,
		MessageID:      100,
		RecipientID:    peerID,
		DeliveredAt:    ts(2),
	}

	r.ApplyReceipt(convID, update)
	after1 := r.Messages(convID)
	r.ApplyReceipt(convID, update)
	after2 := r.Messages(convID)

	if !reflect.DeepEqual(after1, after2) {
		t.Errorf("replaying the same receipt changed state: %+v vs %+v", after1, after2)
	}
	if after2[0].Status != models.StatusDelivered {
		t.Errorf("status = %q, want %q", after2[0].Status, models.StatusDelivered)
	}
}

func TestReceiptProgressionToRead(t *testing.T) {
	r := newFixture()
	r.StartSend(convID, "tmp-1", "hi")
	r.AckSend(convID, durableMsg(100, "tmp-1", selfID, 1))

	if got := r.Messages(convID)[0].Status; got != models.StatusSent {
		t.Fatalf("status before receipts = %q, want %q", got, models.StatusSent)
	}

	r.ApplyReceipt(convID, models.ReceiptUpdate{MessageID: 100, RecipientID: peerID, DeliveredAt: ts(2)})
	if got := r.Messages(convID)[0].Status; got != models.StatusDelivered {
		t.Fatalf("status after delivery = %q, want %q", got, models.StatusDelivered)
	}

	r.ApplyReceipt(convID, models.ReceiptUpdate{MessageID: 100, RecipientID: peerID, DeliveredAt: ts(2), ReadAt: ts(3)})
	if got := r.Messages(convID)[0].Status; got != models.StatusDeliveredRead {
		t.Fatalf("status after read = %q, want %q", got, models.StatusDeliveredRead)
	}

	// A late delivery replay with an earlier timestamp must not demote.
	r.ApplyReceipt(convID, models.ReceiptUpdate{MessageID: 100, RecipientID: peerID, DeliveredAt: ts(1)})
	if got := r.Messages(convID)[0].Status; got != models.StatusDeliveredRead {
		t.Errorf("status after replay = %q, want %q", got, models.StatusDeliveredRead)
	}
}

func TestAutoReadOnVisibleConversation(t *testing.T) {
	r := newFixture()
	r.Open(convID)

	r.ApplyPush(convID, durableMsg(200, "c-200", peerID, 1))
	r.ApplyPush(convID, durableMsg(201, "c-201", selfID, 2)) // own message: no receipt

	out := r.DrainOutbox()
	if len(out) != 1 {
		t.Fatalf("outbox = %v, want one read receipt", out)
	}
	if out[0].MessageID != 200 || out[0].ConversationID != convID {
		t.Errorf("read receipt = %+v, want message 200", out[0])
	}

	// Replays of the same push never duplicate the receipt.
	r.ApplyPush(convID, durableMsg(200, "c-200", peerID, 1))
	if out := r.DrainOutbox(); len(out) != 0 {
		t.Errorf("duplicate push queued receipts: %v", out)
	}
}

func TestAutoReadSkippedWhileHidden(t *testing.T) {
	r := newFixture()

	r.ApplyPush(convID, durableMsg(200, "c-200", peerID, 1))
	if out := r.DrainOutbox(); len(out) != 0 {
		t.Fatalf("hidden conversation queued receipts: %v", out)
	}

	// Opening the conversation reads the backlog.
	r.Open(convID)
	out := r.DrainOutbox()
	if len(out) != 1 || out[0].MessageID != 200 {
		t.Errorf("outbox after open = %v, want message 200", out)
	}
}

func TestTypingFlagsAreEphemeral(t *testing.T) {
	r := newFixture()

	r.SetTyping(convID, peerID, true)
	if got := r.TypingUsers(convID); len(got) != 1 || got[0] != peerID {
		t.Errorf("typing users = %v, want [%d]", got, peerID)
	}
	if len(r.Messages(convID)) != 0 {
		t.Errorf("typing must not create message entries")
	}

	r.SetTyping(convID, peerID, false)
	if got := r.TypingUsers(convID); len(got) != 0 {
		t.Errorf("typing users after stop = %v, want empty", got)
	}
}

func TestPendingSendsForReconnect(t *testing.T) {
	r := newFixture()
	r.StartSend(convID, "tmp-1", "first")
	r.StartSend(convID, "tmp-2", "second")
	r.FailSend(convID, "tmp-1")
	r.AckSend(convID, durableMsg(100, "tmp-2", selfID, 1))

	pending := r.PendingSends(convID)
	if len(pending) != 1 || pending[0].ClientID != "tmp-1" {
		t.Errorf("pending = %+v, want only tmp-1", pending)
	}

	convs := r.Conversations()
	if len(convs) != 1 || convs[0] != convID {
		t.Errorf("conversations = %v, want [%d]", convs, convID)
	}
}

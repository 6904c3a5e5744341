// Package reconcile maintains the client-side view of each open
// conversation: one ordered message list per conversation, each message
// carrying a derived delivery status. Three independent input streams feed
// it: paged history fetches, optimistic local sends with their acks, and
// asynchronous push events. Arrival order across the streams is not
// guaranteed; the reducer's dedup and replace-in-place rules keep the list
// free of duplicates and orphans regardless.
package reconcile

import (
	"sync"
	"time"

	"github.com/oakline/chatsync/internal/models"
)

// Entry is one message in the rendered list. Identified by ID once durable,
// by ClientID before that.
type Entry struct {
	ID             uint
	ClientID       string
	ConversationID uint
	AuthorID       uint
	Content        string
	Category       models.MessageCategory
	SentAt         *time.Time
	Status         models.DeliveryStatus

	receipts map[uint]models.ReceiptRecord
	readSent bool
}

func (e *Entry) durable() bool {
	return e.ID != 0
}

// ReadReceipt is an outbound read notification produced by the auto-read
// policy. The transport drains these after the list mutation is committed,
// never during it.
type ReadReceipt struct {
	ConversationID uint
	MessageID      uint
}

type conversation struct {
	id           uint
	entries      []*Entry // newest first
	byID         map[uint]*Entry
	byClientID   map[string]*Entry
	participants []uint
	hasMore      bool
	typing       map[uint]bool
	fetchToken   uint64
}

func newConversation(id uint) *conversation {
	return &conversation{
		id:         id,
		byID:       make(map[uint]*Entry),
		byClientID: make(map[string]*Entry),
		typing:     make(map[uint]bool),
	}
}

// Reconciler is the single source of truth for the ordered message lists of
// all conversations this client has joined. All mutations happen on the UI's
// single logical thread; the mutex only guards against a misbehaving caller.
type Reconciler struct {
	mu     sync.Mutex
	selfID uint
	convs  map[uint]*conversation
	openID uint
	outbox []ReadReceipt
}

func NewReconciler(selfID uint) *Reconciler {
	return &Reconciler{
		selfID: selfID,
		convs:  make(map[uint]*conversation),
	}
}

func (r *Reconciler) conv(conversationID uint) *conversation {
	c, ok := r.convs[conversationID]
	if !ok {
		c = newConversation(conversationID)
		r.convs[conversationID] = c
	}
	return c
}

// SetParticipants records the member set used for status aggregation.
// Typically fed from the join ack or the conversation listing.
func (r *Reconciler) SetParticipants(conversationID uint, ids []uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	c.participants = append([]uint(nil), ids...)
	for _, e := range c.entries {
		r.recompute(c, e)
	}
}

// Open marks a conversation as the actively visible one. Every durable
// foreign message not yet read gets a read receipt queued.
func (r *Reconciler) Open(conversationID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openID = conversationID
	c := r.conv(conversationID)
	for _, e := range c.entries {
		r.maybeAutoRead(c, e)
	}
}

// Close leaves a conversation. Any in-flight history fetch for it becomes
// stale, and the typing flags are dropped.
func (r *Reconciler) Close(conversationID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openID == conversationID {
		r.openID = 0
	}
	c := r.conv(conversationID)
	c.fetchToken++ // invalidate in-flight fetches
	c.typing = make(map[uint]bool)
}

// BeginHistoryFetch registers a new history request and returns its token.
// A page applied with a stale token is discarded, which is how a response
// racing a conversation switch gets dropped.
func (r *Reconciler) BeginHistoryFetch(conversationID uint) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	c.fetchToken++
	return c.fetchToken
}

// ApplyHistoryPage merges a newest-first page of older messages. Entries
// already present by id keep their position and state; the rest append to
// the tail. Returns false when the page was stale and discarded.
func (r *Reconciler) ApplyHistoryPage(conversationID uint, token uint64, page []models.MessageResponse, pageSize int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	if token != c.fetchToken {
		return false
	}

	for i := range page {
		msg := &page[i]
		if _, ok := c.byID[msg.ID]; ok {
			continue
		}
		// A page can also race our own optimistic send's echo.
		if e, ok := c.byClientID[msg.ClientID]; ok && msg.AuthorID == r.selfID {
			r.promote(c, e, msg)
			continue
		}
		e := entryFromMessage(msg)
		c.entries = append(c.entries, e)
		r.index(c, e)
		r.recompute(c, e)
		r.maybeAutoRead(c, e)
	}

	c.hasMore = len(page) == pageSize
	return true
}

// StartSend inserts an optimistic entry at the head with status Sending.
func (r *Reconciler) StartSend(conversationID uint, clientID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	if _, ok := c.byClientID[clientID]; ok {
		return // duplicate submit of the same temporary id
	}
	e := &Entry{
		ClientID:       clientID,
		ConversationID: conversationID,
		AuthorID:       r.selfID,
		Content:        content,
		Category:       models.UserMessage,
		Status:         models.StatusSending,
		receipts:       make(map[uint]models.ReceiptRecord),
	}
	c.entries = append([]*Entry{e}, c.entries...)
	c.byClientID[clientID] = e
}

// AckSend swaps the optimistic entry for the durable message in place. When
// the broadcast self-echo won the race, the entry is already durable and the
// ack is a no-op.
func (r *Reconciler) AckSend(conversationID uint, msg models.MessageResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	if e, ok := c.byClientID[msg.ClientID]; ok {
		r.promote(c, e, &msg)
		return
	}
	if _, ok := c.byID[msg.ID]; ok {
		return
	}
	// Ack without a local optimistic entry (e.g. a retry after restart):
	// treat it like a push.
	e := entryFromMessage(&msg)
	c.entries = append([]*Entry{e}, c.entries...)
	r.index(c, e)
	r.recompute(c, e)
}

// FailSend marks an unacknowledged optimistic entry Failed. The entry stays
// in the list for a manual retry. An entry the ack already promoted is left
// alone.
func (r *Reconciler) FailSend(conversationID uint, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	e, ok := c.byClientID[clientID]
	if !ok || e.durable() {
		return
	}
	e.Status = models.StatusFailed
}

// RetrySend flips a Failed entry back to Sending, keeping the same temporary
// id so the server-side dedup makes the retry idempotent. Returns false if
// there is nothing to retry.
func (r *Reconciler) RetrySend(conversationID uint, clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	e, ok := c.byClientID[clientID]
	if !ok || e.durable() || e.Status != models.StatusFailed {
		return false
	}
	e.Status = models.StatusSending
	return true
}

// ApplyPush merges an asynchronous NewMessage event. Our own echo replaces
// the optimistic entry in place; anything already present by id is dropped;
// the rest insert at the head.
func (r *Reconciler) ApplyPush(conversationID uint, msg models.MessageResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	if e, ok := c.byClientID[msg.ClientID]; ok && msg.AuthorID == r.selfID {
		r.promote(c, e, &msg)
		return
	}
	if _, ok := c.byID[msg.ID]; ok {
		return
	}
	e := entryFromMessage(&msg)
	c.entries = append([]*Entry{e}, c.entries...)
	r.index(c, e)
	r.recompute(c, e)
	r.maybeAutoRead(c, e)
}

// ApplyReceipt merges one recipient's receipt change and recomputes the
// message's status in place. Receipt merging is monotonic, so replaying the
// same event is a no-op.
func (r *Reconciler) ApplyReceipt(conversationID uint, update models.ReceiptUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	e, ok := c.byID[update.MessageID]
	if !ok {
		return
	}
	rec := e.receipts[update.RecipientID]
	rec.MessageID = update.MessageID
	rec.RecipientID = update.RecipientID
	rec.DeliveredAt = earlier(rec.DeliveredAt, update.DeliveredAt)
	rec.ReadAt = earlier(rec.ReadAt, update.ReadAt)
	if rec.ReadAt != nil && rec.DeliveredAt == nil {
		rec.DeliveredAt = rec.ReadAt
	}
	e.receipts[update.RecipientID] = rec
	r.recompute(c, e)
}

// SetTyping records an ephemeral typing flag. Not part of the message list.
func (r *Reconciler) SetTyping(conversationID, userID uint, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	if isTyping {
		c.typing[userID] = true
	} else {
		delete(c.typing, userID)
	}
}

// TypingUsers returns the ids currently flagged as typing.
func (r *Reconciler) TypingUsers(conversationID uint) []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	out := make([]uint, 0, len(c.typing))
	for id := range c.typing {
		out = append(out, id)
	}
	return out
}

// Messages returns a snapshot of the list, newest first.
func (r *Reconciler) Messages(conversationID uint) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = *e
		out[i].receipts = nil
	}
	return out
}

// HasMore reports whether older history pages remain.
func (r *Reconciler) HasMore(conversationID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conv(conversationID).hasMore
}

// PendingSends returns entries still awaiting an ack (Sending or Failed),
// oldest first. After a reconnect the client re-joins its channels and then
// retries these.
func (r *Reconciler) PendingSends(conversationID uint) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.conv(conversationID)
	var out []Entry
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if !e.durable() {
			snap := *e
			snap.receipts = nil
			out = append(out, snap)
		}
	}
	return out
}

// Conversations lists every conversation the reconciler tracks, for
// re-subscription after a reconnect.
func (r *Reconciler) Conversations() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint, 0, len(r.convs))
	for id := range r.convs {
		out = append(out, id)
	}
	return out
}

// DrainOutbox hands the queued read receipts to the transport and clears
// them.
func (r *Reconciler) DrainOutbox() []ReadReceipt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.outbox
	r.outbox = nil
	return out
}

// promote turns an optimistic entry durable in place: same list position,
// the temporary key swapped for the durable id atomically, so no duplicate
// or orphan can result from the ack/echo race.
func (r *Reconciler) promote(c *conversation, e *Entry, msg *models.MessageResponse) {
	if e.durable() {
		return
	}
	e.ID = msg.ID
	e.SentAt = msg.SentAt
	e.Content = msg.Content
	e.Category = msg.Category
	c.byID[e.ID] = e
	r.recompute(c, e)
}

func (r *Reconciler) index(c *conversation, e *Entry) {
	if e.ID != 0 {
		c.byID[e.ID] = e
	}
	if e.ClientID != "" {
		c.byClientID[e.ClientID] = e
	}
}

func (r *Reconciler) recompute(c *conversation, e *Entry) {
	if !e.durable() {
		// Sending or Failed; receipts cannot change that.
		return
	}
	msg := &models.Message{
		ID:             e.ID,
		ClientID:       e.ClientID,
		ConversationID: e.ConversationID,
		AuthorID:       e.AuthorID,
		Category:       e.Category,
		SentAt:         e.SentAt,
	}
	e.Status = models.ResolveDeliveryStatus(msg, e.receipts, c.participants)
}

// maybeAutoRead queues a read receipt for a durable foreign message while
// its conversation is the visible one. readSent dedupes the policy across
// Open and the append paths.
func (r *Reconciler) maybeAutoRead(c *conversation, e *Entry) {
	if r.openID != c.id || e.readSent || !e.durable() {
		return
	}
	if e.AuthorID == r.selfID || e.Category == models.SystemMessage {
		return
	}
	e.readSent = true
	r.outbox = append(r.outbox, ReadReceipt{ConversationID: c.id, MessageID: e.ID})
}

func entryFromMessage(msg *models.MessageResponse) *Entry {
	return &Entry{
		ID:             msg.ID,
		ClientID:       msg.ClientID,
		ConversationID: msg.ConversationID,
		AuthorID:       msg.AuthorID,
		Content:        msg.Content,
		Category:       msg.Category,
		SentAt:         msg.SentAt,
		Status:         models.StatusSent,
		receipts:       make(map[uint]models.ReceiptRecord),
	}
}

func earlier(current, incoming *time.Time) *time.Time {
	if incoming == nil {
		return current
	}
	if current == nil || incoming.Before(*current) {
		return incoming
	}
	return current
}

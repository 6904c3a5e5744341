package models

// ResolveDeliveryStatus derives the aggregate delivery status of a message
// from its receipt set. This is the single canonical algorithm; both server
// push and client reconciliation go through it.
//
// The order is strict and total:
//  1. No SentAt (client id only) -> Sending.
//  2. Author excluded from recipients; nobody left to deliver to -> Sent.
//  3. Every recipient read -> DeliveredRead.
//  4. Every recipient delivered (read counts) -> Delivered.
//  5. Otherwise -> Sent: persisted but not yet at every recipient.
//
// A recipient with no receipt row counts as neither delivered nor read.
// StatusFailed is never returned here; it is a client-only transient state
// set on ack timeout and overwritten by any resolved status.
func ResolveDeliveryStatus(msg *Message, receipts map[uint]ReceiptRecord, participantIDs []uint) DeliveryStatus {
	if !msg.Durable() {
		return StatusSending
	}

	recipients := RecipientsOf(participantIDs, msg.AuthorID)
	if len(recipients) == 0 {
		return StatusSent
	}

	allRead := true
	allDelivered := true
	for _, id := range recipients {
		rec, ok := receipts[id]
		if !ok {
			return StatusSent
		}
		if !rec.Read() {
			allRead = false
		}
		if !rec.Delivered() {
			allDelivered = false
		}
	}

	if allRead {
		return StatusDeliveredRead
	}
	if allDelivered {
		return StatusDelivered
	}
	return StatusSent
}

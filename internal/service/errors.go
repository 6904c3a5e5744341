package service

import "errors"

var (
	// ErrNotFound means the conversation or message id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the user is not a participant of the conversation.
	ErrForbidden = errors.New("not a participant")
	// ErrInvalidContent means the message payload failed validation.
	ErrInvalidContent = errors.New("invalid message content")
	// ErrInvalidClientID means the optimistic-send temporary id is unusable.
	ErrInvalidClientID = errors.New("invalid client id")
	// ErrPersistence wraps storage failures. Receipt writes behind it are
	// idempotent and safe to retry; message creation is surfaced to the
	// client as a send failure instead.
	ErrPersistence = errors.New("persistence failure")
)

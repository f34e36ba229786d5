package service

import "errors"

var (
	ErrNoSession           = errors.New("no active session")
	ErrUnknownConversation = errors.New("conversation not found")
	ErrNotMember           = errors.New("no longer a member of this group")
	ErrInvalidContent      = errors.New("invalid message content")
	ErrInvalidCredentials  = errors.New("invalid login input")
	ErrTemporaryMessage    = errors.New("message has not been acknowledged yet")
	ErrEngineStopped       = errors.New("engine stopped")
)

// SessionExpiredReason is shown when the refresh contract fails.
const SessionExpiredReason = "Your session has expired. Please log in again."

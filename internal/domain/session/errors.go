package session

import "errors"

var (
	ErrNotFound         = errors.New("session not found")
	ErrUnknownProfile   = errors.New("unknown shell profile")
	ErrTooManySessions  = errors.New("session limit reached")
	ErrManagerClosed    = errors.New("session manager closed")
	ErrProfileUnhealthy = errors.New("shell profile is failing to start")
)

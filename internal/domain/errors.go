package domain

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionBusy      = errors.New("session has a turn in progress")
	ErrInvalidInput     = errors.New("invalid input")
	ErrToolCallNotFound = errors.New("tool call not found")
	ErrUnauthorized     = errors.New("unauthorized")
)

package session

import "errors"

var (
	ErrSessionEnded   = errors.New("session has ended")
	ErrClientClosed   = errors.New("comm client is closed")
	ErrDuplicateComm  = errors.New("comm id already in use")
	ErrSessionUnknown = errors.New("session not found")
)

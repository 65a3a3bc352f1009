package gattserver

import "errors"

var (
	ErrAttributeNotFound = errors.New("attribute not found")
	ErrInvalidValue      = errors.New("invalid attribute value")
	ErrInvalidOffset     = errors.New("invalid offset")
	ErrPreparedWrite     = errors.New("prepared writes not supported")
	ErrNotRunning        = errors.New("gatt server not running")
	ErrAlreadyStarted    = errors.New("gatt server already started")
	ErrUnsupportedKind   = errors.New("unsupported reading kind")
	ErrStartAborted      = errors.New("gatt server stopped during start")
	ErrNotSubscribed     = errors.New("device not subscribed")
)

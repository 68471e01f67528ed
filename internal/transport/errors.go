package transport

import "github.com/openportal/mesh/internal/grammar"

var (
	errLinkClosed = grammar.New(grammar.KindInvalidState, "link is closed")
	errQueueFull  = grammar.New(grammar.KindLocked, "outgoing queue is full")
)

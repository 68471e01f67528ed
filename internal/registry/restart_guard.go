package registry

import "sync/atomic"

// RestartGuard is a process-wide flag: while held, all new inbound
// connections are rejected (spec.md §4.2). Acquire returns a release
// function; releasing twice is a no-op. Modelled as a capability value
// rather than a hidden package global so it can be handed to the transport
// server explicitly and reset between tests.
type RestartGuard struct {
	held atomic.Bool
}

func NewRestartGuard() *RestartGuard { return &RestartGuard{} }

// Acquire sets the guard and returns a function that releases it. Calling
// Acquire while already held is a programming error in this mesh (only one
// soft restart runs at a time) and returns false.
func (g *RestartGuard) Acquire() (release func(), ok bool) {
	if !g.held.CompareAndSwap(false, true) {
		return func() {}, false
	}
	return func() { g.held.Store(false) }, true
}

// Held reports whether a soft restart is currently in progress.
func (g *RestartGuard) Held() bool { return g.held.Load() }

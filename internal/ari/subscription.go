package ari

import (
	"sync/atomic"

	"github.com/CyCoreSystems/ari/v6"
)

// subscription forwards events from an ARI subscription to a callback until
// cancelled. Cancellation is observed before each delivery, so a callback
// never fires after Cancel returns even if an event was already buffered.
type subscription struct {
	sub       ari.Subscription
	cancelled atomic.Bool
}

func forward(sub ari.Subscription, fn func(ari.Event)) *subscription {
	s := &subscription{sub: sub}
	go func() {
		for e := range sub.Events() {
			if s.cancelled.Load() {
				return
			}
			fn(e)
		}
	}()
	return s
}

func (s *subscription) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.sub.Cancel()
	}
}

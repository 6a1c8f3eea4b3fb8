package ari

import (
	"github.com/CyCoreSystems/ari/v6"

	"github.com/sharedline/slad/internal/sla"
)

// channelHandle implements sla.ChannelHandle over an ARI channel.
type channelHandle struct {
	h *ari.ChannelHandle

	// name and caller id come from the StasisStart event for inbound
	// channels. Originated channels have no event data yet; Name falls
	// back to a channel data fetch.
	name         string
	callerName   string
	callerNumber string
}

func newChannelHandle(h *ari.ChannelHandle, data *ari.ChannelData) *channelHandle {
	ch := &channelHandle{h: h}
	if data != nil {
		ch.name = data.Name
		ch.callerName = data.Caller.Name
		ch.callerNumber = data.Caller.Number
	}
	return ch
}

func (c *channelHandle) ID() string {
	return c.h.ID()
}

func (c *channelHandle) Name() string {
	if c.name != "" {
		return c.name
	}
	data, err := c.h.Data()
	if err != nil || data == nil {
		return c.h.ID()
	}
	c.name = data.Name
	c.callerName = data.Caller.Name
	c.callerNumber = data.Caller.Number
	return c.name
}

func (c *channelHandle) CallerName() string {
	return c.callerName
}

func (c *channelHandle) CallerNumber() string {
	return c.callerNumber
}

func (c *channelHandle) Answer() error {
	return c.h.Answer()
}

func (c *channelHandle) Hangup() error {
	return c.h.Hangup()
}

func (c *channelHandle) ContinueInDialplan() error {
	return c.h.Continue("", "", 0)
}

func (c *channelHandle) OnAnswerable(fn func()) sla.Subscription {
	return forward(c.h.Subscribe(ari.Events.StasisStart), func(ari.Event) {
		fn()
	})
}

func (c *channelHandle) OnDestroyed(fn func()) sla.Subscription {
	return forward(c.h.Subscribe(ari.Events.ChannelDestroyed), func(ari.Event) {
		fn()
	})
}

func (c *channelHandle) OnHangupRequest(fn func()) sla.Subscription {
	return forward(c.h.Subscribe(ari.Events.ChannelHangupRequest), func(ari.Event) {
		fn()
	})
}

func (c *channelHandle) OnDigit(fn func(digit string)) sla.Subscription {
	return forward(c.h.Subscribe(ari.Events.ChannelDtmfReceived), func(e ari.Event) {
		if dtmf, ok := e.(*ari.ChannelDtmfReceived); ok {
			fn(dtmf.Digit)
		}
	})
}

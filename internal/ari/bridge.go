package ari

import (
	"github.com/CyCoreSystems/ari/v6"

	"github.com/sharedline/slad/internal/sla"
)

// bridgeHandle implements sla.BridgeHandle over an ARI bridge.
type bridgeHandle struct {
	h *ari.BridgeHandle
}

func newBridgeHandle(h *ari.BridgeHandle) *bridgeHandle {
	return &bridgeHandle{h: h}
}

func (b *bridgeHandle) ID() string {
	return b.h.ID()
}

func (b *bridgeHandle) AddChannel(channelID string) error {
	return b.h.AddChannel(channelID)
}

func (b *bridgeHandle) ChannelIDs() ([]string, error) {
	data, err := b.h.Data()
	if err != nil {
		return nil, err
	}
	return data.ChannelIDs, nil
}

func (b *bridgeHandle) OnChannelLeft(fn func(channelID string)) sla.Subscription {
	return forward(b.h.Subscribe(ari.Events.ChannelLeftBridge), func(e ari.Event) {
		if left, ok := e.(*ari.ChannelLeftBridge); ok {
			fn(left.Channel.ID)
		}
	})
}

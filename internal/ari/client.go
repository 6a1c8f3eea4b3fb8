// Package ari adapts the Asterisk REST Interface to the narrow platform
// surface the call-control core consumes. It contains no decision logic.
package ari

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CyCoreSystems/ari/v6"
	"github.com/CyCoreSystems/ari/v6/client/native"

	"github.com/sharedline/slad/internal/sla"
)

// dialedTag marks channels originated from within a session. The StasisStart
// dispatcher must not spin up a new session for them.
const dialedTag = "dialed"

// Options configures the ARI connection.
type Options struct {
	Application  string
	Username     string
	Password     string
	URL          string
	WebsocketURL string

	// EndpointTech is the channel technology prefix applied to originate
	// addresses that do not already carry one ("phone1" -> "PJSIP/phone1").
	EndpointTech string
}

// Client wraps an ARI connection and implements sla.Platform.
type Client struct {
	ari    ari.Client
	tech   string
	logger *slog.Logger
}

// Connect establishes the ARI HTTP and websocket connections.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	cl, err := native.Connect(&native.Options{
		Application:  opts.Application,
		Username:     opts.Username,
		Password:     opts.Password,
		URL:          opts.URL,
		WebsocketURL: opts.WebsocketURL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to ari: %w", err)
	}

	logger.Info("connected to ari",
		"url", opts.URL,
		"application", opts.Application,
	)

	return &Client{
		ari:    cl,
		tech:   opts.EndpointTech,
		logger: logger.With("component", "ari"),
	}, nil
}

// Close shuts the ARI connection down.
func (c *Client) Close() {
	c.ari.Close()
}

// Originate starts an outbound call attempt. The resulting channel enters
// the same Stasis application tagged "dialed" so the dispatcher leaves it
// to the session that originated it.
func (c *Client) Originate(address string, station bool) (sla.ChannelHandle, error) {
	endpoint := address
	if !strings.ContainsRune(endpoint, '/') {
		endpoint = c.tech + "/" + endpoint
	}

	h, err := c.ari.Channel().Originate(ari.NewKey(ari.ChannelKey, ""), ari.OriginateRequest{
		Endpoint: endpoint,
		App:      c.ari.ApplicationName(),
		AppArgs:  dialedTag,
		Timeout:  -1,
	})
	if err != nil {
		return nil, fmt.Errorf("originating %s: %w", endpoint, err)
	}

	c.logger.Debug("originated channel",
		"endpoint", endpoint,
		"channel_id", h.ID(),
		"is_station", station,
	)

	return newChannelHandle(h, nil), nil
}

// GetOrCreateBridge returns the extension's mixing bridge, creating it when
// Asterisk has none. The bridge id is the extension name, which makes the
// lookup a plain get.
func (c *Client) GetOrCreateBridge(extension string) (sla.BridgeHandle, error) {
	key := ari.NewKey(ari.BridgeKey, extension)

	if data, err := c.ari.Bridge().Data(key); err == nil && data != nil {
		c.logger.Debug("reusing existing bridge", "bridge_id", data.ID)
		return newBridgeHandle(c.ari.Bridge().Get(key)), nil
	}

	h, err := c.ari.Bridge().Create(key, "mixing", extension)
	if err != nil {
		return nil, fmt.Errorf("creating bridge for %s: %w", extension, err)
	}

	c.logger.Debug("created bridge", "bridge_id", h.ID())
	return newBridgeHandle(h), nil
}

// Hangup requests a hangup on a channel by id.
func (c *Client) Hangup(channelID string) error {
	return c.ari.Channel().Hangup(ari.NewKey(ari.ChannelKey, channelID), "normal")
}

// DeviceStates returns the ARI-backed device-state store. Labels are keyed
// "Stasis:<name>", the device name Asterisk assigns to a Stasis-managed
// device.
func (c *Client) DeviceStates() *DeviceStateStore {
	return &DeviceStateStore{client: c.ari}
}

// DeviceStateStore reads and writes Stasis device states through ARI.
type DeviceStateStore struct {
	client ari.Client
}

func (d *DeviceStateStore) deviceKey(name string) *ari.Key {
	return ari.NewKey(ari.DeviceStateKey, "Stasis:"+name)
}

// Get returns the stored state label for the named device.
func (d *DeviceStateStore) Get(ctx context.Context, device string) (string, error) {
	data, err := d.client.DeviceState().Data(d.deviceKey(device))
	if err != nil {
		return "", fmt.Errorf("reading device state for %s: %w", device, err)
	}
	return data.State, nil
}

// Update stores a new state label for the named device.
func (d *DeviceStateStore) Update(ctx context.Context, device, state string) error {
	if err := d.client.DeviceState().Update(d.deviceKey(device), state); err != nil {
		return fmt.Errorf("updating device state for %s: %w", device, err)
	}
	return nil
}

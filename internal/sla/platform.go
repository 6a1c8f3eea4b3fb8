package sla

import "context"

// Subscription is a live event subscription. Cancel releases it; once
// cancelled no further callbacks are delivered. Cancel is safe to call more
// than once.
type Subscription interface {
	Cancel()
}

// ChannelHandle is the core's view of one telephony channel. All operations
// are non-blocking requests to the platform; their completions, if any,
// arrive as later callbacks. Callbacks are delivered from platform
// goroutines and may run concurrently with each other; the state machine
// serializes them with its own mutex.
type ChannelHandle interface {
	// ID returns the platform-unique channel id.
	ID() string

	// Name returns the display name of the channel (for Asterisk, something
	// like "PJSIP/phone1-00000001").
	Name() string

	// CallerName returns the caller id display name presented by the
	// channel, or "" if none.
	CallerName() string

	// CallerNumber returns the caller id number presented by the channel,
	// or "" if none.
	CallerNumber() string

	Answer() error
	Hangup() error

	// ContinueInDialplan hands the channel back to normal call routing.
	ContinueInDialplan() error

	// OnAnswerable fires when the channel reaches an answerable state
	// (for ARI, when it enters the Stasis application).
	OnAnswerable(fn func()) Subscription

	// OnDestroyed fires when the channel is destroyed (hung up).
	OnDestroyed(fn func()) Subscription

	// OnHangupRequest fires when a hangup is requested on the channel.
	OnHangupRequest(fn func()) Subscription

	// OnDigit fires once per DTMF digit received on the channel.
	OnDigit(fn func(digit string)) Subscription
}

// BridgeHandle is the core's view of the single mixing bridge shared by one
// call state machine instance.
type BridgeHandle interface {
	ID() string

	// AddChannel requests that the channel join the bridge. Fire-and-forget:
	// the membership change is reported later through platform events.
	AddChannel(channelID string) error

	// ChannelIDs returns the current bridge membership as reported by the
	// platform.
	ChannelIDs() ([]string, error)

	// OnChannelLeft fires each time a channel leaves the bridge.
	OnChannelLeft(fn func(channelID string)) Subscription
}

// Platform is the telephony platform client surface the core consumes. It
// performs no decision logic; it is mechanism, not policy.
type Platform interface {
	// Originate starts an outbound call attempt to the given address. The
	// station tag distinguishes a station leg being rung from a plain trunk
	// leg dialed out of an already-bridged call. The returned channel's
	// lifecycle is reported through the same event model as inbound
	// channels, and it must not be dispatched as a fresh inbound call.
	Originate(address string, station bool) (ChannelHandle, error)

	// GetOrCreateBridge returns the mixing bridge for the extension,
	// creating it if the platform has none.
	GetOrCreateBridge(extension string) (BridgeHandle, error)

	// Hangup requests a hangup on a channel by id.
	Hangup(channelID string) error
}

// DeviceStates is the durable per-extension state label store the platform
// exposes to other consumers. Updates are best-effort; the core never
// blocks call progress on them.
type DeviceStates interface {
	Get(ctx context.Context, device string) (string, error)
	Update(ctx context.Context, device, state string) error
}

// ExtensionResolver maps an extension name to its shared-extension
// configuration. Resolution failures surface as *InvalidExtensionError.
type ExtensionResolver interface {
	Resolve(name string) (*SharedExtension, error)
}

// Recorder receives call lifecycle notifications for call detail records.
// All methods are best-effort from the core's perspective.
type Recorder interface {
	Begin(sessionID, extension, callerName, callerNumber string)
	Answered(sessionID, station string)
	Dialed(sessionID, number string)
	End(sessionID, disposition string)
}

// NopRecorder discards all call records.
type NopRecorder struct{}

func (NopRecorder) Begin(sessionID, extension, callerName, callerNumber string) {}
func (NopRecorder) Answered(sessionID, station string)                          {}
func (NopRecorder) Dialed(sessionID, number string)                             {}
func (NopRecorder) End(sessionID, disposition string)                           {}

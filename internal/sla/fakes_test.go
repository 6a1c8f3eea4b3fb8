package sla

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// funcSub is a Subscription that detaches a callback when cancelled.
type funcSub struct {
	mu     sync.Mutex
	cancel func()
}

func (s *funcSub) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// fakeChannel is a scriptable ChannelHandle. Tests fire its events to drive
// the state machine.
type fakeChannel struct {
	mu sync.Mutex

	id         string
	name       string
	callerName string
	caller     string

	answers   int
	hangups   int
	continues int

	answerable func()
	destroyed  func()
	hangupReq  func()
	digit      func(string)
}

func newFakeChannel(id, name, caller string) *fakeChannel {
	return &fakeChannel{id: id, name: name, caller: caller}
}

func (c *fakeChannel) ID() string           { return c.id }
func (c *fakeChannel) Name() string         { return c.name }
func (c *fakeChannel) CallerName() string   { return c.callerName }
func (c *fakeChannel) CallerNumber() string { return c.caller }

func (c *fakeChannel) Answer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers++
	return nil
}

func (c *fakeChannel) Hangup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hangups++
	return nil
}

func (c *fakeChannel) ContinueInDialplan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.continues++
	return nil
}

func (c *fakeChannel) OnAnswerable(fn func()) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answerable = fn
	return &funcSub{cancel: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.answerable = nil
	}}
}

func (c *fakeChannel) OnDestroyed(fn func()) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = fn
	return &funcSub{cancel: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.destroyed = nil
	}}
}

func (c *fakeChannel) OnHangupRequest(fn func()) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hangupReq = fn
	return &funcSub{cancel: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.hangupReq = nil
	}}
}

func (c *fakeChannel) OnDigit(fn func(string)) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.digit = fn
	return &funcSub{cancel: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.digit = nil
	}}
}

func (c *fakeChannel) fireAnswerable() {
	c.mu.Lock()
	fn := c.answerable
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeChannel) fireDestroyed() {
	c.mu.Lock()
	fn := c.destroyed
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeChannel) fireHangupRequest() {
	c.mu.Lock()
	fn := c.hangupReq
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeChannel) fireDigit(d string) {
	c.mu.Lock()
	fn := c.digit
	c.mu.Unlock()
	if fn != nil {
		fn(d)
	}
}

func (c *fakeChannel) answerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers
}

func (c *fakeChannel) continueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.continues
}

func (c *fakeChannel) destroyedDetached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed == nil
}

// fakeBridge is a scriptable BridgeHandle. Tests mutate members and fire
// left events to mimic platform-reported membership.
type fakeBridge struct {
	mu      sync.Mutex
	id      string
	members []string
	adds    []string
	left    func(string)
}

func newFakeBridge(id string) *fakeBridge {
	return &fakeBridge{id: id}
}

func (b *fakeBridge) ID() string { return b.id }

func (b *fakeBridge) AddChannel(channelID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adds = append(b.adds, channelID)
	b.members = append(b.members, channelID)
	return nil
}

func (b *fakeBridge) ChannelIDs() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.members))
	copy(out, b.members)
	return out, nil
}

func (b *fakeBridge) OnChannelLeft(fn func(string)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.left = fn
	return &funcSub{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.left = nil
	}}
}

// removeMember drops a channel from the membership without firing events.
func (b *fakeBridge) removeMember(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.members[:0]
	for _, id := range b.members {
		if id != channelID {
			out = append(out, id)
		}
	}
	b.members = out
}

// fireLeft reports a channel having left the bridge.
func (b *fakeBridge) fireLeft(channelID string) {
	b.removeMember(channelID)
	b.mu.Lock()
	fn := b.left
	b.mu.Unlock()
	if fn != nil {
		fn(channelID)
	}
}

func (b *fakeBridge) addCount(channelID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, id := range b.adds {
		if id == channelID {
			n++
		}
	}
	return n
}

// fakePlatform records all platform requests and hands out fake channels
// for originations.
type fakePlatform struct {
	mu sync.Mutex

	bridge    *fakeBridge
	bridgeErr error

	originated []*origination
	hangups    []string
}

type origination struct {
	address string
	station bool
	channel *fakeChannel
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{bridge: newFakeBridge("bridge-1")}
}

func (p *fakePlatform) Originate(address string, station bool) (ChannelHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := newFakeChannel(
		fmt.Sprintf("out-%d", len(p.originated)+1),
		"PJSIP/"+address,
		"",
	)
	p.originated = append(p.originated, &origination{address: address, station: station, channel: ch})
	return ch, nil
}

func (p *fakePlatform) GetOrCreateBridge(extension string) (BridgeHandle, error) {
	if p.bridgeErr != nil {
		return nil, p.bridgeErr
	}
	return p.bridge, nil
}

func (p *fakePlatform) Hangup(channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangups = append(p.hangups, channelID)
	return nil
}

func (p *fakePlatform) originations() []*origination {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*origination, len(p.originated))
	copy(out, p.originated)
	return out
}

func (p *fakePlatform) hangupCount(channelID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, id := range p.hangups {
		if id == channelID {
			n++
		}
	}
	return n
}

// fakeDevices is an in-memory device state store.
type fakeDevices struct {
	mu     sync.Mutex
	states map[string]string
	getErr error
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{states: make(map[string]string)}
}

func (d *fakeDevices) Get(ctx context.Context, device string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.getErr != nil {
		return "", d.getErr
	}
	return d.states[device], nil
}

func (d *fakeDevices) Update(ctx context.Context, device, state string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[device] = state
	return nil
}

func (d *fakeDevices) set(device, state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.states[device] = state
}

func (d *fakeDevices) get(device string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states[device]
}

// waitForState polls for an asynchronously pushed device state.
func (d *fakeDevices) waitForState(t *testing.T, device, state string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.get(device) == state {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("device %q state = %q, want %q", device, d.get(device), state)
}

// recordingRecorder captures call lifecycle notifications.
type recordingRecorder struct {
	mu sync.Mutex

	beginExtension    string
	beginCallerName   string
	beginCallerNumber string
	answeredStation   string
	dialedNumber      string
	endDisposition    string
}

func (r *recordingRecorder) Begin(sessionID, extension, callerName, callerNumber string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginExtension = extension
	r.beginCallerName = callerName
	r.beginCallerNumber = callerNumber
}

func (r *recordingRecorder) Answered(sessionID, station string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answeredStation = station
}

func (r *recordingRecorder) Dialed(sessionID, number string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialedNumber = number
}

func (r *recordingRecorder) End(sessionID, disposition string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endDisposition = disposition
}

// testExtension is the shared extension used across state machine tests.
func testExtension() *SharedExtension {
	return &SharedExtension{
		Name:     "201",
		Stations: []string{"phone1", "phone2"},
		Trunks:   []string{"trunkA"},
	}
}

func newTestMachine(t *testing.T) (*CallStateMachine, *fakePlatform, *fakeDevices) {
	t.Helper()
	platform := newFakePlatform()
	devices := newFakeDevices()
	sm := New(testExtension(), Deps{
		Platform: platform,
		Devices:  devices,
		Recorder: NopRecorder{},
		Logger:   testLogger(),
	})
	return sm, platform, devices
}

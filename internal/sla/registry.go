package sla

import (
	"context"
	"log/slog"
	"sync"
)

// Registry maps extension names to live call state machine instances. It
// guarantees at most one live instance per extension name: an entry is
// created iff absent and removed exactly once when the instance's exit hook
// fires.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*CallStateMachine

	resolver ExtensionResolver
	deps     Deps
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. All instances it creates share the
// given dependencies.
func NewRegistry(resolver ExtensionResolver, deps Deps) *Registry {
	return &Registry{
		sessions: make(map[string]*CallStateMachine),
		resolver: resolver,
		deps:     deps,
		logger:   deps.Logger.With("component", "registry"),
	}
}

// Handle binds an inbound channel to the instance that will run it.
type Handle struct {
	sm       *CallStateMachine
	incoming ChannelHandle
}

// Run hands the inbound channel to the instance.
func (h *Handle) Run(ctx context.Context) error {
	return h.sm.Init(ctx, h.incoming)
}

// Resolve returns a handle for the extension's live instance, creating one
// if none exists. A new inbound leg for an already-active extension joins
// the existing session. Resolution failures surface as
// *InvalidExtensionError before any instance is created.
func (r *Registry) Resolve(extension string, incoming ChannelHandle) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sm, ok := r.sessions[extension]; ok {
		r.logger.Debug("joining existing session",
			"extension", extension,
			"session_id", sm.SessionID(),
		)
		return &Handle{sm: sm, incoming: incoming}, nil
	}

	ext, err := r.resolver.Resolve(extension)
	if err != nil {
		return nil, err
	}

	sm := New(ext, r.deps)
	sm.OnExit(func() { r.remove(extension, sm) })
	r.sessions[extension] = sm

	r.logger.Info("session created",
		"extension", extension,
		"session_id", sm.SessionID(),
	)

	return &Handle{sm: sm, incoming: incoming}, nil
}

// remove releases an extension's slot. The instance pointer is checked so a
// stale hook can never evict a successor instance.
func (r *Registry) remove(extension string, sm *CallStateMachine) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[extension]; ok && current == sm {
		delete(r.sessions, extension)
		r.logger.Info("session removed",
			"extension", extension,
			"session_id", sm.SessionID(),
		)
	}
}

// ActiveSessionCount returns the number of live instances.
func (r *Registry) ActiveSessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshots returns a point-in-time view of every live session.
func (r *Registry) Snapshots() []SessionSnapshot {
	r.mu.Lock()
	sms := make([]*CallStateMachine, 0, len(r.sessions))
	for _, sm := range r.sessions {
		sms = append(sms, sm)
	}
	r.mu.Unlock()

	// Snapshot outside the registry lock: each snapshot takes the
	// instance's own mutex.
	snaps := make([]SessionSnapshot, 0, len(sms))
	for _, sm := range sms {
		snaps = append(snaps, sm.Snapshot())
	}
	return snaps
}

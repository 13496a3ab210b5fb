// Package viewsync keeps the view state (zoom, pan, camera) of grouped
// panels in lockstep.
//
// The membership table is the only record of a group: a group exists while
// it has members and its state is the last state any member reported.
package viewsync

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultInterval is the default minimum spacing of throttled broadcasts.
const DefaultInterval = 33 * time.Millisecond

// Camera is a 3-D view camera.
type Camera struct {
	Position [3]float64 `cbor:"position"`
	Target   [3]float64 `cbor:"target"`
	Up       [3]float64 `cbor:"up"`
	FOV      float64    `cbor:"fov"`
}

// ViewState is the view of one panel.
type ViewState struct {
	Zoom    float64 `cbor:"zoom"`
	OffsetX float64 `cbor:"offset_x"`
	OffsetY float64 `cbor:"offset_y"`
	Camera  *Camera `cbor:"camera,omitempty"`
}

// Equal reports whether two states describe the same view.
func (s ViewState) Equal(o ViewState) bool {
	if s.Zoom != o.Zoom || s.OffsetX != o.OffsetX || s.OffsetY != o.OffsetY {
		return false
	}
	if s.Camera == nil || o.Camera == nil {
		return s.Camera == o.Camera
	}
	return *s.Camera == *o.Camera
}

// Applier delivers a state to the panel of key.
type Applier func(key string, state ViewState)

// Querier asks the panel of key to report its view through OnViewChanged.
type Querier func(key string)

type group struct {
	members  map[string]struct{}
	state    ViewState
	hasState bool
}

// Broadcaster fans view changes out to the other members of a group.
//
// Broadcaster is safe for concurrent use. The applier is never called with
// the lock held.
type Broadcaster struct {
	mu         sync.Mutex
	groups     map[string]*group
	memberOf   map[string]string
	latest     map[string]ViewState
	throttlers map[string]*Throttler

	interval time.Duration
	apply    Applier
	query    Querier
	logger   *slog.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithInterval sets the throttle interval.
func WithInterval(d time.Duration) Option {
	return func(b *Broadcaster) {
		b.interval = d
	}
}

// WithQuerier sets how a group without a known state asks a member for
// its view when another panel joins.
func WithQuerier(q Querier) Option {
	return func(b *Broadcaster) {
		b.query = q
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = l
	}
}

// New creates a broadcaster delivering through apply.
func New(apply Applier, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		groups:     make(map[string]*group),
		memberOf:   make(map[string]string),
		latest:     make(map[string]ViewState),
		throttlers: make(map[string]*Throttler),
		interval:   DefaultInterval,
		apply:      apply,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

// Join adds key to groupID, leaving any previous group. When the group
// already has a state, key adopts it immediately and Join returns it.
// Otherwise the first other member is queried, and its answer reaches key
// like any other change.
func (b *Broadcaster) Join(groupID, key string) (ViewState, bool) {
	b.mu.Lock()
	if prev, ok := b.memberOf[key]; ok && prev != groupID {
		b.leaveLocked(key)
	}

	g, ok := b.groups[groupID]
	if !ok {
		g = &group{members: make(map[string]struct{})}
		b.groups[groupID] = g
	}
	g.members[key] = struct{}{}
	b.memberOf[key] = groupID

	state, inherit := g.state, g.hasState
	var ask string
	if inherit {
		b.latest[key] = state
	} else {
		ask = firstOther(g.members, key)
	}
	b.mu.Unlock()

	b.logger.Debug("view sync join", "group", groupID, "variable", key, "inherit", inherit, "query", ask)
	if inherit && b.apply != nil {
		b.apply(key, state)
	}
	if ask != "" && b.query != nil {
		b.query(ask)
	}
	return state, inherit
}

// Leave removes key from its group. The group disappears with its last
// member.
func (b *Broadcaster) Leave(key string) {
	b.mu.Lock()
	t := b.leaveLocked(key)
	b.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

func (b *Broadcaster) leaveLocked(key string) *Throttler {
	groupID, ok := b.memberOf[key]
	if !ok {
		return nil
	}
	delete(b.memberOf, key)
	delete(b.latest, key)
	if g := b.groups[groupID]; g != nil {
		delete(g.members, key)
		if len(g.members) == 0 {
			delete(b.groups, groupID)
		}
	}
	t := b.throttlers[key]
	delete(b.throttlers, key)
	return t
}

// OnViewChanged records the new view of key and rebroadcasts it to the other
// members of its group. Continuous updates are throttled; final marks the end
// of an interaction and is delivered synchronously.
func (b *Broadcaster) OnViewChanged(key string, state ViewState, final bool) {
	b.mu.Lock()
	groupID, ok := b.memberOf[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	g := b.groups[groupID]
	g.state, g.hasState = state, true
	b.latest[key] = state

	t, ok := b.throttlers[key]
	if !ok {
		t = NewThrottler(b.interval, func() { b.broadcast(key) })
		b.throttlers[key] = t
	}
	b.mu.Unlock()

	if final {
		t.Cancel()
		b.broadcast(key)
		return
	}
	t.Call()
}

// broadcast delivers the latest state of key to the rest of its group.
func (b *Broadcaster) broadcast(key string) {
	b.mu.Lock()
	groupID, ok := b.memberOf[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	state := b.latest[key]
	var targets []string
	for m := range b.groups[groupID].members {
		if m != key {
			targets = append(targets, m)
		}
	}
	b.mu.Unlock()

	if b.apply == nil {
		return
	}
	sort.Strings(targets)
	for _, m := range targets {
		b.apply(m, state)
	}
}

// firstOther returns the smallest member other than key, or "".
func firstOther(members map[string]struct{}, key string) string {
	var out string
	for m := range members {
		if m != key && (out == "" || m < out) {
			out = m
		}
	}
	return out
}

// State returns the current state of a group.
func (b *Broadcaster) State(groupID string) (ViewState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[groupID]
	if !ok || !g.hasState {
		return ViewState{}, false
	}
	return g.state, true
}

// Members returns the sorted members of a group.
func (b *Broadcaster) Members(groupID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[groupID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.members))
	for m := range g.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// GroupOf returns the group key belongs to.
func (b *Broadcaster) GroupOf(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.memberOf[key]
	return id, ok
}

// Close cancels all pending broadcasts and forgets every group.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	ts := b.throttlers
	b.groups = make(map[string]*group)
	b.memberOf = make(map[string]string)
	b.latest = make(map[string]ViewState)
	b.throttlers = make(map[string]*Throttler)
	b.mu.Unlock()

	for _, t := range ts {
		t.Cancel()
	}
}

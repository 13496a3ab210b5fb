package panel

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/debugmate/internal/model"
)

// Resumer continues a debuggee that was paused on the panel's behalf.
type Resumer interface {
	Resume(ctx context.Context) error
}

type addressKey struct {
	sessionID string
	address   model.Address
}

// Registry owns the panels of all sessions.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	byKey     map[model.PanelKey]*Panel
	byID      map[string]*Panel
	byAddress map[addressKey]*Panel

	resumer       Resumer
	resumeTimeout time.Duration
	onMerge       func(from, into *Panel)
	logger        *slog.Logger

	// pending tracks in-flight resume requests.
	pending sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithResumer sets the target of best-effort resume requests on disposal.
func WithResumer(r Resumer) Option {
	return func(reg *Registry) {
		reg.resumer = r
	}
}

// WithResumeTimeout bounds each resume request. Default is 2s.
func WithResumeTimeout(d time.Duration) Option {
	return func(reg *Registry) {
		reg.resumeTimeout = d
	}
}

// WithOnMerge sets a callback run after a panel was folded into the panel
// that already shows its address. from is disposed by then and every one of
// its keys points to into. The callback runs without the registry lock held.
func WithOnMerge(fn func(from, into *Panel)) Option {
	return func(reg *Registry) {
		reg.onMerge = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(reg *Registry) {
		reg.logger = l
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byKey:         make(map[model.PanelKey]*Panel),
		byID:          make(map[string]*Panel),
		byAddress:     make(map[addressKey]*Panel),
		resumeTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	return r
}

// GetOrCreate returns the panel for (view, sessionID, variableKey), creating
// it when needed. When addr is non-nil and another panel of the same view is
// linked to that address in the session, the key becomes an alias of that
// panel. A key that already had its own panel is merged: its panel is
// disposed and all of its keys move over. created reports whether a new
// panel was made.
func (r *Registry) GetOrCreate(view model.ViewKind, title, sessionID, variableKey string, reveal bool, addr *model.Address) (p *Panel, created bool) {
	key := model.PanelKey{View: view, SessionID: sessionID, VariableKey: variableKey}

	r.mu.Lock()
	p, created, orphan := r.getOrCreateLocked(key, title, addr)
	if reveal {
		p.reveal()
	}
	r.mu.Unlock()

	if orphan != nil && r.onMerge != nil {
		r.onMerge(orphan, p)
	}
	return p, created
}

func (r *Registry) getOrCreateLocked(key model.PanelKey, title string, addr *model.Address) (p *Panel, created bool, orphan *Panel) {
	owner := r.ownerLocked(key, addr)

	if p, ok := r.byKey[key]; ok {
		if owner == nil || owner == p {
			if addr != nil {
				r.attachLocked(p, *addr)
			}
			return p, false, nil
		}
		r.mergeLocked(p, owner)
		r.logger.Debug("panel merged", "session", key.SessionID, "variable", key.VariableKey,
			"panel", owner.ID, "merged", p.ID, "address", *addr)
		return owner, false, p
	}

	if owner != nil {
		owner.mu.Lock()
		owner.aliases = append(owner.aliases, key)
		owner.mu.Unlock()
		r.byKey[key] = owner
		r.logger.Debug("panel aliased", "session", key.SessionID, "variable", key.VariableKey,
			"panel", owner.ID, "owner", owner.Key.VariableKey, "address", *addr)
		return owner, false, nil
	}

	p = &Panel{ID: uuid.New().String(), Key: key, Title: title}
	r.byKey[key] = p
	r.byID[p.ID] = p
	if addr != nil {
		r.attachLocked(p, *addr)
	}
	r.logger.Debug("panel created", "session", key.SessionID, "variable", key.VariableKey, "view", key.View, "panel", p.ID)
	return p, true, nil
}

// ownerLocked returns the live panel of key's view linked to addr.
func (r *Registry) ownerLocked(key model.PanelKey, addr *model.Address) *Panel {
	if addr == nil || !addr.Valid() {
		return nil
	}
	p, ok := r.byAddress[addressKey{key.SessionID, *addr}]
	if !ok || p.Key.View != key.View || p.Disposed() {
		return nil
	}
	return p
}

// mergeLocked disposes from and re-keys all of its keys as aliases of into.
func (r *Registry) mergeLocked(from, into *Panel) {
	from.disposed.Store(true)
	keys := from.Keys()
	for k, q := range r.byAddress {
		if q == from {
			delete(r.byAddress, k)
		}
	}
	delete(r.byID, from.ID)

	into.mu.Lock()
	for _, k := range keys {
		if r.byKey[k] == from {
			r.byKey[k] = into
			into.aliases = append(into.aliases, k)
		}
	}
	into.mu.Unlock()
}

// Lookup returns the panel registered under key.
func (r *Registry) Lookup(key model.PanelKey) (*Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byKey[key]
	return p, ok
}

// Get returns the panel with the given ID.
func (r *Registry) Get(id string) (*Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	return p, ok
}

// LookupAddress returns the panel linked to addr in the session.
func (r *Registry) LookupAddress(sessionID string, addr model.Address) (*Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byAddress[addressKey{sessionID, addr}]
	return p, ok
}

// Attach links p to addr, replacing any previous link of p.
func (r *Registry) Attach(p *Panel, addr model.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Disposed() {
		return
	}
	r.attachLocked(p, addr)
}

func (r *Registry) attachLocked(p *Panel, addr model.Address) {
	if !addr.Valid() {
		return
	}
	sid := p.Key.SessionID

	p.mu.Lock()
	old := p.address
	p.address = addr
	p.mu.Unlock()

	if old.Valid() && old != addr {
		if cur := r.byAddress[addressKey{sid, old}]; cur == p {
			delete(r.byAddress, addressKey{sid, old})
		}
	}
	r.byAddress[addressKey{sid, addr}] = p
}

// PurgeAddresses drops every address link of the session along with the
// aliases that were derived from them. Primary keys survive, so each
// variable keeps its own panel but must be resolved again before it can
// share one.
func (r *Registry) PurgeAddresses(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, p := range r.byAddress {
		if k.sessionID != sessionID {
			continue
		}
		delete(r.byAddress, k)
		n++

		p.mu.Lock()
		aliases := p.aliases
		p.aliases = nil
		p.address = 0
		p.mu.Unlock()
		for _, a := range aliases {
			if r.byKey[a] == p {
				delete(r.byKey, a)
			}
		}
	}
	return n
}

// Dispose removes p and all of its keys and address links, then asks the
// debug session to resume in the background. The registry entries are gone
// when Dispose returns. It reports false if p was already disposed.
func (r *Registry) Dispose(ctx context.Context, p *Panel) bool {
	if !r.remove(p) {
		return false
	}
	r.logger.Debug("panel disposed", "session", p.Key.SessionID, "variable", p.Key.VariableKey, "panel", p.ID)

	if r.resumer == nil {
		return true
	}
	rctx := context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		rctx, cancel := context.WithTimeout(rctx, r.resumeTimeout)
		defer cancel()
		if err := r.resumer.Resume(rctx); err != nil {
			r.logger.Warn("resume after panel close failed", "session", p.Key.SessionID, "panel", p.ID, "error", err)
		}
	}()
	return true
}

// Remove drops p and its keys like Dispose but leaves the debuggee alone.
// It reports false if p was already disposed.
func (r *Registry) Remove(p *Panel) bool {
	if !r.remove(p) {
		return false
	}
	r.logger.Debug("panel removed", "session", p.Key.SessionID, "variable", p.Key.VariableKey, "panel", p.ID)
	return true
}

// DisposeSession removes every panel of the session without resuming; the
// session is expected to be gone.
func (r *Registry) DisposeSession(sessionID string) []*Panel {
	r.mu.Lock()
	var victims []*Panel
	for _, p := range r.byID {
		if p.Key.SessionID == sessionID {
			victims = append(victims, p)
		}
	}
	r.mu.Unlock()

	out := victims[:0]
	for _, p := range victims {
		if r.remove(p) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) remove(p *Panel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !p.disposed.CompareAndSwap(false, true) {
		return false
	}
	for _, k := range p.Keys() {
		if r.byKey[k] == p {
			delete(r.byKey, k)
		}
	}
	for k, q := range r.byAddress {
		if q == p {
			delete(r.byAddress, k)
		}
	}
	delete(r.byID, p.ID)
	return true
}

// Panels returns the live panels ordered by session, view and variable.
func (r *Registry) Panels() []*Panel {
	r.mu.Lock()
	out := make([]*Panel, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Wait blocks until every pending resume request has finished.
func (r *Registry) Wait() {
	r.pending.Wait()
}

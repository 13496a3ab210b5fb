// Package panel tracks the visualization panels of debug sessions.
//
// Panels are found by their primary key (view, session, variable) and by the
// address their data was resolved to, so two expressions that reach the same
// memory share one panel. Address links only live until the next debug step.
package panel

import (
	"sync"
	"sync/atomic"

	"github.com/dshills/debugmate/internal/freshness"
	"github.com/dshills/debugmate/internal/model"
)

// Panel is one visualization panel.
type Panel struct {
	// ID is unique across sessions and stable for the panel's lifetime.
	ID string

	// Key is the key the panel was created under.
	Key model.PanelKey

	// Title is the display title.
	Title string

	mu       sync.Mutex
	address  model.Address
	token    freshness.Token
	hasToken bool
	reveals  int
	aliases  []model.PanelKey
	disposed atomic.Bool
}

// Address returns the address the panel was last attached to.
func (p *Panel) Address() (model.Address, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.address, p.address.Valid()
}

// Token returns the freshness token of the displayed data, if any.
func (p *Panel) Token() (freshness.Token, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token, p.hasToken
}

// SetToken records the token of newly displayed data.
func (p *Panel) SetToken(t freshness.Token) {
	p.mu.Lock()
	p.token = t
	p.hasToken = true
	p.mu.Unlock()
}

// Reveals returns how many times the panel was brought to front.
func (p *Panel) Reveals() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reveals
}

// Disposed reports whether the panel was closed.
func (p *Panel) Disposed() bool {
	return p.disposed.Load()
}

// Keys returns the primary key followed by every alias.
func (p *Panel) Keys() []model.PanelKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]model.PanelKey, 0, 1+len(p.aliases))
	keys = append(keys, p.Key)
	return append(keys, p.aliases...)
}

func (p *Panel) reveal() {
	p.mu.Lock()
	p.reveals++
	p.mu.Unlock()
}

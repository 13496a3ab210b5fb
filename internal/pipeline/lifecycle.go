package pipeline

import (
	"context"
	"fmt"

	"github.com/dshills/debugmate/internal/debug"
	"github.com/dshills/debugmate/internal/model"
	"github.com/dshills/debugmate/internal/panel"
	"github.com/dshills/debugmate/internal/render"
	"github.com/dshills/debugmate/internal/viewsync"
)

// OnStep marks every cached token stale and drops the address links of the
// session's panels. Requests in flight are discarded. Call it whenever the
// debuggee stops after running or another thread or frame is selected.
func (v *Visualizer) OnStep() {
	v.steps.Add(1)
	step := v.fresh.BumpStep()
	n := v.panels.PurgeAddresses(v.session.ID())
	v.logger.Debug("step", "step", step, "addresses", n)
}

// SelectFrame selects the frame at index of t's last stack. Moving to
// another frame is a step boundary.
func (v *Visualizer) SelectFrame(t *debug.FrameTracker, index int) error {
	changed, err := t.Select(index)
	if err != nil {
		return err
	}
	if changed {
		v.OnStep()
	}
	return nil
}

// RefreshFrames refetches the stack of threadID into t and selects its top
// frame. A changed selection is a step boundary.
func (v *Visualizer) RefreshFrames(ctx context.Context, t *debug.FrameTracker, threadID int) error {
	changed, err := t.Refresh(ctx, threadID)
	if err != nil {
		return err
	}
	if changed {
		v.OnStep()
	}
	return nil
}

// OnTerminated drops all state of the session and closes its panels.
func (v *Visualizer) OnTerminated(ctx context.Context) {
	sid := v.session.ID()
	n := v.fresh.ClearSession(sid)
	panels := v.panels.DisposeSession(sid)
	for _, p := range panels {
		v.sync.Leave(p.ID)
		v.post(ctx, render.Close{PanelID: p.ID})
	}
	v.logger.Info("session terminated", "panels", len(panels), "tokens", n)
}

// PanelClosed handles the front end closing a panel: every key of the panel
// is removed along with its cache entries, and the debuggee is resumed in
// the background.
func (v *Visualizer) PanelClosed(ctx context.Context, panelID string) error {
	p, ok := v.panels.Get(panelID)
	if !ok {
		return fmt.Errorf("%s: %w", panelID, ErrPanelNotFound)
	}
	keys := p.Keys()
	if !v.panels.Dispose(ctx, p) {
		return nil
	}
	for _, k := range keys {
		v.fresh.Invalidate(freshKey(k))
	}
	v.sync.Leave(p.ID)
	v.logger.Info("panel closed", "panel", p.ID, "keys", len(keys))
	return nil
}

// Pair adds a panel to a sync group. A panel joining a group that already
// has a view adopts it at once; otherwise another member is sent a
// render.QueryView and its reply is broadcast to the group.
func (v *Visualizer) Pair(groupID, panelID string) error {
	if _, ok := v.panels.Get(panelID); !ok {
		return fmt.Errorf("%s: %w", panelID, ErrPanelNotFound)
	}
	v.sync.Join(groupID, panelID)
	return nil
}

// Unpair removes a panel from its sync group.
func (v *Visualizer) Unpair(panelID string) {
	v.sync.Leave(panelID)
}

// ViewChanged forwards a zoom or pan of one panel to its group.
func (v *Visualizer) ViewChanged(panelID string, state viewsync.ViewState, final bool) {
	v.sync.OnViewChanged(panelID, state, final)
}

// Panel returns a live panel by ID.
func (v *Visualizer) Panel(id string) (*panel.Panel, bool) {
	return v.panels.Get(id)
}

// Panels returns the live panels.
func (v *Visualizer) Panels() []*panel.Panel {
	return v.panels.Panels()
}

// StalePanels returns the panels with at least one key that has not been
// confirmed since the last step.
func (v *Visualizer) StalePanels() []*panel.Panel {
	var out []*panel.Panel
	for _, p := range v.panels.Panels() {
		for _, k := range p.Keys() {
			if v.fresh.Stale(freshKey(k)) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Close stops pending broadcasts and waits for background resumes.
func (v *Visualizer) Close() {
	v.sync.Close()
	v.panels.Wait()
}

// Handlers returns session handlers that keep the Visualizer in step with
// the session and then call next.
func (v *Visualizer) Handlers(next debug.SessionHandlers) debug.SessionHandlers {
	h := next
	h.OnStopped = func(reason string, threadID int, allStopped bool) {
		v.OnStep()
		if next.OnStopped != nil {
			next.OnStopped(reason, threadID, allStopped)
		}
	}
	h.OnInvalidated = func(areas []string) {
		v.OnStep()
		if next.OnInvalidated != nil {
			next.OnInvalidated(areas)
		}
	}
	h.OnTerminated = func() {
		v.OnTerminated(context.Background())
		if next.OnTerminated != nil {
			next.OnTerminated()
		}
	}
	return h
}

// Attach installs Handlers(next) on s.
func (v *Visualizer) Attach(s *debug.Session, next debug.SessionHandlers) {
	s.SetHandlers(v.Handlers(next))
}

// keyOf reports the panel key a request would use.
func keyOf(h model.Handle, view model.ViewKind) model.PanelKey {
	return model.PanelKey{View: view, SessionID: h.SessionID, VariableKey: h.Key()}
}

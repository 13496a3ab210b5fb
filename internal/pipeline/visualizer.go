// Package pipeline runs visualization requests: classify a variable,
// resolve its data address, check freshness, read and decode its memory,
// and hand the result to a panel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/debugmate/internal/backend"
	"github.com/dshills/debugmate/internal/classify"
	"github.com/dshills/debugmate/internal/config"
	"github.com/dshills/debugmate/internal/decode"
	"github.com/dshills/debugmate/internal/freshness"
	"github.com/dshills/debugmate/internal/memory"
	"github.com/dshills/debugmate/internal/model"
	"github.com/dshills/debugmate/internal/panel"
	"github.com/dshills/debugmate/internal/render"
	"github.com/dshills/debugmate/internal/resolve"
	"github.com/dshills/debugmate/internal/viewsync"
)

// ErrPanelNotFound is returned for operations on an unknown panel ID.
var ErrPanelNotFound = errors.New("panel not found")

// Session is the debugging capability set a Visualizer drives.
// *debug.Session implements it.
type Session interface {
	memory.Target
	ID() string
	Backend() backend.Kind
	Generation() uint64
	Resume(ctx context.Context) error
}

// Request asks for one variable to be visualized.
type Request struct {
	Handle model.Handle

	// View overrides the panel type derived from the shape.
	View model.ViewKind

	// Title defaults to the variable expression.
	Title string

	// Force bypasses the freshness cache.
	Force bool

	// Reveal brings the panel to front.
	Reveal bool
}

// Result is the outcome of a request. Panel is set once the request
// reached Revealed.
type Result struct {
	State   State
	Shape   model.Shape
	Address model.Address
	Panel   *panel.Panel
	Fresh   bool
}

// ProgressFunc receives read progress for a variable.
type ProgressFunc func(variable string, done, total int)

// Visualizer owns the caches and tables of one debug session.
type Visualizer struct {
	session Session
	backend backend.Backend
	config  *config.Config

	classifier *classify.Classifier
	resolver   *resolve.Resolver
	reader     *memory.Reader
	fresh      *freshness.Cache
	panels     *panel.Registry
	sync       *viewsync.Broadcaster
	host       render.Host

	progress ProgressFunc
	logger   *slog.Logger
	flight   singleflight.Group

	// steps counts step boundaries seen by OnStep, including frame
	// selections that leave the session generation alone.
	steps atomic.Uint64
}

// epoch identifies the debuggee state a request started in.
type epoch struct {
	generation uint64
	step       uint64
}

// Option configures a Visualizer.
type Option func(*Visualizer)

// WithConfig sets the tunables. The default is config.Default().
func WithConfig(cfg *config.Config) Option {
	return func(v *Visualizer) { v.config = cfg }
}

// WithHost sets where render messages are posted. Without a host they
// are dropped.
func WithHost(h render.Host) Option {
	return func(v *Visualizer) { v.host = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Visualizer) { v.logger = l }
}

// WithProgress sets a read progress callback. Calls for one read never
// overlap.
func WithProgress(fn ProgressFunc) Option {
	return func(v *Visualizer) { v.progress = fn }
}

// New creates a Visualizer for session.
func New(session Session, opts ...Option) *Visualizer {
	v := &Visualizer{
		session: session,
		backend: backend.For(session.Backend()),
		config:  config.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.New(slog.DiscardHandler)
	}
	if v.host == nil {
		v.host = discardHost{}
	}
	v.logger = v.logger.With("session", session.ID(), "backend", v.backend.Kind())

	cfg := v.config
	v.classifier = classify.New(session, append(cfg.ClassifyOptions(), classify.WithLogger(v.logger))...)
	v.resolver = resolve.New(session, append(cfg.ResolveOptions(), resolve.WithLogger(v.logger))...)
	v.reader = memory.NewReader(session, cfg.ReaderConfig(), v.logger)
	v.fresh = freshness.New(v.logger)
	v.panels = panel.NewRegistry(
		panel.WithResumer(session),
		panel.WithOnMerge(v.panelMerged),
		panel.WithLogger(v.logger))
	v.sync = viewsync.New(v.applyView,
		viewsync.WithQuerier(v.queryView),
		viewsync.WithInterval(cfg.Sync.ThrottleInterval.Std()),
		viewsync.WithLogger(v.logger))
	return v
}

// Visualize runs req to a terminal state. Concurrent requests for the same
// variable share one execution. A request whose session stepped or whose
// panel closed while it was in flight is discarded with ErrSessionChanged
// or ErrPanelDisposed and leaves existing panels untouched. Terminal
// failures are returned as *Error.
func (v *Visualizer) Visualize(ctx context.Context, req Request) (*Result, error) {
	sid := v.session.ID()
	if req.Handle.SessionID == "" {
		req.Handle.SessionID = sid
	}
	if req.Handle.SessionID != sid {
		return nil, fmt.Errorf("handle of session %s passed to session %s", req.Handle.SessionID, sid)
	}

	// The shared execution outlives any single caller; every round trip
	// below carries its own timeout.
	runCtx := context.WithoutCancel(ctx)
	ch := v.flight.DoChan(sid+"\x00"+req.Handle.Key(), func() (any, error) {
		return v.run(runCtx, req)
	})

	select {
	case r := <-ch:
		res, _ := r.Val.(*Result)
		return res, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *Visualizer) run(ctx context.Context, req Request) (*Result, error) {
	h := req.Handle
	variable := h.Key()
	log := v.logger.With("variable", variable)
	gen := v.epoch()
	res := &Result{State: StateRequested}

	res.State = StateClassifying
	shape := v.classifier.Classify(ctx, h, v.backend)
	res.Shape = shape
	if err := v.guard(gen, nil); err != nil {
		return v.discard(log, res, variable, err)
	}
	switch s := shape.(type) {
	case model.Unsupported:
		return v.fail(ctx, log, res, variable, nil, StateUnsupported, s.Reason, ErrUnsupported)
	case model.Uninitialized:
		return v.fail(ctx, log, res, variable, nil, StateUninitialized, s.Evidence, ErrUninitialized)
	case model.Empty:
		return v.fail(ctx, log, res, variable, nil, StateEmpty, s.Evidence, ErrEmpty)
	}

	layout, _ := model.LayoutOf(shape)
	view := req.View
	if view == "" {
		view = model.DefaultView(shape)
	}
	log = log.With("view", view)
	pk := keyOf(h, view)
	existing, _ := v.panels.Lookup(pk)

	res.State = StateResolving
	addr, err := v.resolver.Resolve(ctx, classify.Subject(h), model.FamilyOf(shape), v.backend)
	if gerr := v.guard(gen, existing); gerr != nil {
		return v.discard(log, res, variable, gerr)
	}
	if err != nil {
		return v.fail(ctx, log, res, variable, existing, StateResolutionFailed, "", err)
	}
	res.Address = addr
	log = log.With("address", addr)

	res.State = StateCheckingFreshness
	fkey := freshKey(pk)
	sample, err := v.sample(ctx, addr, layout)
	if gerr := v.guard(gen, existing); gerr != nil {
		return v.discard(log, res, variable, gerr)
	}
	if err != nil {
		return v.fail(ctx, log, res, variable, existing, StateReadFailed, "", err)
	}
	token := freshness.NewToken(layout.Count, addr, sample)

	title := req.Title
	if title == "" {
		title = h.Expression
	}

	if existing != nil && !req.Force && v.fresh.CheckFresh(fkey, token) {
		// The key may have been merged into a panel showing other data.
		p, _ := v.panels.GetOrCreate(view, title, h.SessionID, variable, true, &addr)
		if shown, ok := p.Token(); ok && shown == token {
			v.fresh.Update(fkey, token)
			v.post(ctx, render.Reveal{PanelID: p.ID})
			res.State, res.Panel, res.Fresh = StateRevealed, p, true
			log.Info("visualization fresh", "state", res.State, "panel", p.ID)
			return res, nil
		}
		existing = p
	}

	res.State = StateReading
	buf, err := v.reader.Read(ctx, addr, layout, v.backend, v.progressFor(variable))
	if gerr := v.guard(gen, existing); gerr != nil {
		return v.discard(log, res, variable, gerr)
	}
	if err != nil {
		return v.fail(ctx, log, res, variable, existing, StateReadFailed, "", err)
	}

	res.State = StateDecoded
	msg, err := v.message(buf, shape, title)
	if err != nil {
		return v.fail(ctx, log, res, variable, existing, StateReadFailed, "", err)
	}

	p, created := v.panels.GetOrCreate(view, title, h.SessionID, variable, req.Reveal, &addr)
	if err := render.Send(ctx, v.host, withPanel(msg, p.ID)); err != nil {
		v.fresh.Invalidate(fkey)
		if created {
			// The front end never received the panel.
			v.panels.Remove(p)
		}
		return res, fmt.Errorf("%s: show: %w", variable, err)
	}
	p.SetToken(token)
	v.fresh.Update(fkey, token)

	if group, ok := v.sync.GroupOf(p.ID); ok {
		if state, ok := v.sync.State(group); ok {
			v.post(ctx, render.ViewStateUpdate{PanelID: p.ID, State: state})
		}
	}

	res.State, res.Panel = StateRevealed, p
	log.Info("visualization shown", "state", res.State, "shape", shape, "panel", p.ID, "created", created)
	return res, nil
}

// sample reads the freshness prefix through the same path as full reads.
func (v *Visualizer) sample(ctx context.Context, addr model.Address, layout model.Layout) ([]byte, error) {
	size := layout.ElementSize()
	if size <= 0 || layout.Count == 0 {
		return nil, nil
	}
	n := max(1, v.config.Freshness.SampleBytes/size)
	sl := layout
	sl.Count = min(layout.Count, n)
	buf, err := v.reader.Read(ctx, addr, sl, v.backend, nil)
	if err != nil {
		return nil, err
	}
	return buf.Data, nil
}

func (v *Visualizer) epoch() epoch {
	return epoch{generation: v.session.Generation(), step: v.steps.Load()}
}

// guard reports whether the request has been superseded.
func (v *Visualizer) guard(started epoch, existing *panel.Panel) error {
	if v.epoch() != started {
		return ErrSessionChanged
	}
	if existing != nil && existing.Disposed() {
		return ErrPanelDisposed
	}
	return nil
}

func (v *Visualizer) discard(log *slog.Logger, res *Result, variable string, err error) (*Result, error) {
	log.Debug("result discarded", "state", res.State, "reason", err)
	return res, fmt.Errorf("%s: %w", variable, err)
}

func (v *Visualizer) fail(ctx context.Context, log *slog.Logger, res *Result, variable string, existing *panel.Panel, state State, evidence string, err error) (*Result, error) {
	res.State = state
	e := &Error{Variable: variable, Reason: state, Evidence: evidence, Err: err}

	status := render.Status{
		Variable: variable,
		Level:    state.level(),
		Reason:   string(state),
		Evidence: evidence,
		Message:  e.Error(),
	}
	if existing != nil {
		status.PanelID = existing.ID
	}
	v.post(ctx, status)

	if state.level() == "warning" {
		log.Warn("visualization failed", "state", state, "evidence", evidence, "error", err)
	} else {
		log.Info("visualization withheld", "state", state, "evidence", evidence)
	}
	return res, e
}

// message builds the show message for a decoded buffer.
func (v *Visualizer) message(buf *model.RawBuffer, shape model.Shape, title string) (render.Message, error) {
	payload, err := render.Compress(buf.Data, v.config.Compression(), buf.Layout.Depth.Size())
	if err != nil {
		return nil, err
	}

	switch s := shape.(type) {
	case model.Matrix:
		return render.ShowMatrix{
			Title:    title,
			Rows:     s.Rows,
			Cols:     s.Cols,
			Channels: s.Channels,
			Depth:    s.Depth.String(),
			Small:    s.Small,
			Payload:  payload,
		}, nil
	case model.Sequence:
		values, err := decode.Decode(buf.Data, buf.Layout)
		if err != nil {
			return nil, err
		}
		lo, hi, _ := decode.Stats(values)
		return render.ShowSequence{
			Title:   title,
			Count:   s.Count,
			Depth:   s.Element.String(),
			Min:     lo,
			Max:     hi,
			Payload: payload,
		}, nil
	case model.PointCloud:
		values, err := decode.Decode(buf.Data, buf.Layout)
		if err != nil {
			return nil, err
		}
		lo, hi, _ := decode.Bounds(decode.Points(values))
		return render.ShowPointCloud{
			Title:   title,
			Count:   s.Count,
			Wide:    s.Wide,
			Min:     [3]float64{lo.X, lo.Y, lo.Z},
			Max:     [3]float64{hi.X, hi.Y, hi.Z},
			Payload: payload,
		}, nil
	}
	return nil, fmt.Errorf("no message for shape %v", shape)
}

func withPanel(m render.Message, id string) render.Message {
	switch s := m.(type) {
	case render.ShowMatrix:
		s.PanelID = id
		return s
	case render.ShowSequence:
		s.PanelID = id
		return s
	case render.ShowPointCloud:
		s.PanelID = id
		return s
	}
	return m
}

func (v *Visualizer) progressFor(variable string) memory.ProgressFunc {
	if v.progress == nil {
		return nil
	}
	return func(done, total int) { v.progress(variable, done, total) }
}

// post sends m and logs failures; used for messages whose loss leaves no
// state inconsistent.
func (v *Visualizer) post(ctx context.Context, m render.Message) {
	if err := render.Send(ctx, v.host, m); err != nil {
		v.logger.Warn("render post failed", "type", m.Type(), "error", err)
	}
}

func (v *Visualizer) applyView(panelID string, state viewsync.ViewState) {
	v.post(context.Background(), render.ViewStateUpdate{PanelID: panelID, State: state})
}

func (v *Visualizer) queryView(panelID string) {
	v.post(context.Background(), render.QueryView{PanelID: panelID})
}

// panelMerged retires a panel whose keys moved to the panel already
// showing their address.
func (v *Visualizer) panelMerged(from, into *panel.Panel) {
	for _, k := range from.Keys() {
		v.fresh.Invalidate(freshKey(k))
	}
	v.sync.Leave(from.ID)
	v.post(context.Background(), render.Close{PanelID: from.ID})
	v.logger.Info("panel merged", "panel", from.ID, "into", into.ID)
}

type discardHost struct{}

func (discardHost) Post(context.Context, render.Envelope) error { return nil }

func freshKey(pk model.PanelKey) freshness.Key {
	return freshness.Key{SessionID: pk.SessionID, Variable: string(pk.View) + ":" + pk.VariableKey}
}

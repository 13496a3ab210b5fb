// Package classify decides what kind of data a debuggee variable holds.
//
// Classification runs in layers. A pure signature match on the declared
// type string comes first. Backends with incomplete type strings get one
// bounded introspection query when the signature does not match. The
// matched family is then sized by querying the debuggee, and every value
// read along the way is checked for backend sentinels and allocator poison
// patterns so that no memory read is ever attempted on garbage.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/debugmate/internal/backend"
	"github.com/dshills/debugmate/internal/chain"
	"github.com/dshills/debugmate/internal/model"
)

// cv::Mat::MAGIC_VAL occupies the high half of flags on every valid header.
const (
	matMagicMask = 0xFFFF0000
	matMagicVal  = 0x42FF0000
)

// Classifier classifies variables through a debug session.
type Classifier struct {
	eval           backend.Evaluator
	probeTimeout   time.Duration
	attemptTimeout time.Duration
	maxDimension   int64
	maxElements    int64
	logger         *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithProbeTimeout bounds the type probe and every dimension query.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Classifier) { c.probeTimeout = d }
}

// WithAttemptTimeout bounds each size candidate.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Classifier) { c.attemptTimeout = d }
}

// WithLimits sets the largest plausible dimension and element count.
// Anything larger is reported as Uninitialized.
func WithLimits(maxDimension, maxElements int64) Option {
	return func(c *Classifier) {
		c.maxDimension = maxDimension
		c.maxElements = maxElements
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) { c.logger = logger }
}

// New creates a Classifier evaluating through eval.
func New(eval backend.Evaluator, opts ...Option) *Classifier {
	c := &Classifier{
		eval:           eval,
		probeTimeout:   time.Second,
		attemptTimeout: 1500 * time.Millisecond,
		maxDimension:   1 << 20,
		maxElements:    1 << 28,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Subject returns the handle classification and resolution operate on: the
// pointee for pointer variables, the variable itself otherwise.
func Subject(h model.Handle) model.Handle {
	if !h.IsPointer {
		return h
	}
	if h.BaseType == "" {
		h.BaseType = PointeeType(h.DeclaredType)
	}
	return model.NewDeref(h).Target()
}

// PointeeType strips one level of pointer from a declared type.
func PointeeType(declared string) string {
	t := strings.TrimSpace(declared)
	t = strings.TrimSuffix(t, "const")
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "*")
	return strings.TrimSpace(t)
}

// Classify returns the shape of h. It never returns an error: failures to
// query the debuggee surface as Unsupported, invalid data as Uninitialized.
func (c *Classifier) Classify(ctx context.Context, h model.Handle, b backend.Backend) model.Shape {
	if ev, ok := c.invalid(h.Value, b); ok {
		return model.Uninitialized{Evidence: ev}
	}

	if h.IsPointer {
		if IsNullPointer(h.Value) {
			return model.Unsupported{Reason: "null pointer"}
		}
	}
	subject := Subject(h)

	sig := Match(subject.DeclaredType, b.Kind())
	if !sig.Matched && b.NeedsTypeProbe() {
		sig = c.probe(ctx, subject, b)
	}
	if !sig.Matched {
		return model.Unsupported{Reason: fmt.Sprintf("unrecognized type %q", subject.DeclaredType)}
	}

	switch sig.Family {
	case model.FamilyMat, model.FamilyMatTemplate:
		return c.classifyMat(ctx, subject, sig, b)
	case model.FamilyMatx:
		return matrixShape(sig.Rows, sig.Cols, sig.Channels, sig.Depth, sig.Family)
	default:
		return c.classifyVector(ctx, subject, sig, b)
	}
}

// probe asks the backend for the variable's type once. Any failure leaves
// the basic result in place.
func (c *Classifier) probe(ctx context.Context, h model.Handle, b backend.Backend) Signature {
	pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	expr := b.TypeProbeExpression(h.Expression)
	resp, err := c.eval.Evaluate(pctx, expr, h.FrameID, b.EvaluateContext())
	if err != nil {
		c.logger.Debug("type probe failed", "variable", h.Expression, "backend", b.Kind(), "error", err)
		return Signature{}
	}

	probed := resp.Type
	if strings.HasPrefix(expr, "&") {
		probed = PointeeType(probed)
	}
	c.logger.Debug("type probe", "variable", h.Expression, "type", probed)
	return Match(probed, b.Kind())
}

// invalid checks a value for sentinels and poison.
func (c *Classifier) invalid(value string, b backend.Backend) (string, bool) {
	if ev, ok := DetectSentinel(value, b.Sentinels()); ok {
		return ev, true
	}
	return DetectPoison(value)
}

// dimension is the outcome of one dimension query.
type dimension struct {
	n       int64
	invalid string
}

// query evaluates expr and parses it as an integer. A sentinel or poison
// value is a successful query with evidence attached.
func (c *Classifier) query(ctx context.Context, h model.Handle, b backend.Backend, expr string) (dimension, error) {
	resp, err := c.eval.Evaluate(ctx, expr, h.FrameID, b.EvaluateContext())
	if err != nil {
		return dimension{}, err
	}
	if ev, ok := c.invalid(resp.Result, b); ok {
		return dimension{invalid: fmt.Sprintf("%s = %s: %s", expr, resp.Result, ev)}, nil
	}
	n, ok := parseCount(resp.Result)
	if !ok {
		return dimension{}, fmt.Errorf("%s: not an integer: %q", expr, resp.Result)
	}
	return dimension{n: n}, nil
}

func (c *Classifier) field(ctx context.Context, h model.Handle, b backend.Backend, name string) (dimension, error) {
	qctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	return c.query(qctx, h, b, b.MatFieldExpression(h.Expression, name))
}

func (c *Classifier) classifyMat(ctx context.Context, h model.Handle, sig Signature, b backend.Backend) model.Shape {
	fields := map[string]dimension{}
	for _, name := range []string{"flags", "dims", "rows", "cols"} {
		d, err := c.field(ctx, h, b, name)
		if err != nil {
			return model.Unsupported{Reason: fmt.Sprintf("cannot read %s: %v", name, err)}
		}
		if d.invalid != "" {
			return model.Uninitialized{Evidence: d.invalid}
		}
		fields[name] = d
	}

	flags := uint32(fields["flags"].n)
	if flags&matMagicMask != matMagicVal {
		return model.Uninitialized{Evidence: fmt.Sprintf("flags = 0x%08x lacks the Mat magic value", flags)}
	}

	depth, channels := sig.Depth, sig.Channels
	if !sig.DepthKnown {
		var err error
		depth, err = model.DepthFromCode(int(flags & 7))
		if err != nil {
			return model.Unsupported{Reason: err.Error()}
		}
		channels = int((flags>>3)&511) + 1
	}

	dims, rows, cols := fields["dims"].n, fields["rows"].n, fields["cols"].n
	if dims > 2 {
		return model.Unsupported{Reason: fmt.Sprintf("%d-dimensional Mat", dims)}
	}
	if ev, ok := c.suspicious(rows, cols, channels); ok {
		return model.Uninitialized{Evidence: ev}
	}
	if dims == 0 {
		return model.Empty{Evidence: "dims = 0"}
	}
	return matrixShape(int(rows), int(cols), channels, depth, sig.Family)
}

// suspicious reports dimensions no real image has. Such values come from
// headers read before construction.
func (c *Classifier) suspicious(rows, cols int64, channels int) (string, bool) {
	switch {
	case rows < 0 || rows > c.maxDimension:
		return fmt.Sprintf("suspicious dimension rows = %d", rows), true
	case cols < 0 || cols > c.maxDimension:
		return fmt.Sprintf("suspicious dimension cols = %d", cols), true
	case rows*cols*int64(channels) > c.maxElements:
		return fmt.Sprintf("suspicious size %dx%dx%d", rows, cols, channels), true
	}
	return "", false
}

// matrixShape applies the tie-break rules to a matrix header.
func matrixShape(rows, cols, channels int, depth model.Depth, fam model.Family) model.Shape {
	if rows == 0 || cols == 0 {
		return model.Empty{Evidence: fmt.Sprintf("rows = %d, cols = %d", rows, cols)}
	}
	switch channels {
	case 1:
		if rows == 1 || cols == 1 {
			return model.Sequence{Element: depth, Count: rows * cols, Family: fam}
		}
	case 3, 4:
	default:
		return model.Unsupported{Reason: fmt.Sprintf("%d channels", channels)}
	}
	return model.NewMatrix(rows, cols, channels, depth, fam)
}

func (c *Classifier) classifyVector(ctx context.Context, h model.Handle, sig Signature, b backend.Backend) model.Shape {
	candidates := b.SizeCandidates(h.Expression)
	attempts := chain.Values(candidates, func(ctx context.Context, expr string) (dimension, error) {
		return c.query(ctx, h, b, expr)
	})

	d, idx, err := chain.FirstSuccess(ctx, c.attemptTimeout, attempts...)
	if err != nil {
		return model.Unsupported{Reason: fmt.Sprintf("cannot determine size: %v", err)}
	}
	c.logger.Debug("size resolved", "variable", h.Expression, "candidate", candidates[idx], "size", d.n)

	if d.invalid != "" {
		return model.Uninitialized{Evidence: d.invalid}
	}
	if d.n < 0 || d.n > c.maxElements {
		return model.Uninitialized{Evidence: fmt.Sprintf("suspicious dimension size = %d", d.n)}
	}
	if d.n == 0 {
		return model.Empty{Evidence: "size = 0"}
	}

	if sig.Family == model.FamilyPointVector {
		return model.PointCloud{Count: int(d.n), Wide: sig.Wide}
	}
	return model.Sequence{Element: sig.Depth, Count: int(d.n), Family: sig.Family}
}

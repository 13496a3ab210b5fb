package debug

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/debugmate/internal/debug/dap"
	"github.com/dshills/debugmate/internal/model"
)

// VariableSource enumerates scopes and variables.
type VariableSource interface {
	GetScopes(ctx context.Context, frameID int) ([]dap.Scope, error)
	GetVariables(ctx context.Context, variablesRef int) ([]dap.Variable, error)
}

// VariableInspector looks variables up in a frame and turns them into
// handles.
type VariableInspector struct {
	source VariableSource
	mu     sync.RWMutex

	// Cache of fetched variables by reference. References are only valid
	// while the debuggee stays stopped; call Clear on every stop.
	cache map[int][]dap.Variable
}

// NewVariableInspector creates a new variable inspector.
func NewVariableInspector(source VariableSource) *VariableInspector {
	return &VariableInspector{
		source: source,
		cache:  make(map[int][]dap.Variable),
	}
}

// GetVariables returns the variables for a scope or variable reference.
func (v *VariableInspector) GetVariables(ctx context.Context, variablesRef int) ([]dap.Variable, error) {
	v.mu.RLock()
	if cached, ok := v.cache[variablesRef]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	vars, err := v.source.GetVariables(ctx, variablesRef)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache[variablesRef] = vars
	v.mu.Unlock()
	return vars, nil
}

// FindVariable finds a variable by name in the non-expensive scopes of a
// frame, locals first.
func (v *VariableInspector) FindVariable(ctx context.Context, frameID int, name string) (*dap.Variable, error) {
	scopes, err := v.source.GetScopes(ctx, frameID)
	if err != nil {
		return nil, fmt.Errorf("get scopes: %w", err)
	}

	for _, scope := range scopes {
		if scope.Expensive || scope.VariablesReference == 0 {
			continue
		}
		vars, err := v.GetVariables(ctx, scope.VariablesReference)
		if err != nil {
			return nil, fmt.Errorf("get variables of %s: %w", scope.Name, err)
		}
		for i := range vars {
			if vars[i].Name == name {
				return &vars[i], nil
			}
		}
	}
	return nil, fmt.Errorf("variable %q not found in frame %d", name, frameID)
}

// Clear drops cached variables.
func (v *VariableInspector) Clear() {
	v.mu.Lock()
	v.cache = make(map[int][]dap.Variable)
	v.mu.Unlock()
}

// Handle builds the handle of a variable shown in a frame of a session.
func Handle(sessionID string, frameID int, v dap.Variable) model.Handle {
	expr := v.EvaluateName
	if expr == "" {
		expr = v.Name
	}
	base, isPtr := splitPointer(v.Type)
	return model.Handle{
		SessionID:          sessionID,
		FrameID:            frameID,
		Expression:         expr,
		DeclaredType:       v.Type,
		Value:              v.Value,
		IsPointer:          isPtr,
		BaseType:           base,
		VariablesReference: v.VariablesReference,
	}
}

// splitPointer reports whether t is a single-level pointer type and returns
// the pointee type. "T *", "T*" and "T * const" are pointers; function
// pointers and pointers to pointers are not treated as such.
func splitPointer(t string) (string, bool) {
	s := strings.TrimSpace(t)
	s = strings.TrimSuffix(s, " const")
	s = strings.TrimSpace(s)
	if !strings.HasSuffix(s, "*") || strings.Contains(s, "(") {
		return "", false
	}
	base := strings.TrimSpace(strings.TrimSuffix(s, "*"))
	if base == "" || strings.HasSuffix(base, "*") {
		return "", false
	}
	return base, true
}

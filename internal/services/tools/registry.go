// Package tools is the fixed set of named operations a decision collaborator may invoke.
// Every invocation is validated against the tool schema before its handler runs.
package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

// Outcome result of a tool handler. Output is returned to the collaborator as JSON,
// the other fields feed the cycle report.
type Outcome struct {
	Output   any
	Action   *domain.OptimizationAction
	Quotes   []domain.AprQuote
	Snapshot *domain.VaultSnapshot
}

// Handler executes a tool with validated arguments.
type Handler func(ctx context.Context, args Args) (Outcome, error)

// Tool named operation with its argument schema.
type Tool struct {
	Name        string
	Description string
	Schema      Schema
	Handler     Handler
}

// Registry closed dispatch table of tools.
type Registry struct {
	logger *zap.Logger
	tools  []Tool
	byName map[string]int
}

// NewRegistry creates a registry. Tool names must be unique.
func NewRegistry(logger *zap.Logger, tools ...Tool) (*Registry, error) {
	r := &Registry{logger: logger, byName: make(map[string]int, len(tools))}
	for _, t := range tools {
		if t.Name == "" || t.Handler == nil {
			return nil, errors.New("tool needs a name and a handler")
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, errors.Errorf("duplicate tool %s", t.Name)
		}
		r.byName[t.Name] = len(r.tools)
		r.tools = append(r.tools, t)
	}
	return r, nil
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	return append([]Tool(nil), r.tools...)
}

// Lookup returns a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// Invoke validates raw arguments and runs the tool.
func (r *Registry) Invoke(ctx context.Context, name string, raw json.RawMessage) (Outcome, Args, error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return Outcome{}, nil, domain.NewOpError(name, string(raw), domain.ErrUnknownTool, errors.Errorf("tool %q is not registered", name))
	}
	args, err := tool.Schema.Parse(raw)
	if err != nil {
		return Outcome{}, nil, domain.NewOpError(name, string(raw), domain.ErrSchemaValidation, err)
	}

	r.logger.Info("invoking tool", zap.String("tool", name), zap.String("args", args.Format()))

	out, err := tool.Handler(ctx, args)
	if err != nil {
		return Outcome{}, args, err
	}
	return out, args, nil
}

// NewSession starts recording invocations for one cycle.
func (r *Registry) NewSession() *Session {
	return &Session{registry: r}
}

// Session registry view that records what the collaborator did during one cycle.
type Session struct {
	registry *Registry

	mu       sync.Mutex
	actions  []domain.OptimizationAction
	failures []domain.ActionFailure
	quotes   []domain.AprQuote
	snapshot *domain.VaultSnapshot
	calls    int
}

// Tools returns the tools available to the collaborator.
func (s *Session) Tools() []Tool {
	return s.registry.Tools()
}

// Call invokes a tool and returns its JSON encoded output. Errors are recorded
// as failures and returned so the collaborator can see them.
func (s *Session) Call(ctx context.Context, name string, raw json.RawMessage) (string, error) {
	out, args, err := s.registry.Invoke(ctx, name, raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if err != nil {
		formatted := string(raw)
		if args != nil {
			formatted = args.Format()
		}
		s.failures = append(s.failures, domain.ActionFailure{Tool: name, Args: formatted, Error: err.Error()})
		s.registry.logger.Warn("tool failed", zap.String("tool", name), zap.String("args", formatted), zap.Error(err))
		return "", err
	}

	if out.Action != nil {
		s.actions = append(s.actions, *out.Action)
	}
	if len(out.Quotes) > 0 {
		s.quotes = mergeQuotes(s.quotes, out.Quotes)
	}
	if out.Snapshot != nil {
		snap := *out.Snapshot
		s.snapshot = &snap
	}

	encoded, err := json.Marshal(out.Output)
	if err != nil {
		return "", errors.Wrapf(err, "encode %s output", name)
	}
	return string(encoded), nil
}

// Calls returns the number of invocations.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Actions returns the actions that took effect.
func (s *Session) Actions() []domain.OptimizationAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OptimizationAction(nil), s.actions...)
}

// Failures returns the invocations that failed.
func (s *Session) Failures() []domain.ActionFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ActionFailure(nil), s.failures...)
}

// Quotes returns the latest quote seen for every placement.
func (s *Session) Quotes() []domain.AprQuote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AprQuote(nil), s.quotes...)
}

// Snapshot returns the last vault snapshot a tool read, if any.
func (s *Session) Snapshot() (domain.VaultSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return domain.VaultSnapshot{}, false
	}
	return *s.snapshot, true
}

// mergeQuotes replaces quotes of the same pool and asset, keeping first-seen order.
func mergeQuotes(existing, fresh []domain.AprQuote) []domain.AprQuote {
	for _, q := range fresh {
		replaced := false
		for i := range existing {
			if existing[i].Pool == q.Pool && existing[i].Asset == q.Asset {
				existing[i] = q
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, q)
		}
	}
	return existing
}

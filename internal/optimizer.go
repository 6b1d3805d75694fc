package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
	"github.com/vadiminshakov/vaultpilot/internal/services/agent"
	"github.com/vadiminshakov/vaultpilot/internal/services/policy"
	"github.com/vadiminshakov/vaultpilot/internal/services/tools"
)

// DefaultThreadID conversation thread shared by all scheduled cycles.
const DefaultThreadID = "automated-yield-optimization"

type snapshotReader interface {
	GetSnapshot(ctx context.Context) (domain.VaultSnapshot, error)
}

type rateBook interface {
	Quotes(ctx context.Context, asset common.Address) ([]domain.AprQuote, error)
}

type cycleStore interface {
	Save(result domain.CycleResult) (uint64, error)
}

type threadStore interface {
	Load(id string) (domain.Thread, error)
	Save(thread domain.Thread) error
}

type cyclePublisher interface {
	Publish(result domain.CycleResult)
}

// OptimizerDeps collaborators of the yield optimizer. Cycles, Threads and Publisher are optional.
type OptimizerDeps struct {
	Registry     *tools.Registry
	Collaborator agent.Collaborator
	Vault        snapshotReader
	Rates        rateBook
	Asset        domain.Token
	Tokens       []domain.Token
	Policy       policy.Policy
	ThreadID     string
	HistoryLimit int
	Cycles       cycleStore
	Threads      threadStore
	Publisher    cyclePublisher
}

// YieldOptimizer runs one optimization cycle: the collaborator inspects the vault through the
// tool registry, acts on it, and the outcome is re-read from chain and reported.
type YieldOptimizer struct {
	logger *zap.Logger
	deps   OptimizerDeps
	now    func() time.Time
}

// NewYieldOptimizer creates an optimizer.
func NewYieldOptimizer(logger *zap.Logger, deps OptimizerDeps) (*YieldOptimizer, error) {
	if deps.Registry == nil {
		return nil, errors.New("tool registry is nil")
	}
	if deps.Collaborator == nil {
		return nil, errors.New("decision collaborator is nil")
	}
	if deps.Vault == nil || deps.Rates == nil {
		return nil, errors.New("vault and rates readers are required")
	}
	if len(deps.Tokens) == 0 {
		return nil, errors.New("no tokens to monitor")
	}
	if deps.ThreadID == "" {
		deps.ThreadID = DefaultThreadID
	}

	return &YieldOptimizer{
		logger: logger,
		deps:   deps,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Cycle runs one cycle for the scheduler.
func (o *YieldOptimizer) Cycle(ctx context.Context) error {
	_, err := o.RunCycle(ctx)
	return err
}

// RunCycle runs one cycle and returns its report. The report is produced even when the
// collaborator fails, so actions taken before the failure are never lost.
func (o *YieldOptimizer) RunCycle(ctx context.Context) (domain.CycleResult, error) {
	result := domain.CycleResult{
		ID:        uuid.NewString(),
		StartedAt: o.now(),
		Model:     o.deps.Collaborator.Model(),
	}
	logger := o.logger.With(zap.String("cycle_id", result.ID), zap.String("model", result.Model))
	logger.Info("optimization cycle started")

	thread := o.loadThread(logger)
	instruction := agent.BuildInstruction(o.deps.Tokens, o.deps.Policy.Threshold())
	session := o.deps.Registry.NewSession()

	resp, invokeErr := o.deps.Collaborator.Invoke(ctx, agent.Request{
		Instruction: instruction,
		History:     thread.Turns,
		Session:     session,
	})
	if invokeErr != nil {
		logger.Error("decision collaborator failed", zap.Error(invokeErr), zap.Int("tool_calls", session.Calls()))
	}

	result.ActionsTaken = session.Actions()
	result.Failures = session.Failures()
	result.Narrative = resp.Narrative
	if invokeErr != nil && result.Narrative == "" {
		result.Narrative = fmt.Sprintf("cycle failed: %v", invokeErr)
	}

	// state is re-read from chain, actions are never assumed to have taken effect
	snapshot, readErr := o.deps.Vault.GetSnapshot(ctx)
	if readErr != nil {
		logger.Error("failed to re-query vault snapshot", zap.Error(readErr))
		if last, ok := session.Snapshot(); ok {
			snapshot = last
		}
	}
	result.Snapshot = snapshot

	result.Quotes = session.Quotes()
	if len(result.Quotes) == 0 {
		quotes, err := o.deps.Rates.Quotes(ctx, o.deps.Asset.Address)
		if err != nil {
			logger.Warn("failed to read quotes", zap.Error(err))
		}
		result.Quotes = quotes
	}

	result.FinishedAt = o.now()
	o.record(logger, result)
	if invokeErr == nil {
		o.saveThread(logger, thread, instruction, resp.Narrative, result.FinishedAt)
	}

	logger.Info("optimization cycle finished",
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)),
		zap.Int("actions", len(result.ActionsTaken)),
		zap.Int("failures", len(result.Failures)),
		zap.String("total_assets", result.Snapshot.TotalAssets.String()))

	if invokeErr != nil {
		return result, errors.Wrap(invokeErr, "decision collaborator")
	}
	if readErr != nil {
		return result, errors.Wrap(readErr, "re-query vault snapshot")
	}
	return result, nil
}

func (o *YieldOptimizer) loadThread(logger *zap.Logger) domain.Thread {
	if o.deps.Threads == nil {
		return domain.Thread{ID: o.deps.ThreadID}
	}
	thread, err := o.deps.Threads.Load(o.deps.ThreadID)
	if err != nil {
		logger.Warn("failed to load conversation thread, starting fresh", zap.String("thread_id", o.deps.ThreadID), zap.Error(err))
		return domain.Thread{ID: o.deps.ThreadID}
	}
	return thread
}

func (o *YieldOptimizer) saveThread(logger *zap.Logger, thread domain.Thread, instruction, narrative string, at time.Time) {
	if o.deps.Threads == nil {
		return
	}
	// an empty assistant turn would be rejected by the model API on the next cycle
	if narrative == "" {
		return
	}
	thread.ID = o.deps.ThreadID
	thread.Turns = append(thread.Turns,
		domain.Turn{Role: domain.RoleUser, Content: instruction, At: at},
		domain.Turn{Role: domain.RoleAssistant, Content: narrative, At: at},
	)
	thread.Trim(o.deps.HistoryLimit)
	if err := o.deps.Threads.Save(thread); err != nil {
		logger.Warn("failed to save conversation thread", zap.String("thread_id", thread.ID), zap.Error(err))
	}
}

func (o *YieldOptimizer) record(logger *zap.Logger, result domain.CycleResult) {
	if o.deps.Cycles != nil {
		if _, err := o.deps.Cycles.Save(result); err != nil {
			logger.Error("failed to save cycle report", zap.Error(err))
		}
	}
	if o.deps.Publisher != nil {
		o.deps.Publisher.Publish(result)
	}
}

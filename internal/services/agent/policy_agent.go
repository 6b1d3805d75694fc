package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
	"github.com/vadiminshakov/vaultpilot/internal/services/tools"
)

// PolicyModel model name reported by the deterministic collaborator.
const PolicyModel = "policy"

// PolicyAgent deterministic collaborator: reads state, asks evaluateReallocation
// for a proposal and executes it through the same tools a model would use.
type PolicyAgent struct {
	logger *zap.Logger
}

// NewPolicyAgent creates the deterministic collaborator.
func NewPolicyAgent(logger *zap.Logger) *PolicyAgent {
	return &PolicyAgent{logger: logger}
}

// Model implements Collaborator.
func (a *PolicyAgent) Model() string {
	return PolicyModel
}

type proposal struct {
	Actions []domain.OptimizationAction `json:"actions"`
	Reasons []string                    `json:"reasons"`
}

// Invoke implements Collaborator. The first failing action stops the run: later
// actions of a proposal depend on the earlier ones.
func (a *PolicyAgent) Invoke(ctx context.Context, req Request) (Response, error) {
	turns := 0
	call := func(name string, args any) (string, error) {
		turns++
		raw, err := json.Marshal(args)
		if err != nil {
			return "", errors.Wrapf(err, "encode %s arguments", name)
		}
		return req.Session.Call(ctx, name, raw)
	}

	if _, err := call(tools.NameGetVaultBalance, struct{}{}); err != nil {
		return Response{Turns: turns}, err
	}
	if _, err := call(tools.NameGetPoolAprs, struct{}{}); err != nil {
		return Response{Turns: turns}, err
	}
	out, err := call(tools.NameEvaluateReallocation, struct{}{})
	if err != nil {
		return Response{Turns: turns}, err
	}

	var p proposal
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		return Response{Turns: turns}, errors.Wrap(err, "decode reallocation proposal")
	}

	var narrative strings.Builder
	narrative.WriteString("Analysis: " + strings.Join(p.Reasons, "; ") + "\n")
	if len(p.Actions) == 0 {
		narrative.WriteString("No reallocation needed.\n")
	}

	for _, action := range p.Actions {
		_, err := call(action.Kind.String(), actionArgs(action))
		if err != nil {
			a.logger.Warn("proposed action failed, skipping the rest of the proposal",
				zap.Stringer("action", action), zap.Error(err))
			fmt.Fprintf(&narrative, "Action %s failed: %v\n", action, err)
			break
		}
		fmt.Fprintf(&narrative, "Executed %s\n", action)
	}

	final, err := call(tools.NameGetVaultBalance, struct{}{})
	if err != nil {
		return Response{Narrative: narrative.String(), Turns: turns}, err
	}
	var balance struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(final), &balance); err == nil {
		narrative.WriteString("Final positions:\n" + balance.Message)
	}

	return Response{Narrative: strings.TrimSpace(narrative.String()), Turns: turns}, nil
}

func actionArgs(action domain.OptimizationAction) map[string]any {
	args := map[string]any{"amount": action.Amount.String()}
	switch action.Kind {
	case domain.ActionDepositToPool, domain.ActionWithdrawFromPool:
		args["poolName"] = action.PoolName
	case domain.ActionAllocateToStrategy, domain.ActionWithdrawFromStrategy:
		args["strategyType"] = int(action.Strategy)
	}
	return args
}

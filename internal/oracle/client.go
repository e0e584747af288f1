// ABOUTME: OracleClient is the boundary interface ConsensusEngine queries, one call per (agent, model, cycle).
// ABOUTME: Implementations must be safe for concurrent use; ConsensusEngine fans out to the whole pool in parallel.
package oracle

import "context"

// Client queries one LLM oracle with a system prompt and conversation,
// returning its proposed action or a transient/permanent error. Concrete
// implementations enforce their own rate limiting; callers must pre-merge
// consecutive user-role Turns before the conversation reaches Query.
type Client interface {
	Query(ctx context.Context, modelID string, systemPrompt string, conversation []Turn, opts Opts) (Result, error)
}

// Family describes one model family's adapter routing and temperature policy.
// "Family" stands in for a vendor/provider tier (e.g. a permissive high-ceiling
// family vs. a restricted low-ceiling one) without hardcoding specific model
// version identifiers, since those churn independently of this runtime.
type Family struct {
	Name           string
	Provider       string
	MaxTemperature float64
	TempFloor      float64
}

// TemperatureForRound returns the temperature ConsensusEngine should use for
// refinement round n (0-indexed): each round steps down 20% of MaxTemperature,
// floored at TempFloor.
func (f Family) TemperatureForRound(round int) float64 {
	t := f.MaxTemperature - 0.2*f.MaxTemperature*float64(round)
	if t < f.TempFloor {
		return f.TempFloor
	}
	return t
}

// Pool is the ordered set of model identifiers ConsensusEngine must query
// every cycle, together with the family metadata needed for temperature policy.
type Pool struct {
	Models     []string
	FamilyOf   map[string]Family
}

// FamilyFor returns the Family for modelID, or a fallback Family named
// "default" with a MaxTemperature of 1.0 and a TempFloor of 0 if the model
// has no registered family (so an unconfigured model still gets a sane
// temperature).
func (p Pool) FamilyFor(modelID string) Family {
	if f, ok := p.FamilyOf[modelID]; ok {
		return f
	}
	return Family{Name: "default", MaxTemperature: 1.0, TempFloor: 0.0}
}

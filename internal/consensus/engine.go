// ABOUTME: ConsensusEngine: parallel oracle fan-out, clustering, tie-break, refinement rounds, forced decisions.
// ABOUTME: Fan-out uses errgroup.SetLimit in place of the pipeline engine's hand-rolled semaphore+WaitGroup.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389-research/quoracle/internal/oracle"
)

// ErrNoResponses is returned when every oracle in the pool failed in a round
// (all transient/permanent errors) and no cluster could be formed at all.
var ErrNoResponses = errors.New("consensus: no usable responses from oracle pool")

// Config tunes one ConsensusEngine's cycle behavior.
type Config struct {
	// MaxRounds bounds refinement rounds (round 0 is the first fan-out; a
	// value of 0 means never refine — always force a decision on round 0).
	MaxRounds int
	// Threshold is the minimum winning-cluster share (size / successful
	// responses) to accept as consensus rather than refine or force.
	Threshold float64
	// PerQueryTimeout bounds each individual OracleClient.Query call.
	PerQueryTimeout time.Duration
	// TotalTimeout bounds an entire fan-out round across all models.
	TotalTimeout time.Duration
	// Priorities ranks action names for the winner tie-break chain.
	Priorities PriorityTable
}

// DefaultConfig returns conservative defaults: up to 2 refinement rounds, a
// simple-majority threshold, generous per-call and per-round timeouts.
func DefaultConfig() Config {
	return Config{
		MaxRounds:       2,
		Threshold:       0.5,
		PerQueryTimeout: 60 * time.Second,
		TotalTimeout:    90 * time.Second,
	}
}

// Engine runs consensus cycles against a fixed oracle pool.
type Engine struct {
	Client oracle.Client
	Pool   oracle.Pool
	Config Config
}

// New constructs an Engine with the given client, pool, and config.
func New(client oracle.Client, pool oracle.Pool, cfg Config) *Engine {
	return &Engine{Client: client, Pool: pool, Config: cfg}
}

// Run executes the full ConsensusEngine algorithm for one decision cycle:
// fan-out, parse, cluster, tie-break winner selection, refine, and finally
// force a decision if rounds are exhausted without reaching Threshold.
// histories is keyed by model ID and is mutated in place (refinement turns
// during the cycle, a final decision entry once the cycle settles).
func (e *Engine) Run(ctx context.Context, systemPrompt string, histories map[string]*History) (Outcome, error) {
	if len(e.Pool.Models) == 0 {
		return Outcome{}, fmt.Errorf("consensus: empty oracle pool")
	}

	var round int
	for {
		responses := e.fanOut(ctx, systemPrompt, histories, round)

		clusters := clusterResponses(responses)
		if len(clusters) == 0 {
			return Outcome{}, ErrNoResponses
		}

		winner := selectWinner(clusters, e.Config.Priorities)
		successCount := countOK(responses)
		share := float64(winner.size()) / float64(successCount)

		settled := share >= e.Config.Threshold || round >= e.Config.MaxRounds
		if settled {
			kind := KindConsensus
			if share < e.Config.Threshold {
				kind = KindForcedDecision
			}
			e.recordFinalDecisions(histories, responses, round)
			return Outcome{
				Kind:        kind,
				Action:      winner.representative(),
				Round:       round,
				ClusterSize: winner.size(),
				PoolSize:    len(e.Pool.Models),
			}, nil
		}

		e.appendRefinementContext(histories, clusters)
		round++
	}
}

// fanOut issues one OracleClient.Query per pool model in parallel, bounded
// by errgroup.SetLimit(len(pool)) and a shared total-round timeout.
func (e *Engine) fanOut(ctx context.Context, systemPrompt string, histories map[string]*History, round int) []Response {
	roundCtx := ctx
	var cancel context.CancelFunc
	if e.Config.TotalTimeout > 0 {
		roundCtx, cancel = context.WithTimeout(ctx, e.Config.TotalTimeout)
		defer cancel()
	}

	responses := make([]Response, len(e.Pool.Models))
	g, gctx := errgroup.WithContext(roundCtx)
	g.SetLimit(len(e.Pool.Models))

	for i, modelID := range e.Pool.Models {
		i, modelID := i, modelID
		g.Go(func() error {
			h := histories[modelID]
			var conv []oracle.Turn
			if h != nil {
				conv = h.Conversation()
			}

			family := e.Pool.FamilyFor(modelID)
			opts := oracle.Opts{
				Temperature: family.TemperatureForRound(round),
				Timeout:     e.Config.PerQueryTimeout,
			}

			result, err := e.Client.Query(gctx, modelID, systemPrompt, conv, opts)
			if err != nil {
				responses[i] = Response{ModelID: modelID, Err: err}
				return nil // a failed oracle is a "no answer", not a fan-out failure
			}
			responses[i] = Response{ModelID: modelID, Action: result.Action, Tokens: result.Tokens}
			return nil
		})
	}

	_ = g.Wait() // errors are carried per-response; g itself never returns one
	return responses
}

func countOK(responses []Response) int {
	n := 0
	for _, r := range responses {
		if r.OK() {
			n++
		}
	}
	return n
}

// recordFinalDecisions appends each model's own last-round proposal to its
// own history, preserving per-model divergence even when another model's
// proposal won. Models that errored on the final round contribute nothing.
func (e *Engine) recordFinalDecisions(histories map[string]*History, responses []Response, round int) {
	temps := map[string]float64{}
	for _, modelID := range e.Pool.Models {
		temps[modelID] = e.Pool.FamilyFor(modelID).TemperatureForRound(round)
	}
	for _, r := range responses {
		if !r.OK() {
			continue
		}
		h, ok := histories[r.ModelID]
		if !ok {
			continue
		}
		h.AppendDecision(DecisionEntry{Round: round, Action: r.Action, Temperature: temps[r.ModelID]})
	}
}

// appendRefinementContext builds a deliberative summary of this round's
// distinct proposals (one line per cluster, unattributed to any model) and
// appends it as a user turn to every model's history ahead of the next round.
func (e *Engine) appendRefinementContext(histories map[string]*History, clusters []cluster) {
	sorted := append([]cluster(nil), clusters...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].size() > sorted[j].size() })

	var b strings.Builder
	b.WriteString("The oracle pool did not converge. Distinct proposals this round:\n")
	for _, c := range sorted {
		a := c.representative()
		fmt.Fprintf(&b, "- %s (proposed by %d of %d): %s\n", a.Name, c.size(), len(e.Pool.Models), a.Reasoning)
	}
	b.WriteString("Reconsider your proposal in light of the above.")

	text := b.String()
	for _, h := range histories {
		h.AppendDeliberation(text)
	}
}

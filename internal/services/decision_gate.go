package services

import (
	"context"
	"fmt"

	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/scorer"
	"github.com/sirupsen/logrus"
)

// Scorer is the part of the scoring service the gate depends on.
type Scorer interface {
	Score(ctx context.Context, req scorer.ScoreRequest) (scorer.Score, error)
}

// DecisionGate enriches opportunities with a success probability and
// decides whether they may be dispatched. It fails closed: any scoring
// problem leaves the opportunity unscored with pSuccess 0.
type DecisionGate struct {
	scorer   Scorer
	breaker  *CircuitBreaker
	timeouts *TimeoutManager
	logger   *logrus.Logger
}

func NewDecisionGate(s Scorer, breaker *CircuitBreaker, timeouts *TimeoutManager, logger *logrus.Logger) *DecisionGate {
	return &DecisionGate{scorer: s, breaker: breaker, timeouts: timeouts, logger: logger}
}

// Evaluate scores opp and returns the enriched copy. It never returns an error.
func (g *DecisionGate) Evaluate(ctx context.Context, opp models.Opportunity, market models.MarketContext, similarity string) models.Opportunity {
	out := opp.Snapshot()
	out.SimilarityContext = similarity
	out.Scored = false
	out.PSuccess = 0

	var score scorer.Score
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.timeouts.ExecuteWithTimeout(ctx, OpScorer, func(ctx context.Context) error {
			var err error
			score, err = g.scorer.Score(ctx, scorer.ScoreRequest{
				Opportunity:       out,
				MarketContext:     market,
				SimilarityContext: similarity,
			})
			return err
		})
	})
	if err != nil {
		out.Rationale = fmt.Sprintf("scoring unavailable: %v", err)
		g.logger.WithFields(logrus.Fields{
			"stage":    "decide",
			"route":    opp.Route.Symbol,
			"strategy": string(opp.Strategy),
		}).WithError(err).Warn("Opportunity scoring failed, treating as rejected")
		return out
	}

	out.Scored = true
	out.PSuccess = score.PSuccess
	out.Rationale = score.Rationale
	out.Channel = score.Channel
	if score.Size.IsPositive() {
		out.LoanAmount = score.Size
	}
	return out
}

// Approve reports whether a scored opportunity may be dispatched.
func (g *DecisionGate) Approve(opp models.Opportunity, threshold float64, mode models.RiskMode) bool {
	return opp.Scored && opp.PSuccess >= threshold && mode == models.RiskModeActive
}

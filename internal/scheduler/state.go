// Package scheduler drives the per-window crawl loop: acquire a token, fetch
// every target, evaluate the pass, then back off or finish.
package scheduler

import "github.com/JakeFAU/statute-crawler/internal/statute"

// State is a step of the window state machine.
type State int

// Window states.
const (
	StateIdle State = iota
	StateAcquiring
	StateFetching
	StateEvaluating
	StateBackoff
	StateReplenishing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateFetching:
		return "fetching"
	case StateEvaluating:
		return "evaluating"
	case StateBackoff:
		return "backoff"
	case StateReplenishing:
		return "replenishing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Decision is the verdict on a finished pass.
type Decision int

// Pass decisions.
const (
	DecisionDone Decision = iota
	DecisionEvict
	DecisionBackoff
)

func (d Decision) String() string {
	switch d {
	case DecisionDone:
		return "done"
	case DecisionEvict:
		return "evict"
	default:
		return "backoff"
	}
}

// Decide evaluates a pass. A pass with no failures finishes the window. A
// pass with no successes, or whose failure ratio exceeds threshold, blames
// the token.
func Decide(outcome statute.BatchOutcome, threshold float64) Decision {
	switch {
	case outcome.Failures == 0:
		return DecisionDone
	case outcome.Successes == 0, outcome.FailureRatio() > threshold:
		return DecisionEvict
	default:
		return DecisionBackoff
	}
}

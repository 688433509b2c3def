package completion

import (
	"context"

	"github.com/qmuntal/stateless"
)

// Call phases. The four terminal phases map one to one onto an Outcome.
type phase string

const (
	phaseNotStarted       phase = "NotStarted"
	phaseAttempting       phase = "Attempting"
	phaseSucceeded        phase = "Succeeded"
	phaseNonRetryable     phase = "NonRetryable"
	phaseRetriesExhausted phase = "RetriesExhausted"
	phaseTimeout          phase = "Timeout"
)

type trigger string

const (
	triggerAttempt   trigger = "Attempt"
	triggerRetry     trigger = "Retry"
	triggerReplied   trigger = "Replied"
	triggerRejected  trigger = "Rejected"
	triggerExhausted trigger = "Exhausted"
	triggerDeadline  trigger = "Deadline"
)

var phaseOutcomes = map[phase]Outcome{
	phaseSucceeded:        OutcomeSucceeded,
	phaseNonRetryable:     OutcomeNonRetryable,
	phaseRetriesExhausted: OutcomeRetriesExhausted,
	phaseTimeout:          OutcomeTimeout,
}

// newCallMachine builds the state machine of one completion call.
// onAttempt runs every time Attempting is entered, with the retry counter
// passed to Fire.
//
//	NotStarted -> Attempting -> Succeeded | NonRetryable | RetriesExhausted | Timeout
//	Attempting -> Attempting (Retry)
//	NotStarted -> Timeout (deadline already gone)
func newCallMachine(onAttempt func(ctx context.Context, retries int)) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(phaseNotStarted)

	fsm.Configure(phaseNotStarted).
		Permit(triggerAttempt, phaseAttempting).
		Permit(triggerDeadline, phaseTimeout)

	fsm.Configure(phaseAttempting).
		OnEntry(func(ctx context.Context, args ...any) error {
			retries := 0
			if len(args) > 0 {
				if n, ok := args[0].(int); ok {
					retries = n
				}
			}
			onAttempt(ctx, retries)
			return nil
		}).
		PermitReentry(triggerRetry).
		Permit(triggerReplied, phaseSucceeded).
		Permit(triggerRejected, phaseNonRetryable).
		Permit(triggerExhausted, phaseRetriesExhausted).
		Permit(triggerDeadline, phaseTimeout)

	return fsm
}

// outcomeOf returns the outcome for the machine's current phase; ok is false
// while the call has not reached a terminal phase.
func outcomeOf(fsm *stateless.StateMachine) (Outcome, bool) {
	p, _ := fsm.MustState().(phase)
	o, ok := phaseOutcomes[p]
	return o, ok
}

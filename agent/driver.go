// Package agent defines the out-of-scope collaborator contract consumed
// by the RunLoop's built-in agent:run task handler. The concrete
// tool-calling loop inside a single agent turn is explicitly out of this
// module's scope; this package only fixes the shape a collaborator must
// have to plug into the RunLoop: a Task carries whatever a Driver needs
// to run one turn, and the Result's Reply routes back to the Task's
// origin.
package agent

import (
	"context"
	"encoding/json"
)

// Run is one invocation of an AgentDriver: the payload of an agent:run
// Task, and the correlation id so the driver can thread follow-up tasks
// through the same chain.
type Run struct {
	TaskType      string
	CorrelationID string
	Payload       json.RawMessage
}

// Result is what an AgentDriver hands back to the agent:run handler. A
// non-empty Reply is routed to the originating Task's ReplyAddress; the
// tool-calling loop that produced it is entirely the driver's concern.
type Result struct {
	Reply string
}

// Driver is the abstract collaborator a concrete LLM agent loop
// implements. The RunLoop core never constructs one itself — callers
// wire a Driver into the agent:run TaskHandler at startup.
type Driver interface {
	// Name identifies this driver for logging and metrics attribution.
	Name() string
	// Run executes one agent turn for r and returns its Result. Errors
	// follow the same transient/terminal classification as any other
	// TaskHandler: wrap in a terminal error type to dead-letter without
	// retrying, otherwise the caller's classification treats it as
	// retryable.
	Run(ctx context.Context, r Run) (Result, error)
}

// Handler adapts a Driver to an autohands.TaskHandler-shaped function
// (kept untyped here to avoid importing the root package purely for a
// function signature; callers wire this at the call site, e.g.:
//
//	pool.RegisterHandler("agent:run", func(ctx context.Context, t *autohands.Task) (string, error) {
//	    res, err := driver.Run(ctx, agent.Run{TaskType: t.TaskType, CorrelationID: t.CorrelationID, Payload: t.Payload})
//	    return res.Reply, err
//	})
func Handler(d Driver) func(ctx context.Context, taskType, correlationID string, payload json.RawMessage) (string, error) {
	return func(ctx context.Context, taskType, correlationID string, payload json.RawMessage) (string, error) {
		res, err := d.Run(ctx, Run{TaskType: taskType, CorrelationID: correlationID, Payload: payload})
		if err != nil {
			return "", err
		}
		return res.Reply, nil
	}
}

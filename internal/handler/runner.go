// Package handler implements the routing engine and handler state machine
// described in spec.md §4.5: reject-and-ignore, control, and data dispatch
// over every frame a link delivers, plus the Runner contract each agent
// binary plugs its business logic in through.
package handler

import (
	"context"

	"github.com/openportal/mesh/internal/job"
)

// Runner is the one integration point the core requires from each binary
// (spec.md §4.5/§6). Input is an Envelope; output is the finished job
// (Complete or Error) — it may not return a pending/running job. A runner
// may issue sub-jobs by constructing a destination-prefixed job and
// submitting it through Handler.Submit, and is free to await those; the
// Envelope carries no handle for this, so such a runner holds its own
// reference to the agent's Handler. It must be safe to invoke concurrently for distinct job IDs; the
// handler only serialises per-link.
type Runner interface {
	Run(ctx context.Context, env job.Envelope) (job.Job, error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, env job.Envelope) (job.Job, error)

func (f RunnerFunc) Run(ctx context.Context, env job.Envelope) (job.Job, error) {
	return f(ctx, env)
}

package quickjs

import (
	"io"
)

// JobFunc is a queued job. args are borrowed; the returned value is released by the runtime.
type JobFunc func(ctx *Context, args []Value) Value

type job struct {
	ctx  *Context
	fn   JobFunc
	args []JSValue
}

// EnqueueJob queues fn to run on ctx with copies of args. Jobs only run when the host calls
// ExecutePendingJob or ExecuteAllPendingJobs.
func (r *Runtime) EnqueueJob(ctx *Context, fn JobFunc, args ...Value) {
	r.mustOwn()
	j := job{ctx: ctx, fn: fn, args: make([]JSValue, len(args))}
	for i, a := range args {
		j.args[i] = r.dup(ctx.raw(a))
	}
	r.jobs = append(r.jobs, j)
}

// IsJobPending returns true if there is a pending job.
func (r *Runtime) IsJobPending() bool {
	r.mustOwn()
	return len(r.jobs) > 0
}

// ExecutePendingJob runs at most one pending job. It returns io.EOF when the queue is empty,
// and the exception raised by the job as an error otherwise.
func (r *Runtime) ExecutePendingJob() (*Context, error) {
	r.mustOwn()
	if len(r.jobs) == 0 {
		return nil, io.EOF
	}
	j := r.jobs[0]
	r.jobs = r.jobs[1:]
	ctx := j.ctx
	defer func() {
		for _, a := range j.args {
			r.free(a)
		}
	}()
	if ctx.closed {
		return ctx, ErrRuntimeClosed
	}

	args := make([]Value, len(j.args))
	for i, a := range j.args {
		args[i] = ctx.wrap(a)
	}
	var res Value
	if ctx.runHook(func() error {
		res = j.fn(ctx, args)
		return nil
	}) == hookFailed {
		if res.ctx != nil {
			res.Free()
		}
		return ctx, ctx.Exception()
	}
	if res.ctx != nil {
		res.Free()
	}
	return ctx, nil
}

// ExecuteAllPendingJobs runs jobs until the queue is empty, including jobs queued by jobs. It
// stops at the first job that throws.
func (r *Runtime) ExecuteAllPendingJobs() error {
	for r.IsJobPending() {
		if _, err := r.ExecutePendingJob(); err != nil {
			return err
		}
	}
	return nil
}

package worker

import "context"

// Job represents a unit of work run by a Pool.
type Job interface {
	// Execute runs the job. The context is cancelled when the pool stops or the job times out.
	Execute(ctx context.Context) error

	// Key identifies what the job works on, for logs and spans.
	Key() string

	// Description returns a human-readable description of the job
	Description() string
}

// Func adapts a function to the Job interface.
type Func struct {
	ID   string
	Desc string
	Fn   func(ctx context.Context) error
}

func (f Func) Execute(ctx context.Context) error { return f.Fn(ctx) }
func (f Func) Key() string                       { return f.ID }
func (f Func) Description() string               { return f.Desc }

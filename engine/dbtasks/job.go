package dbtasks

import (
	"context"
	"fmt"

	"github.com/xiaonanln/otworld/engine/storage"
)

// Routine is the blocking body of a database job, it must never touch world state
type Routine func(ctx context.Context, engine storage.Engine) (res interface{}, err error)

// Callback is the continuation of a database job, it runs on the dispatcher goroutine
type Callback func(res interface{}, err error)

// Job is a blocking storage operation and its continuation
type Job struct {
	Name string
	// Key serializes jobs: jobs with the same non-empty Key run one at a time in submission order
	Key      string
	Routine  Routine
	Callback Callback
}

func (job *Job) String() string {
	if job.Key != "" {
		return fmt.Sprintf("Job<%s:%s>", job.Name, job.Key)
	}
	return fmt.Sprintf("Job<%s>", job.Name)
}

// Error is the error passed to the continuation when a job fails
type Error struct {
	Job       string
	Key       string
	Attempts  int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("db job %s failed after %d attempt(s): %s", e.Job, e.Attempts, e.Err)
}

// Cause returns the storage error, for errors.Cause
func (e *Error) Cause() error {
	return e.Err
}

func (e *Error) Unwrap() error {
	return e.Err
}

package cron

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Job is one maintenance task run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f JobFunc) Name() string                  { return f.JobName }
func (f JobFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

var errUnnamedJob = errors.New("cron job has no name")

// Registry keeps jobs in registration order under unique names.
type Registry struct {
	jobs []Job
}

// NewRegistry panics when two jobs share a name since that is a wiring bug.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			panic(err)
		}
	}
	return r
}

// Register appends job. Nil jobs are ignored.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := job.Name()
	if strings.TrimSpace(name) == "" {
		return errUnnamedJob
	}
	if slices.ContainsFunc(r.jobs, func(j Job) bool { return j.Name() == name }) {
		return fmt.Errorf("cron job %q already registered", name)
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *Registry) Jobs() []Job {
	return slices.Clone(r.jobs)
}

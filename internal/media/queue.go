package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is a snapshot of one background import.
type Job struct {
	ID         string        `json:"id"`
	Label      string        `json:"label"`
	Status     JobStatus     `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Result     *ImportResult `json:"result,omitempty"`
	Summary    string        `json:"summary,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ImportFunc is the work a job runs.
type ImportFunc func(ctx context.Context) (*ImportResult, error)

// ImportQueue runs imports in the background, one at a time. A request made
// while another import is running is refused instead of queued.
type ImportQueue struct {
	logger  zerolog.Logger
	keep    int
	mu      sync.Mutex
	running string
	cancel  context.CancelFunc
	jobs    map[string]*Job
	order   []string
	done    map[string]chan struct{}
}

func NewImportQueue(logger zerolog.Logger) *ImportQueue {
	return &ImportQueue{
		logger: logger,
		keep:   50,
		jobs:   make(map[string]*Job),
		done:   make(map[string]chan struct{}),
	}
}

func (q *ImportQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running != ""
}

// Start launches fn unless an import is already running, in which case it
// returns the running job and false.
func (q *ImportQueue) Start(label string, fn ImportFunc) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running != "" {
		return *q.jobs[q.running], false
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.NewString(),
		Label:     label,
		Status:    JobRunning,
		StartedAt: time.Now(),
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.done[job.ID] = make(chan struct{})
	q.running = job.ID
	q.cancel = cancel
	q.trimLocked()

	go q.run(ctx, job.ID, fn)

	return *job, true
}

func (q *ImportQueue) run(ctx context.Context, id string, fn ImportFunc) {
	res, err := fn(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.jobs[id]
	now := time.Now()
	job.FinishedAt = &now
	job.Result = res
	if res != nil {
		job.Summary = res.Summary()
	}

	switch {
	case err == nil:
		job.Status = JobDone
	case errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled):
		job.Status = JobCancelled
	default:
		job.Status = JobFailed
		job.Error = err.Error()
		q.logger.Error().Err(err).Str("job", id).Str("label", job.Label).Msg("import failed")
	}

	q.running = ""
	q.cancel()
	q.cancel = nil
	close(q.done[id])
}

// Get returns a snapshot of the job.
func (q *ImportQueue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns the retained jobs, oldest first.
func (q *ImportQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]Job, 0, len(q.order))
	for _, id := range q.order {
		jobs = append(jobs, *q.jobs[id])
	}
	return jobs
}

// Cancel stops the running import, if any.
func (q *ImportQueue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		q.cancel()
	}
}

// Wait blocks until the job finishes or ctx ends.
func (q *ImportQueue) Wait(ctx context.Context, id string) (Job, error) {
	q.mu.Lock()
	done, ok := q.done[id]
	q.mu.Unlock()
	if !ok {
		return Job{}, errors.New("unknown job " + id)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
	job, _ := q.Get(id)
	return job, nil
}

// trimLocked forgets the oldest finished jobs beyond the retention limit.
func (q *ImportQueue) trimLocked() {
	for len(q.order) > q.keep {
		id := q.order[0]
		if id == q.running {
			return
		}
		q.order = q.order[1:]
		delete(q.jobs, id)
		delete(q.done, id)
	}
}

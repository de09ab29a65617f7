package service

import (
	"context"
	"log/slog"

	"github.com/allais-space/chatkit/internal/config"
)

type persistJob struct {
	name string
	run  func(ctx context.Context) error
}

// persistQueue runs persistence work on a single background worker so the
// caller never blocks on the store. Jobs execute in enqueue order. Failures
// are logged and reported through the optional onResult hook; they never
// roll back in-memory state.
type persistQueue struct {
	jobs     chan persistJob
	done     chan struct{}
	onResult func(job string, err error)
}

func newPersistQueue(size int, onResult func(job string, err error)) *persistQueue {
	q := &persistQueue{
		jobs:     make(chan persistJob, size),
		done:     make(chan struct{}),
		onResult: onResult,
	}
	go q.run()
	return q
}

func (q *persistQueue) run() {
	defer close(q.done)
	for job := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), config.PersistTimeout)
		err := job.run(ctx)
		cancel()
		if err != nil {
			slog.Error("background persistence failed", "job", job.name, "error", err)
		}
		if q.onResult != nil {
			q.onResult(job.name, err)
		}
	}
}

// Enqueue queues a job; blocks only when the buffer is full.
func (q *persistQueue) Enqueue(name string, run func(ctx context.Context) error) {
	q.jobs <- persistJob{name: name, run: run}
}

// Close drains queued jobs and stops the worker.
func (q *persistQueue) Close() {
	close(q.jobs)
	<-q.done
}

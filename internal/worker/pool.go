// Package worker provides a parallel image separation worker pool.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/colordeconv/internal/pipeline"
)

// Separator is the interface for processing one input image.
// This matches the signature of pipeline.Separator.Separate.
type Separator interface {
	Separate(ctx context.Context, input string, force bool, suffix string) (pipeline.Output, error)
}

// Task represents a single image to separate.
type Task struct {
	Input  string
	Force  bool
	Suffix string
}

// Result represents the outcome of a task.
type Result struct {
	Task    Task
	Output  pipeline.Output
	Err     error
	Elapsed time.Duration
}

// ProgressFunc is called after each task completes with that task's result.
type ProgressFunc func(last Result, completed, total, failed int)

// Config configures the worker pool.
type Config struct {
	Workers    int
	Separator  Separator
	OnProgress ProgressFunc
}

// Pool manages parallel image separation.
type Pool struct {
	workers    int
	separator  Separator
	onProgress ProgressFunc
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		separator:  cfg.Separator,
		onProgress: cfg.OnProgress,
	}
}

// Run executes all tasks and returns one result per task, in completion order.
// The function blocks until all tasks complete or the context is cancelled;
// tasks not yet started when the context is cancelled report ctx.Err().
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan Task, len(tasks))
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, taskCh, resultCh)
		}()
	}

	// taskCh is buffered for every task, so feeding never blocks
	for _, task := range tasks {
		taskCh <- task
	}
	close(taskCh)

	results := make([]Result, 0, len(tasks))
	done := make(chan struct{})

	go func() {
		failed := 0
		for result := range resultCh {
			results = append(results, result)
			if result.Err != nil {
				failed++
			}
			if p.onProgress != nil {
				p.onProgress(result, len(results), len(tasks), failed)
			}
		}
		close(done)
	}()

	wg.Wait()
	close(resultCh)
	<-done

	return results
}

// worker processes tasks from the task channel and sends results to the result channel.
func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result) {
	for task := range tasks {
		if err := ctx.Err(); err != nil {
			results <- Result{Task: task, Err: err}
			continue
		}

		start := time.Now()
		out, err := p.separator.Separate(ctx, task.Input, task.Force, task.Suffix)

		results <- Result{
			Task:    task,
			Output:  out,
			Err:     err,
			Elapsed: time.Since(start),
		}
	}
}

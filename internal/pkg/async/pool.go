// Package async runs independent read tasks on a bounded set of goroutines.
package async

import (
	"context"
	"fmt"
	"sync"
)

type Task struct {
	Name    string
	Execute func() (any, error)
}

type Result struct {
	Name string
	Data any
	Err  error
}

// Pool bounds how many tasks of one Execute call run at once. A Pool holds no
// state between calls and may be shared.
type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

// Execute runs tasks and returns their results keyed by name. When ctx is
// cancelled it returns the results gathered so far; tasks already running
// finish in the background without blocking.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	queue := make(chan Task)
	// Buffered so workers never block on a caller that stopped collecting.
	results := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount && i < len(tasks); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				results <- run(task)
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, task := range tasks {
			select {
			case queue <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	collected := make(map[string]Result, len(tasks))
	for len(collected) < len(tasks) {
		select {
		case result := <-results:
			collected[result.Name] = result
		case <-ctx.Done():
			return collected
		}
	}

	wg.Wait()
	return collected
}

func run(task Task) (result Result) {
	result.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	result.Data, result.Err = task.Execute()
	return result
}

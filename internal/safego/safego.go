// Package safego launches background goroutines that survive panics.
package safego

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Go runs fn in a new goroutine, logging instead of crashing on panic. name
// identifies the worker in the log line.
func Go(name string, fn func()) {
	go run(name, fn)
}

func run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine",
				"worker", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Group runs named workers and waits for all of them. Unlike errgroup it neither
// cancels nor propagates panics: a panicking worker is logged and counted as done.
type Group struct {
	wg sync.WaitGroup
}

// Go starts fn as part of the group
func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(name, fn)
	}()
}

// Wait blocks until every worker has returned
func (g *Group) Wait() {
	g.wg.Wait()
}

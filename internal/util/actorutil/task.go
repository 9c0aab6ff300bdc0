package actorutil

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/primetalk/goio/io"
)

// SafeBackgroundTask runs fn outside of the actor and pipes its result back
// as a message. Panics and timeouts become errors handed to Recover.
type SafeBackgroundTask[T any] struct {
	ctx     actor.Context
	parent  context.Context
	fn      func(context.Context) T
	timeout time.Duration
	recover func(error) T
}

func NewBackgroundTask[T any](ctx actor.Context, fn func(context.Context) T) *SafeBackgroundTask[T] {
	return &SafeBackgroundTask[T]{
		ctx:    ctx,
		parent: context.Background(),
		fn:     fn,
	}
}

// WithContext sets the parent of the context passed to fn.
func (t *SafeBackgroundTask[T]) WithContext(parent context.Context) *SafeBackgroundTask[T] {
	t.parent = parent
	return t
}

// WithTimeout bounds the task. The context passed to fn is cancelled once the
// timeout fires. Zero means no timeout.
func (t *SafeBackgroundTask[T]) WithTimeout(timeout time.Duration) *SafeBackgroundTask[T] {
	t.timeout = timeout
	return t
}

func (t *SafeBackgroundTask[T]) Recover(fn func(error) T) *SafeBackgroundTask[T] {
	t.recover = fn
	return t
}

// PipeTo runs the task and sends the result to pid. A failed task without
// Recover sends nothing.
func (t *SafeBackgroundTask[T]) PipeTo(pid *actor.PID) {
	if value, ok := t.run(); ok {
		t.ctx.Send(pid, value)
	}
}

func (t *SafeBackgroundTask[T]) run() (T, bool) {
	runCtx, cancel := context.WithCancel(t.parent)
	// fn may still be running after a timeout
	defer cancel()

	task := io.Eval(func() (T, error) {
		return t.fn(runCtx), nil
	})
	if t.timeout > 0 {
		task = io.WithTimeout[T](t.timeout)(task)
	}
	result := io.RunSync(task)
	if result.Error == nil {
		return result.Value, true
	}
	if t.recover == nil {
		var zero T
		return zero, false
	}
	return t.recover(result.Error), true
}

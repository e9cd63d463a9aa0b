package concurrency

import (
	"context"
	"sync"
)

// Future es el resultado de una operación asíncrona. Se completa una sola vez;
// las llamadas posteriores a Complete se ignoran.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture crea un future pendiente.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed devuelve un future ya resuelto con value.
func Completed[T any](value T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(value, nil)
	return f
}

// Failed devuelve un future ya resuelto con err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	var zero T
	f.Complete(zero, err)
	return f
}

// Complete resuelve el future. Devuelve false si ya estaba resuelto.
func (f *Future[T]) Complete(value T, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}

// Fail es un shortcut para Complete(zero, err).
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.Complete(zero, err)
}

// Done se cierra cuando el future queda resuelto.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// IsDone indica si el future ya fue resuelto, sin bloquear.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result devuelve valor y error. Solo es válido después de Done.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Err devuelve el error del future (bloquea hasta que esté resuelto).
func (f *Future[T]) Err() error {
	<-f.done
	return f.err
}

// Wait espera la resolución respetando la cancelación de ctx.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-f.done:
		return f.value, f.err
	}
}

package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed se devuelve al encolar trabajo en un actor ya cerrado.
var ErrClosed = errors.New("concurrency: actor closed")

// Control es el contexto de ejecución serializado donde corre un componente.
type Control interface {
	// Run encola task. Las tareas nunca se intercalan entre sí.
	Run(task func())
}

// RunOnCompletion agenda cb en ctl cuando f se resuelve. Si f ya está resuelto
// cb se encola de inmediato, sin goroutine intermedia.
func RunOnCompletion[T any](ctl Control, f *Future[T], cb func(T, error)) {
	if f.IsDone() {
		v, err := f.Result()
		ctl.Run(func() { cb(v, err) })
		return
	}
	go func() {
		v, err := f.Result()
		ctl.Run(func() { cb(v, err) })
	}()
}

// Call ejecuta fn en ctl y espera su resultado.
func Call[T any](ctx context.Context, ctl Control, fn func() (T, error)) (T, error) {
	fut := NewFuture[T]()
	ctl.Run(func() {
		v, err := fn()
		fut.Complete(v, err)
	})
	return fut.Wait(ctx)
}

// Actor drena una cola de tareas en una sola goroutine.
type Actor struct {
	name    string
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	closed  bool
	done    chan struct{}
	onPanic func(name string, recovered any)
}

// NewActor crea y arranca un actor. onPanic es opcional; si una tarea entra en
// pánico el actor sigue procesando la cola.
func NewActor(name string, onPanic func(name string, recovered any)) *Actor {
	a := &Actor{
		name:    name,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		onPanic: onPanic,
	}
	go a.loop()
	return a
}

// Name devuelve el nombre del actor.
func (a *Actor) Name() string { return a.name }

// Run encola task. Si el actor está cerrado la tarea se descarta.
func (a *Actor) Run(task func()) {
	_ = a.Submit(task)
}

// Submit encola task y devuelve ErrClosed si el actor ya no acepta trabajo.
func (a *Actor) Submit(task func()) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("%s: %w", a.name, ErrClosed)
	}
	a.queue = append(a.queue, task)
	select {
	case a.wake <- struct{}{}:
	default:
	}
	a.mu.Unlock()
	return nil
}

// Close deja de aceptar tareas, drena las pendientes y espera a que termine el loop.
func (a *Actor) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.wake)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed indica si Close fue llamado.
func (a *Actor) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Actor) loop() {
	defer close(a.done)
	for {
		_, ok := <-a.wake
		for {
			a.mu.Lock()
			if len(a.queue) == 0 {
				a.mu.Unlock()
				break
			}
			batch := a.queue
			a.queue = nil
			a.mu.Unlock()

			for _, task := range batch {
				a.exec(task)
			}
		}
		if !ok {
			return
		}
	}
}

func (a *Actor) exec(task func()) {
	defer func() {
		if r := recover(); r != nil && a.onPanic != nil {
			a.onPanic(a.name, r)
		}
	}()
	task()
}

// Inline ejecuta cada tarea en la goroutine del llamador.
// Reentrante: una tarea encolada desde otra tarea se ejecuta al terminar la actual,
// manteniendo el orden FIFO igual que el actor real.
type Inline struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// Run ejecuta task (o la encola si ya hay una tarea en curso).
func (c *Inline) Run(task func()) {
	c.mu.Lock()
	c.queue = append(c.queue, task)
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.running = false
			c.mu.Unlock()
			return
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		next()
	}
}

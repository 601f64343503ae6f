package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Masterminds/squirrel"

	"github.com/gaborage/capsql/expression"
)

// EventName identifies an engine event a Listener can subscribe to.
type EventName string

const (
	// EventBegin fires before a transaction begins on a connection.
	EventBegin EventName = "begin"
	// EventCommit fires before a transaction commits.
	EventCommit EventName = "commit"
	// EventRollback fires before a transaction rolls back.
	EventRollback EventName = "rollback"
	// EventAfterExecute fires after a statement completed successfully.
	EventAfterExecute EventName = "after_execute"
)

var (
	// ErrUnknownEvent is returned by Listen for a name that is not an EventName constant.
	ErrUnknownEvent = errors.New("unknown engine event")
	// ErrNilListener is returned by Listen for a nil listener.
	ErrNilListener = errors.New("listener must not be nil")
)

func (n EventName) valid() bool {
	switch n {
	case EventBegin, EventCommit, EventRollback, EventAfterExecute:
		return true
	default:
		return false
	}
}

// Event is what a Listener receives. Statement, Params, Multiparams and Result are
// only set for EventAfterExecute; Result is nil for queries.
type Event struct {
	Name        EventName
	Conn        *Conn
	Statement   squirrel.Sqlizer
	Params      expression.Params
	Multiparams []expression.Params
	Result      sql.Result
}

// Listener handles an event synchronously on the goroutine that triggered it.
type Listener func(ctx context.Context, ev Event)

// Subscription is the handle returned by Listen.
type Subscription struct {
	registry *registry
	name     EventName
	id       uint64
	once     sync.Once
}

// Remove revokes exactly this listener. Calling it more than once is a no-op.
func (s *Subscription) Remove() {
	if s == nil || s.registry == nil {
		return
	}
	s.once.Do(func() {
		s.registry.remove(s.name, s.id)
	})
}

// Event returns the name the subscription listens to.
func (s *Subscription) Event() EventName {
	return s.name
}

type registeredListener struct {
	id uint64
	fn Listener
}

// registry holds listeners per event in registration order.
type registry struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[EventName][]registeredListener
}

func (r *registry) add(name EventName, fn Listener) (*Subscription, error) {
	if !name.valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if fn == nil {
		return nil, ErrNilListener
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listeners == nil {
		r.listeners = make(map[EventName][]registeredListener)
	}
	r.nextID++
	r.listeners[name] = append(r.listeners[name], registeredListener{id: r.nextID, fn: fn})
	return &Subscription{registry: r, name: name, id: r.nextID}, nil
}

func (r *registry) remove(name EventName, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners[name] = slices.DeleteFunc(r.listeners[name], func(l registeredListener) bool {
		return l.id == id
	})
}

// count returns the number of listeners registered for name.
func (r *registry) count(name EventName) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[name])
}

// dispatch calls the listeners registered when the event started, in order. A
// listener may add or remove subscriptions without deadlocking.
func (r *registry) dispatch(ctx context.Context, ev Event) {
	r.mu.RLock()
	snapshot := slices.Clone(r.listeners[ev.Name])
	r.mu.RUnlock()

	for _, l := range snapshot {
		l.fn(ctx, ev)
	}
}

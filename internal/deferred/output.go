// Package deferred holds values that become known after some upstream step,
// typically a cloud resource create call, has completed.
package deferred

import (
	"context"
	"sync"
)

// Output is a value that is either settled (resolved or rejected) or pending.
// It settles exactly once.
type Output[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// New returns a pending Output and the functions that settle it.
// Only the first call to either function has any effect.
func New[T any]() (*Output[T], func(T), func(error)) {
	o := &Output[T]{done: make(chan struct{})}
	resolve := func(v T) {
		o.once.Do(func() {
			o.val = v
			close(o.done)
		})
	}
	reject := func(err error) {
		o.once.Do(func() {
			o.err = err
			close(o.done)
		})
	}
	return o, resolve, reject
}

// Resolved returns an Output already holding v.
func Resolved[T any](v T) *Output[T] {
	o, resolve, _ := New[T]()
	resolve(v)
	return o
}

// Rejected returns an Output already failed with err.
func Rejected[T any](err error) *Output[T] {
	o, _, reject := New[T]()
	reject(err)
	return o
}

// Done is closed once the output settles.
func (o *Output[T]) Done() <-chan struct{} {
	return o.done
}

// Await blocks until the output settles or ctx is done. Cancelling ctx only
// stops the wait; the upstream computation is unaffected.
func (o *Output[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-o.done:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek reports the settled value without blocking. ok is false while pending.
func (o *Output[T]) Peek() (v T, ok bool, err error) {
	select {
	case <-o.done:
		return o.val, true, o.err
	default:
		return v, false, nil
	}
}

// Apply schedules fn to run once o resolves. If o is rejected, fn never runs
// and the returned Output carries the same error.
func Apply[T, U any](o *Output[T], fn func(T) (U, error)) *Output[U] {
	out, resolve, reject := New[U]()
	go func() {
		<-o.done
		if o.err != nil {
			reject(o.err)
			return
		}
		v, err := fn(o.val)
		if err != nil {
			reject(err)
			return
		}
		resolve(v)
	}()
	return out
}

// All resolves with every value in input order, or rejects with the first
// error in input order.
func All[T any](outs ...*Output[T]) *Output[[]T] {
	out, resolve, reject := New[[]T]()
	go func() {
		vals := make([]T, len(outs))
		for i, o := range outs {
			<-o.done
			if o.err != nil {
				reject(o.err)
				return
			}
			vals[i] = o.val
		}
		resolve(vals)
	}()
	return out
}

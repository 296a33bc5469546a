// SPDX-License-Identifier: MPL-2.0

// Package deferred implements a two-node join: callbacks registered with
// WaitFor run once both of their nodes have been marked finished, no matter
// which finishes first. Callbacks only ever run from ProcessFinishedNodes,
// never from inside WaitFor or Finished, so their order is reproducible.
package deferred

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownNode is returned when a key was never passed to Track.
	ErrUnknownNode = errors.New("node not tracked by deferred processor")
	// ErrAlreadyFinished is returned when Finished is called twice for one key.
	ErrAlreadyFinished = errors.New("node already finished")
)

type (
	// Callback receives the pair it waited for, in registration order.
	Callback[K comparable] func(a, b K) error

	// Processor is a single-threaded join scheduler keyed by K.
	Processor[K comparable] struct {
		finished map[K]bool
		queue    []K
		waits    []*registration[K]
		// due counts registrations whose nodes were both finished at
		// registration time; they fire on the next drain.
		due int
	}

	registration[K comparable] struct {
		a, b      K
		callback  Callback[K]
		immediate bool
	}

	// NodeError reports the key an operation failed for.
	NodeError[K comparable] struct {
		Key K
		Err error
	}
)

func (e *NodeError[K]) Error() string { return fmt.Sprintf("%v: %v", e.Key, e.Err) }

// Unwrap returns the sentinel.
func (e *NodeError[K]) Unwrap() error { return e.Err }

// New creates an empty Processor.
func New[K comparable]() *Processor[K] {
	return &Processor[K]{finished: make(map[K]bool)}
}

// Track registers key in the pending state. Tracking a known key is a no-op.
func (p *Processor[K]) Track(key K) {
	if _, ok := p.finished[key]; !ok {
		p.finished[key] = false
	}
}

// IsTracked reports whether key was registered.
func (p *Processor[K]) IsTracked(key K) bool {
	_, ok := p.finished[key]
	return ok
}

// IsFinished reports whether key reached the finished state.
func (p *Processor[K]) IsFinished(key K) bool {
	return p.finished[key]
}

// Finished moves key to the terminal state and queues it for processing.
func (p *Processor[K]) Finished(key K) error {
	done, ok := p.finished[key]
	switch {
	case !ok:
		return &NodeError[K]{Key: key, Err: ErrUnknownNode}
	case done:
		return &NodeError[K]{Key: key, Err: ErrAlreadyFinished}
	}
	p.finished[key] = true
	p.queue = append(p.queue, key)
	return nil
}

// WaitFor registers callback to run once a and b are both finished. a and b
// may be the same key to wait for a single node.
func (p *Processor[K]) WaitFor(a, b K, callback Callback[K]) error {
	for _, key := range []K{a, b} {
		if !p.IsTracked(key) {
			return &NodeError[K]{Key: key, Err: ErrUnknownNode}
		}
	}
	r := &registration[K]{a: a, b: b, callback: callback}
	if p.finished[a] && p.finished[b] {
		r.immediate = true
		p.due++
	}
	p.waits = append(p.waits, r)
	return nil
}

// HaveFinishedWork reports whether ProcessFinishedNodes has anything to do.
func (p *Processor[K]) HaveFinishedWork() bool {
	return len(p.queue) > 0 || p.due > 0
}

// Pending returns the number of registrations that have not fired yet.
func (p *Processor[K]) Pending() int {
	return len(p.waits)
}

// ProcessFinishedNodes drains the finished queue and fires, in registration
// order, every registration that became ready. Callbacks may register further
// waits or finish further nodes; those are handled before returning. The
// first callback error stops processing.
func (p *Processor[K]) ProcessFinishedNodes() error {
	for p.HaveFinishedWork() {
		drained := make(map[K]bool, len(p.queue))
		for _, key := range p.queue {
			drained[key] = true
		}
		p.queue = nil
		p.due = 0

		current := p.waits
		p.waits = nil
		var fire, keep []*registration[K]
		for _, r := range current {
			touched := r.immediate || drained[r.a] || drained[r.b]
			if touched && p.finished[r.a] && p.finished[r.b] {
				fire = append(fire, r)
			} else {
				keep = append(keep, r)
			}
		}
		p.waits = keep

		for i, r := range fire {
			if err := r.callback(r.a, r.b); err != nil {
				// Unfired registrations stay due for the next drain.
				for _, rest := range fire[i+1:] {
					rest.immediate = true
					p.due++
					p.waits = append(p.waits, rest)
				}
				return err
			}
		}
	}
	return nil
}

package client

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/mqwire/mqwire/mqtt"
	"github.com/mqwire/mqwire/session"
)

// dispatcher decouples handler execution from the dispatch loop. Each
// subscription gets its own FIFO queue drained by a dedicated worker
// goroutine, so a slow handler stalls only its own subscription while
// acknowledgments and other deliveries keep flowing. Per-subscription
// delivery order matches enqueue order; there is no ordering across
// subscriptions.
type dispatcher struct {
	mu      sync.Mutex
	queues  map[*session.Subscription]*deliveryQueue
	closed  bool
	observe func(error)
	// alive gates queue creation: a subscription that has been
	// removed never gets a new queue, even if a frame for it races
	// the removal.
	alive func(*session.Subscription) bool
	wg    sync.WaitGroup
}

type deliveryQueue struct {
	mu    sync.Mutex
	items []*mqtt.Message
	wake  chan struct{}
	done  chan struct{}
}

func newDispatcher(observe func(error), alive func(*session.Subscription) bool) *dispatcher {
	return &dispatcher{
		queues:  make(map[*session.Subscription]*deliveryQueue),
		observe: observe,
		alive:   alive,
	}
}

// Enqueue appends the message to the subscription's queue, starting a
// worker on first use. The queue is unbounded: the dispatch loop never
// blocks here.
func (d *dispatcher) Enqueue(sub *session.Subscription, msg *mqtt.Message) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	q, ok := d.queues[sub]
	if !ok {
		if !d.alive(sub) {
			d.mu.Unlock()
			return
		}
		q = &deliveryQueue{
			wake: make(chan struct{}, 1),
			done: make(chan struct{}),
		}
		d.queues[sub] = q
		d.wg.Add(1)
		go d.worker(sub, q)
	}
	d.mu.Unlock()

	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Remove stops delivery for the subscription. Messages still queued
// are dropped; frames arriving after the removal never reach the
// handler.
func (d *dispatcher) Remove(sub *session.Subscription) {
	d.mu.Lock()
	q, ok := d.queues[sub]
	if ok {
		delete(d.queues, sub)
	}
	d.mu.Unlock()
	if ok {
		close(q.done)
	}
}

// Close stops all workers and waits for in-flight handler invocations
// to return.
func (d *dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for sub, q := range d.queues {
		delete(d.queues, sub)
		close(q.done)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *dispatcher) worker(sub *session.Subscription, q *deliveryQueue) {
	defer d.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			msg := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()

			select {
			case <-q.done:
				return
			default:
			}
			d.invoke(sub, msg)
		}
	}
}

// invoke runs the handler, containing errors and panics at the
// dispatch boundary.
func (d *dispatcher) invoke(sub *session.Subscription, msg *mqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("client: handler for %q panicked: %v", sub.Filter, r)
			log.Error(err)
			d.observe(err)
		}
	}()
	if err := sub.Handler.HandleMessage(msg); err != nil {
		d.observe(fmt.Errorf("client: handler for %q: %w", sub.Filter, err))
	}
}

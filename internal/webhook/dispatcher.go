package webhook

import (
	"context"
	"errors"
	"sync"

	"github.com/suPer8Hu/autoreply-agent/internal/metrics"
)

var ErrDispatcherClosed = errors.New("webhook: dispatcher closed")

type Processor interface {
	Process(ctx context.Context, msg InboundMessage) Result
}

type job struct {
	msg  InboundMessage
	done func(Result)
}

// Dispatcher runs messages of the same conversation key one after another in
// submission order, while different keys run concurrently. A lane goroutine
// exits as soon as its queue is empty.
type Dispatcher struct {
	ctx     context.Context
	proc    Processor
	metrics *metrics.Metrics

	mu     sync.Mutex
	lanes  map[string][]job
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher processes every message under ctx, the owner's lifetime
// context, not the context of the request that delivered it.
func NewDispatcher(ctx context.Context, proc Processor, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		ctx:     ctx,
		proc:    proc,
		metrics: m,
		lanes:   make(map[string][]job),
	}
}

// Submit queues msg on its lane. done, when non-nil, receives the result.
func (d *Dispatcher) Submit(msg InboundMessage, done func(Result)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	key := msg.Key()
	queue, running := d.lanes[key]
	d.lanes[key] = append(queue, job{msg: msg, done: done})
	if !running {
		d.wg.Add(1)
		d.metrics.LaneStarted()
		go d.drain(key)
	}
	return nil
}

// Ingest queues a webhook batch. It satisfies the same contract as the
// rabbitmq publisher so the HTTP handler can use either.
func (d *Dispatcher) Ingest(_ context.Context, msgs []InboundMessage) error {
	for _, m := range msgs {
		if err := d.Submit(m, nil); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) drain(key string) {
	defer d.wg.Done()
	defer d.metrics.LaneStopped()
	for {
		d.mu.Lock()
		queue := d.lanes[key]
		if len(queue) == 0 {
			delete(d.lanes, key)
			d.mu.Unlock()
			return
		}
		next := queue[0]
		queue[0] = job{}
		d.lanes[key] = queue[1:]
		d.mu.Unlock()

		res := d.proc.Process(d.ctx, next.msg)
		if next.done != nil {
			next.done(res)
		}
	}
}

// Close stops accepting messages and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// Wait blocks until every queued message has been processed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Lanes reports the number of keys with queued or running work.
func (d *Dispatcher) Lanes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lanes)
}

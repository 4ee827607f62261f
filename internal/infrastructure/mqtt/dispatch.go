package mqtt

import "sync"

// backlogWarning is the queued event count at which a slow handler is reported.
const backlogWarning = 4 * queueSize

// eventQueue is an unbounded FIFO between event producers and the dispatcher.
// Producers never block, so a handler that calls back into the client while
// the executor is emitting events cannot wedge either goroutine.
type eventQueue struct {
	mu    sync.Mutex
	items []Event
	ready chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

// push appends e and returns the backlog including it.
func (q *eventQueue) push(e Event) int {
	q.mu.Lock()
	q.items = append(q.items, e)
	n := len(q.items)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return n
}

// take removes and returns everything queued.
func (q *eventQueue) take() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.items
	q.items = nil
	return batch
}

// dispatch queues e for the handler.
func (c *Client) dispatch(e Event) {
	if e.Time.IsZero() {
		e.Time = c.sched.Now()
	}
	if c.ctx.Err() != nil {
		return
	}
	if n := c.events.push(e); n == backlogWarning {
		c.logger.Warn("mqtt handler is falling behind", "queued_events", n)
	}
}

func (c *Client) runDispatcher() {
	defer c.wg.Done()
	for {
		select {
		case <-c.events.ready:
			for _, e := range c.events.take() {
				if c.ctx.Err() != nil {
					return
				}
				c.safely("handler", func() { c.deliver(e) })
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) deliver(e Event) {
	switch e.Kind {
	case EventConnected:
		c.handler.OnConnected()
	case EventConnectionFailed:
		c.handler.OnConnectionFailed(e.Err)
	case EventMessage:
		c.handler.OnMessageReceived(e.Topic, e.Payload)
	}
}

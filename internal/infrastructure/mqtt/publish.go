package mqtt

import (
	"fmt"
)

// Publish queues a message for the specified MQTT topic and returns without
// waiting for the network.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "control")
//   - payload: The message payload (typically JSON, max 1MB by default)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// QoS Levels:
//   - 0: At most once, the only level whose delivery this client guarantees
//   - 1, 2: Sent with the requested level; acknowledgements are not tracked
//
// Returns:
//   - ErrInvalidTopic, ErrInvalidQoS, ErrPayloadTooLarge: the request is rejected
//   - ErrNotConnected: the client is offline; a connect is scheduled after
//     3s and the publish is retried once, 1s after that connect
//   - nil: the publish was queued
//
// Example:
//
//	err := client.Publish(mqtt.Topics{}.Control(), []byte(`{"level1":40}`), 0, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > c.opts.MaxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPayloadTooLarge, len(payload), c.opts.MaxPayloadSize)
	}
	if c.isClosed() {
		return ErrClosed
	}

	op := func() error { return c.publishNow(topic, payload, qos, retained) }

	if !c.IsConnected() {
		c.retryLater("publish", topic, op)
		return ErrNotConnected
	}

	c.enqueue(func() {
		if err := op(); err != nil {
			c.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		}
	})
	return nil
}

// PublishString is a convenience method that publishes a string payload.
//
// This is equivalent to calling Publish with []byte(payload).
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// publishNow writes on the current session. Executor only.
func (c *Client) publishNow(topic string, payload []byte, qos byte, retained bool) error {
	s := c.currentSession()
	if s == nil {
		return ErrNotConnected
	}
	if err := s.Publish(topic, payload, qos, retained); err != nil {
		return err
	}
	c.messagesOut.Add(1)
	return nil
}

// retryLater schedules a connect and, if it succeeds, one retry of op.
// Nothing is scheduled after a manual disconnect.
func (c *Client) retryLater(kind, topic string, op func() error) {
	c.mu.Lock()
	if c.manual || c.closed {
		c.mu.Unlock()
		return
	}
	g := c.retryGen
	c.mu.Unlock()

	c.logger.Debug("mqtt offline, scheduling retry", "op", kind, "topic", topic, "connect_in", c.opts.RetryConnectDelay)
	c.sched.After(g, c.opts.RetryConnectDelay, func() {
		c.enqueue(func() {
			if err := c.connectOnce(false); err != nil {
				c.logger.Debug("mqtt retry connect failed", "op", kind, "topic", topic, "error", err)
				return
			}
			c.sched.After(g, c.opts.RetryDelay, func() {
				c.enqueue(func() {
					if err := op(); err != nil {
						c.logger.Warn("mqtt retry failed", "op", kind, "topic", topic, "error", err)
					}
				})
			})
		})
	})
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

package mqtt

// Subscribe requests messages on topic and tracks the subscription so it is
// restored after every reconnect. Messages arrive through
// Handler.OnMessageReceived.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "sensor/+" matches any direct child of sensor
//   - # (multi-level): "sensor/#" matches everything below sensor
//
// While disconnected the subscription is still tracked, ErrNotConnected is
// returned, and a connect plus one retry are scheduled as for Publish.
func (c *Client) Subscribe(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.subs[topic] = qos
	c.mu.Unlock()

	op := func() error { return c.subscribeNow(topic, qos) }

	if !c.IsConnected() {
		c.retryLater("subscribe", topic, op)
		return ErrNotConnected
	}

	c.enqueue(func() {
		if err := op(); err != nil {
			c.logger.Warn("mqtt subscribe failed", "topic", topic, "error", err)
		}
	})
	return nil
}

// Unsubscribe stops tracking topic and, when connected, sends UNSUBSCRIBE.
// While disconnected it returns ErrNotConnected; the topic is simply not
// restored on the next connect.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.enqueue(func() {
		s := c.currentSession()
		if s == nil {
			return
		}
		if err := s.Unsubscribe(topic); err != nil {
			c.logger.Warn("mqtt unsubscribe failed", "topic", topic, "error", err)
		}
	})
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.subs[topic]
	return exists
}

// subscribeNow writes on the current session. Executor only.
func (c *Client) subscribeNow(topic string, qos byte) error {
	s := c.currentSession()
	if s == nil {
		return ErrNotConnected
	}
	return s.Subscribe(topic, qos)
}

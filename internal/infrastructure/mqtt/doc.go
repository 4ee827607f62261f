// Package mqtt provides the LightLink MQTT client: a connection manager that
// keeps one session to the broker alive and reports its state to the
// application.
//
// This package manages:
//   - Connection to the broker over TCP, TLS or WebSocket (see transport)
//   - Automatic reconnection with exponential backoff (3s × 1.5^n, max 60s)
//   - Forced reconnects and a periodic health task
//   - Damped state reporting: a drop is only reported once it has lasted the
//     damping window, a connect is reported immediately
//   - Subscription tracking and restoration after reconnect
//   - Retained presence messages and the Last Will
//
// # Architecture
//
//	Handler ← dispatcher ← Client ← executor → session.Session → transport.Conn → broker
//	                              ↖ schedule.Scheduler (backoff, health, damping timers)
//
// Every request from the application is queued on one executor goroutine,
// so connection attempts never overlap and requests keep their order.
// Every callback goes through one dispatcher goroutine, so handlers never
// run on the network goroutines and never under a client lock.
//
// # Security Considerations
//
//   - TLS validates the broker certificate unless insecure_skip_verify is set
//   - Broker passwords can be replaced by short-lived signed tokens (see Options.Credentials)
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	opts, err := mqtt.FromConfig(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := mqtt.New(opts, mqtt.HandlerFuncs{
//	    MessageReceived: func(topic string, payload []byte) {
//	        log.Printf("Received: %s = %s", topic, payload)
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Connect()
//	client.Subscribe(mqtt.Topics{}.SensorData(), 1)
package mqtt

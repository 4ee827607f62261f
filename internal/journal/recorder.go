package journal

import (
	"context"
	"time"
)

// writeTimeout bounds one journal write from a callback.
const writeTimeout = 2 * time.Second

// Logger is the logging surface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder writes client callbacks and daemon actions into a Journal.
// It implements the mqtt Handler interface. Write failures are logged and
// never propagate into the client.
type Recorder struct {
	journal *Journal
	logger  Logger
}

// NewRecorder returns a Recorder for j.
func NewRecorder(j *Journal, logger Logger) *Recorder {
	return &Recorder{journal: j, logger: logger}
}

// OnConnected records a successful connect.
func (r *Recorder) OnConnected() {
	r.append(Entry{Kind: KindConnected})
}

// OnConnectionFailed records a reported connection failure.
func (r *Recorder) OnConnectionFailed(reason error) {
	detail := ""
	if reason != nil {
		detail = reason.Error()
	}
	r.append(Entry{Kind: KindConnectionFailed, Detail: detail})
}

// OnMessageReceived records an inbound message.
func (r *Recorder) OnMessageReceived(topic string, payload []byte) {
	r.append(Entry{Kind: KindMessage, Topic: topic, Detail: string(payload)})
}

// Published records an outbound publish requested by the application.
func (r *Recorder) Published(topic string, payload []byte, qos byte, retained bool) {
	r.append(Entry{Kind: KindPublish, Topic: topic, Detail: string(payload), QoS: qos, Retained: retained})
}

// Subscribed records a subscription request.
func (r *Recorder) Subscribed(topic string, qos byte) {
	r.append(Entry{Kind: KindSubscribe, Topic: topic, QoS: qos})
}

// System records a daemon notice such as startup or shutdown.
func (r *Recorder) System(detail string) {
	r.append(Entry{Kind: KindSystem, Detail: detail})
}

func (r *Recorder) append(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if _, err := r.journal.Append(ctx, e); err != nil && r.logger != nil {
		r.logger.Warn("journal write failed", "kind", e.Kind, "error", err)
	}
}

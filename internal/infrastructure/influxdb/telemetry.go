package influxdb

import (
	"context"
	"time"

	"k8s.io/utils/clock"
)

// Measurement names.
const (
	MeasurementConnection = "mqtt_connection"
	MeasurementLiveness   = "mqtt_liveness"
)

// PointWriter accepts points. Client implements it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Liveness is the snapshot Telemetry samples from the MQTT client.
type Liveness struct {
	Connected    bool
	Attempts     int
	MissedPings  int
	LastResponse time.Time
}

// Telemetry converts client callbacks and periodic liveness samples into
// points. It implements the mqtt Handler interface.
type Telemetry struct {
	w      PointWriter
	clock  clock.WithTicker
	sample func() Liveness
}

// NewTelemetry returns a Telemetry writing to w. sample is read on each
// callback and liveness tick; it may be nil.
func NewTelemetry(w PointWriter, clk clock.WithTicker, sample func() Liveness) *Telemetry {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if sample == nil {
		sample = func() Liveness { return Liveness{} }
	}
	return &Telemetry{w: w, clock: clk, sample: sample}
}

// OnConnected writes a connected point.
func (t *Telemetry) OnConnected() {
	t.writeConnection(true, "")
}

// OnConnectionFailed writes a disconnected point with the reason.
func (t *Telemetry) OnConnectionFailed(reason error) {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	t.writeConnection(false, msg)
}

// OnMessageReceived is a no-op; message rates are exported as metrics.
func (t *Telemetry) OnMessageReceived(string, []byte) {}

func (t *Telemetry) writeConnection(connected bool, reason string) {
	fields := map[string]any{
		"connected": connected,
		"attempt":   t.sample().Attempts,
	}
	if reason != "" {
		fields["reason"] = reason
	}
	t.w.WritePoint(MeasurementConnection, nil, fields, t.clock.Now())
}

// WriteLiveness writes one liveness point while connected.
func (t *Telemetry) WriteLiveness() {
	l := t.sample()
	if !l.Connected {
		return
	}
	now := t.clock.Now()
	since := int64(0)
	if !l.LastResponse.IsZero() {
		since = now.Sub(l.LastResponse).Milliseconds()
	}
	t.w.WritePoint(MeasurementLiveness, nil, map[string]any{
		"missed_pings":          l.MissedPings,
		"since_last_inbound_ms": since,
	}, now)
}

// Run writes a liveness point every interval until ctx is done.
func (t *Telemetry) Run(ctx context.Context, interval time.Duration) {
	ticker := t.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			t.WriteLiveness()
		}
	}
}

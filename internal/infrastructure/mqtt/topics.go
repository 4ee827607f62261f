package mqtt

// Topic names used by the lighting controller and the connection manager.
//
// The hierarchy is flat: the controller and the broker-side bridge share one
// namespace per site broker.
const (
	TopicAlarm        = "alarm"
	TopicSensorData   = "sensor/data"
	TopicTime         = "time"
	TopicControl      = "control"
	TopicStatus       = "status"
	TopicRequest      = "request"
	TopicResponse     = "response"
	TopicClientStatus = "client/status"
	TopicHeartbeat    = "heartbeat"
	TopicPing         = "ping"
)

// Topics provides the topic names as methods, mirroring how callers look
// them up elsewhere in the codebase.
//
//	topics := mqtt.Topics{}
//	client.Publish(topics.Control(), payload, 0, false)
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// Alarm returns the topic carrying threshold alarms with a full sensor reading.
func (Topics) Alarm() string { return TopicAlarm }

// SensorData returns the topic carrying periodic sensor readings.
func (Topics) SensorData() string { return TopicSensorData }

// Time returns the device clock topic.
func (Topics) Time() string { return TopicTime }

// Control returns the topic for light levels, mode changes and mode queries.
func (Topics) Control() string { return TopicControl }

// Status returns the device status topic.
func (Topics) Status() string { return TopicStatus }

// Request returns the topic for data requests to the device.
func (Topics) Request() string { return TopicRequest }

// Response returns the topic for device replies to requests.
func (Topics) Response() string { return TopicResponse }

// =============================================================================
// Client Presence Topics
// =============================================================================

// ClientStatus returns the retained online/offline presence topic.
func (Topics) ClientStatus() string { return TopicClientStatus }

// Heartbeat returns the periodic heartbeat topic.
func (Topics) Heartbeat() string { return TopicHeartbeat }

// Ping returns the liveness probe topic used by the health task.
func (Topics) Ping() string { return TopicPing }

// =============================================================================
// Subscription Sets
// =============================================================================

// DeviceSubscriptions returns the topics a controller subscribes to after connecting.
func (Topics) DeviceSubscriptions() []string {
	return []string{TopicAlarm, TopicSensorData, TopicTime, TopicControl, TopicStatus, TopicResponse}
}

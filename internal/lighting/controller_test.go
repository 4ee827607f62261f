package lighting

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt"
)

func newTestController(t *testing.T) (*Controller, *fakeClient, *fakeRecorder) {
	t.Helper()
	client := newFakeClient()
	rec := &fakeRecorder{}
	c := NewController(client, Config{Clock: newFakeClock(), Recorder: rec})
	c.newID = func() string { return "req-1" }
	return c, client, rec
}

func TestController_OnConnectedSubscribesAndRequests(t *testing.T) {
	c, client, rec := newTestController(t)

	c.OnConnected()

	for _, topic := range (mqtt.Topics{}).DeviceSubscriptions() {
		qos, ok := client.subs[topic]
		require.True(t, ok, "missing subscription %s", topic)
		assert.Equal(t, byte(1), qos)
	}

	pubs := client.published()
	require.Len(t, pubs, 2)
	assert.Equal(t, mqtt.TopicRequest, pubs[0].topic)
	assert.JSONEq(t, `{"action":"getData","request_id":"req-1"}`, pubs[0].payload)
	assert.Equal(t, byte(0), pubs[0].qos)
	assert.Equal(t, mqtt.TopicControl, pubs[1].topic)
	assert.JSONEq(t, `{"command":"getMode"}`, pubs[1].payload)
	assert.Equal(t, byte(1), pubs[1].qos)

	assert.True(t, c.Snapshot().Connected)
	assert.Len(t, rec.subs, len(client.subs))
	assert.Equal(t, []string{mqtt.TopicRequest, mqtt.TopicControl}, rec.pubs)
}

func TestController_ConfiguredQoSAndTopics(t *testing.T) {
	client := newFakeClient()
	qos := byte(0)
	c := NewController(client, Config{QoS: &qos, Topics: []string{"alarm"}})

	c.OnConnected()

	assert.Equal(t, map[string]byte{"alarm": 0}, client.subs)
	assert.Equal(t, byte(0), client.published()[1].qos)
}

func TestController_OnConnectionFailed(t *testing.T) {
	c, _, _ := newTestController(t)
	c.OnConnected()
	c.OnConnectionFailed(errors.New("gone"))
	assert.False(t, c.Snapshot().Connected)
}

func TestController_SetLevel(t *testing.T) {
	tests := []struct {
		channel Channel
		level   int
		want    string
	}{
		{ChannelCold, 40, `{"level1":40}`},
		{ChannelBlue, 0, `{"level2":0}`},
		{ChannelWarm, 100, `{"level3":100}`},
		{ChannelRed, 55, `{"level":55}`},
	}
	for _, tt := range tests {
		t.Run(string(tt.channel), func(t *testing.T) {
			c, client, _ := newTestController(t)
			require.NoError(t, c.SetLevel(tt.channel, tt.level))

			pubs := client.published()
			require.Len(t, pubs, 1)
			assert.Equal(t, published{mqtt.TopicControl, pubs[0].payload, 0, false}, pubs[0])
			assert.JSONEq(t, tt.want, pubs[0].payload)
			assert.Equal(t, tt.level, c.Snapshot().Levels[tt.channel])
		})
	}
}

func TestController_SetLevelRejects(t *testing.T) {
	c, client, _ := newTestController(t)

	assert.ErrorIs(t, c.SetLevel(ChannelCold, 101), ErrLevelRange)
	assert.ErrorIs(t, c.SetLevel(ChannelCold, -1), ErrLevelRange)
	assert.ErrorIs(t, c.SetLevel("green", 10), ErrUnknownChannel)
	assert.Empty(t, client.published())
}

func TestController_SetLevelPublishFailureLeavesSnapshot(t *testing.T) {
	c, client, rec := newTestController(t)
	client.fail = errOffline

	err := c.SetLevel(ChannelWarm, 30)
	require.ErrorIs(t, err, errOffline)
	_, ok := c.Snapshot().Levels[ChannelWarm]
	assert.False(t, ok)
	assert.Empty(t, rec.pubs)
}

func TestController_AlarmMessage(t *testing.T) {
	c, _, _ := newTestController(t)

	c.OnMessageReceived(mqtt.TopicAlarm, []byte(`{"temp":"23.5","humi":41,"dist":"120","lux":300,"human":1,"mode":1}`))

	s := c.Snapshot()
	require.NotNil(t, s.Temperature)
	assert.InDelta(t, 23.5, *s.Temperature, 0.001)
	assert.InDelta(t, 41, *s.Humidity, 0.001)
	assert.InDelta(t, 120, *s.Distance, 0.001)
	assert.InDelta(t, 300, *s.Light, 0.001)
	require.NotNil(t, s.HumanPresent)
	assert.True(t, *s.HumanPresent)
	assert.Equal(t, ModeAuto, s.Mode)
	assert.Equal(t, epoch, s.UpdatedAt)
}

func TestController_SensorDataKeepsOtherReadings(t *testing.T) {
	c, _, _ := newTestController(t)

	c.OnMessageReceived(mqtt.TopicSensorData, []byte(`{"temperature":20,"humidity":"50"}`))
	c.OnMessageReceived(mqtt.TopicSensorData, []byte(`{"light":12}`))

	s := c.Snapshot()
	assert.InDelta(t, 20, *s.Temperature, 0.001)
	assert.InDelta(t, 50, *s.Humidity, 0.001)
	assert.InDelta(t, 12, *s.Light, 0.001)
	assert.Nil(t, s.Distance)
}

func TestController_ControlEchoAndMode(t *testing.T) {
	c, _, _ := newTestController(t)

	c.OnMessageReceived(mqtt.TopicControl, []byte(`{"mode":0,"level":20,"level2":"80"}`))

	s := c.Snapshot()
	assert.Equal(t, ModeManual, s.Mode)
	assert.Equal(t, map[Channel]int{ChannelRed: 20, ChannelBlue: 80}, s.Levels)
}

func TestController_IgnoresMalformedAndUnknown(t *testing.T) {
	c, _, _ := newTestController(t)

	c.OnMessageReceived(mqtt.TopicAlarm, []byte(`not json`))
	c.OnMessageReceived("some/other", []byte(`{"temp":1}`))
	c.OnMessageReceived(mqtt.TopicControl, []byte(`{"command":"getMode"}`))

	s := c.Snapshot()
	assert.Nil(t, s.Temperature)
	assert.Equal(t, ModeUnknown, s.Mode)
	assert.True(t, s.UpdatedAt.IsZero())
}

func TestController_TimeMessage(t *testing.T) {
	c, _, _ := newTestController(t)
	c.OnMessageReceived(mqtt.TopicTime, []byte(" 2026-03-01 09:15:00\n"))
	assert.Equal(t, "2026-03-01 09:15:00", c.Snapshot().Time)
}

func TestController_SnapshotIsACopy(t *testing.T) {
	c, _, _ := newTestController(t)
	c.OnMessageReceived(mqtt.TopicSensorData, []byte(`{"temperature":20}`))
	require.NoError(t, c.SetLevel(ChannelCold, 10))

	s := c.Snapshot()
	*s.Temperature = 99
	s.Levels[ChannelCold] = 99

	fresh := c.Snapshot()
	assert.InDelta(t, 20, *fresh.Temperature, 0.001)
	assert.Equal(t, 10, fresh.Levels[ChannelCold])
}

func TestController_SnapshotJSON(t *testing.T) {
	c, _, _ := newTestController(t)
	c.OnMessageReceived(mqtt.TopicAlarm, []byte(`{"temp":21,"human":0}`))

	raw, err := json.Marshal(c.Snapshot())
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 21.0, out["temperature"])
	assert.Equal(t, false, out["human_present"])
	assert.NotContains(t, out, "humidity")
	assert.Equal(t, epoch.Format(time.RFC3339), out["updated_at"])
}

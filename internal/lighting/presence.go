package lighting

import (
	"encoding/json"

	"k8s.io/utils/clock"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt"
)

type presence struct {
	Status    string `json:"status"`
	Client    string `json:"client"`
	Timestamp int64  `json:"timestamp"`
}

// PresenceStatus builds the retained client/status messages published on
// connect ({"status":"online",...}) and before an orderly disconnect
// ({"status":"offline",...}). Timestamps are Unix milliseconds.
func PresenceStatus(clientID string, clk clock.PassiveClock) *mqtt.Status {
	if clk == nil {
		clk = clock.RealClock{}
	}
	build := func(status string) func() []byte {
		return func() []byte {
			payload, _ := json.Marshal(presence{ //nolint:errcheck // Plain struct always encodes
				Status:    status,
				Client:    clientID,
				Timestamp: clk.Now().UnixMilli(),
			})
			return payload
		}
	}
	return &mqtt.Status{
		Topic:   mqtt.TopicClientStatus,
		QoS:     1,
		Retain:  true,
		Online:  build("online"),
		Offline: build("offline"),
	}
}

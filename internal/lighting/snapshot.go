package lighting

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// Mode is the node's operating mode.
type Mode string

const (
	ModeUnknown Mode = ""
	ModeAuto    Mode = "auto"
	ModeManual  Mode = "manual"
)

func modeFromValue(v int) Mode {
	if v == 1 {
		return ModeAuto
	}
	return ModeManual
}

// Snapshot is the last known state of the node.
type Snapshot struct {
	Connected    bool            `json:"connected"`
	Temperature  *float64        `json:"temperature,omitempty"`
	Humidity     *float64        `json:"humidity,omitempty"`
	Distance     *float64        `json:"distance,omitempty"`
	Light        *float64        `json:"light,omitempty"`
	HumanPresent *bool           `json:"human_present,omitempty"`
	Mode         Mode            `json:"mode,omitempty"`
	Levels       map[Channel]int `json:"levels"`
	Time         string          `json:"device_time,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Levels = maps.Clone(s.Levels)
	out.Temperature = cloneFloat(s.Temperature)
	out.Humidity = cloneFloat(s.Humidity)
	out.Distance = cloneFloat(s.Distance)
	out.Light = cloneFloat(s.Light)
	if s.HumanPresent != nil {
		v := *s.HumanPresent
		out.HumanPresent = &v
	}
	return out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// fields is a decoded flat JSON object.
type fields map[string]json.RawMessage

func decodeFields(payload []byte) (fields, error) {
	var f fields
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return f, nil
}

// number reads key as a float from either a JSON number or a numeric string.
func (f fields) number(key string) (float64, bool) {
	raw, ok := f[key]
	if !ok {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (f fields) integer(key string) (int, bool) {
	n, ok := f.number(key)
	if !ok {
		return 0, false
	}
	return int(n), true
}

// applyReading copies the readings named by keys (temperature, humidity,
// distance, light order) into s. It reports whether anything changed.
func (s *Snapshot) applyReading(f fields, keys [4]string) bool {
	targets := [4]**float64{&s.Temperature, &s.Humidity, &s.Distance, &s.Light}
	changed := false
	for i, key := range keys {
		if v, ok := f.number(key); ok {
			*targets[i] = &v
			changed = true
		}
	}
	return changed
}

func (s *Snapshot) applyMode(f fields) bool {
	if v, ok := f.integer("mode"); ok {
		s.Mode = modeFromValue(v)
		return true
	}
	return false
}

// applyAlarm handles an alarm payload.
func (s *Snapshot) applyAlarm(f fields) bool {
	changed := s.applyReading(f, [4]string{"temp", "humi", "dist", "lux"})
	if v, ok := f.integer("human"); ok {
		present := v == 1
		s.HumanPresent = &present
		changed = true
	}
	return s.applyMode(f) || changed
}

// applySensorData handles a sensor/data payload.
func (s *Snapshot) applySensorData(f fields) bool {
	return s.applyReading(f, [4]string{"temperature", "humidity", "distance", "light"})
}

// applyControl handles a control payload: mode changes and level echoes.
func (s *Snapshot) applyControl(f fields) bool {
	changed := s.applyMode(f)
	for c, key := range channelKeys {
		if v, ok := f.integer(key); ok {
			s.Levels[c] = v
			changed = true
		}
	}
	return changed
}

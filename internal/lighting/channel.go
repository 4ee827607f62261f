package lighting

import (
	"errors"
	"fmt"
	"strings"
)

// Channel is one dimmable light output of the node.
type Channel string

const (
	ChannelCold Channel = "cold"
	ChannelBlue Channel = "blue"
	ChannelWarm Channel = "warm"
	ChannelRed  Channel = "red"
)

// Level bounds.
const (
	MinLevel = 0
	MaxLevel = 100
)

var (
	ErrUnknownChannel = errors.New("lighting: unknown channel")
	ErrLevelRange     = errors.New("lighting: level out of range")
)

// channelKeys maps each channel to its key in control payloads.
var channelKeys = map[Channel]string{
	ChannelCold: "level1",
	ChannelBlue: "level2",
	ChannelWarm: "level3",
	ChannelRed:  "level",
}

// Channels lists every channel in display order.
func Channels() []Channel {
	return []Channel{ChannelCold, ChannelWarm, ChannelRed, ChannelBlue}
}

// Key returns the control payload key of c.
func (c Channel) Key() string {
	return channelKeys[c]
}

// ParseChannel accepts a channel name, case-insensitively.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := channelKeys[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
	return c, nil
}

// ValidateLevel checks that level is within MinLevel..MaxLevel.
func ValidateLevel(level int) error {
	if level < MinLevel || level > MaxLevel {
		return fmt.Errorf("%w: %d not in %d..%d", ErrLevelRange, level, MinLevel, MaxLevel)
	}
	return nil
}

package lighting

import (
	"errors"
	"testing"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in      string
		want    Channel
		wantErr bool
	}{
		{"cold", ChannelCold, false},
		{" Warm ", ChannelWarm, false},
		{"RED", ChannelRed, false},
		{"blue", ChannelBlue, false},
		{"green", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChannel(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownChannel) {
					t.Fatalf("ParseChannel(%q) error = %v, want ErrUnknownChannel", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseChannel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseChannel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestChannelsHaveDistinctKeys(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range Channels() {
		key := c.Key()
		if key == "" {
			t.Fatalf("channel %q has no key", c)
		}
		if seen[key] {
			t.Fatalf("key %q used twice", key)
		}
		seen[key] = true
	}
	if len(seen) != 4 {
		t.Errorf("got %d channels, want 4", len(seen))
	}
}

func TestValidateLevel(t *testing.T) {
	for _, level := range []int{MinLevel, 50, MaxLevel} {
		if err := ValidateLevel(level); err != nil {
			t.Errorf("ValidateLevel(%d) = %v", level, err)
		}
	}
	for _, level := range []int{MinLevel - 1, MaxLevel + 1} {
		if err := ValidateLevel(level); !errors.Is(err, ErrLevelRange) {
			t.Errorf("ValidateLevel(%d) = %v, want ErrLevelRange", level, err)
		}
	}
}

package tank

import (
	"errors"
	"fmt"
	"strings"
)

// FillState is the discrete fill level shown on a tank's indicator.
type FillState int

const (
	// Unknown is used when no valid reading has been made yet. Classify never returns it.
	Unknown FillState = iota
	Green
	Yellow
	Red
)

func (s FillState) String() string {
	switch s {
	case Green:
		return "Green"
	case Yellow:
		return "Yellow"
	case Red:
		return "Red"
	}
	return "Unknown"
}

func ParseFillState(s string) (FillState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "green":
		return Green, nil
	case "yellow":
		return Yellow, nil
	case "red":
		return Red, nil
	case "unknown", "off":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown fill state '%s'", s)
}

// Thresholds split the volume domain into three bands. A volume on a boundary belongs to the
// higher band.
//
// The defaults are not derived from the default geometry (which gives a capacity of about 143cm^3),
// they are calibrated values and are kept as configuration.
type Thresholds struct {
	Full float64 `mapstructure:"full-threshold"`
	Half float64 `mapstructure:"half-threshold"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Full: 133.9,
		Half: 80.5,
	}
}

func (t Thresholds) Validate() error {
	if t.Half >= t.Full {
		return errors.New("half threshold must be below the full threshold")
	}
	return nil
}

// Classify maps a volume to its fill state. It is total over the real line.
func (t Thresholds) Classify(volume float64) FillState {
	switch {
	case volume >= t.Full:
		return Red
	case volume >= t.Half:
		return Yellow
	default:
		return Green
	}
}

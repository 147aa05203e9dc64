package detection

import (
	"fmt"
	"sort"
)

// AlertLevel is the severity bucket derived from a final confidence.
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertLow
	AlertMedium
	AlertHigh
	AlertCritical
)

func (l AlertLevel) String() string {
	switch l {
	case AlertNone:
		return "none"
	case AlertLow:
		return "low"
	case AlertMedium:
		return "medium"
	case AlertHigh:
		return "high"
	case AlertCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the level as its string form.
func (l AlertLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON decodes a string severity back into an AlertLevel.
func (l *AlertLevel) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	switch s {
	case "none":
		*l = AlertNone
	case "low":
		*l = AlertLow
	case "medium":
		*l = AlertMedium
	case "high":
		*l = AlertHigh
	case "critical":
		*l = AlertCritical
	default:
		return fmt.Errorf("unknown alert level %q", s)
	}
	return nil
}

// MarshalText mirrors MarshalJSON for text-based encoders.
func (l AlertLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText lets configuration decoders parse a level from its name.
func (l *AlertLevel) UnmarshalText(text []byte) error {
	level, ok := ParseAlertLevel(string(text))
	if !ok {
		return fmt.Errorf("unknown alert level %q", string(text))
	}
	*l = level
	return nil
}

// SeverityBounds maps confidence to alert level. Each field is the inclusive
// lower bound of its bucket; everything below Low is AlertNone. Bounds must
// be strictly increasing and lie in (0,1].
type SeverityBounds struct {
	Low      float64 `koanf:"low" json:"low"`
	Medium   float64 `koanf:"medium" json:"medium"`
	High     float64 `koanf:"high" json:"high"`
	Critical float64 `koanf:"critical" json:"critical"`
}

// DefaultSeverityBounds returns the documented default bucket boundaries.
func DefaultSeverityBounds() SeverityBounds {
	return SeverityBounds{Low: 0.3, Medium: 0.5, High: 0.7, Critical: 0.9}
}

// Validate checks that the bounds are monotonic and exhaustive over [0,1].
func (b SeverityBounds) Validate() error {
	bounds := []float64{b.Low, b.Medium, b.High, b.Critical}
	if !sort.Float64sAreSorted(bounds) {
		return fmt.Errorf("severity bounds must be non-decreasing: %+v", b)
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] == bounds[i-1] {
			return fmt.Errorf("severity bounds must be strictly increasing: %+v", b)
		}
	}
	if b.Low <= 0 || b.Critical > 1 {
		return fmt.Errorf("severity bounds must lie in (0,1]: %+v", b)
	}
	return nil
}

// Level buckets a confidence value. Confidence is clamped first, so every
// input maps to exactly one level.
func (b SeverityBounds) Level(confidence float64) AlertLevel {
	c := ClampConfidence(confidence)
	switch {
	case c >= b.Critical:
		return AlertCritical
	case c >= b.High:
		return AlertHigh
	case c >= b.Medium:
		return AlertMedium
	case c >= b.Low:
		return AlertLow
	default:
		return AlertNone
	}
}

// ParseAlertLevel converts a string severity into an AlertLevel.
func ParseAlertLevel(s string) (AlertLevel, bool) {
	switch s {
	case "none":
		return AlertNone, true
	case "low":
		return AlertLow, true
	case "medium":
		return AlertMedium, true
	case "high":
		return AlertHigh, true
	case "critical":
		return AlertCritical, true
	default:
		return 0, false
	}
}

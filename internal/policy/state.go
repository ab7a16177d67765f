package policy

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"floodguard/internal/types"
)

// Bucket widths for state quantization.
const (
	levelBucket  = 5.0
	rateBuckets  = 2.0 // buckets per unit/hour
	precipBucket = 10.0

	dayStartHour = 6
	dayEndHour   = 18

	// bucketLimit keeps extreme or corrupt inputs from overflowing int.
	bucketLimit = 1_000_000
)

// State is the continuous observation the policy acts on.
type State struct {
	WaterLevel    float64           `json:"water_level" yaml:"water_level"`
	RateOfChange  float64           `json:"rate_of_change" yaml:"rate_of_change"`
	Precipitation float64           `json:"precipitation" yaml:"precipitation"`
	Night         bool              `json:"night" yaml:"night"`
	Previous      types.AlertAction `json:"previous_action,omitempty" yaml:"previous_action"`
}

// IsNight reports whether t falls outside 06:00–18:00 in loc.
func IsNight(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	return h < dayStartHour || h >= dayEndHour
}

// StateKey is the quantized form of a State used to index the Q-table.
// Buckets are stored as integer indices so keys compare exactly.
type StateKey struct {
	Level    int // floor(level / 5)
	Rate     int // floor(rate * 2)
	Precip   int // floor(precip / 10)
	Night    bool
	Previous types.AlertAction
}

// Key quantizes a State.
func Key(s State) StateKey {
	prev := s.Previous
	if !prev.Valid() {
		prev = types.ActionNone
	}
	return StateKey{
		Level:    bucket(s.WaterLevel / levelBucket),
		Rate:     bucket(s.RateOfChange * rateBuckets),
		Precip:   bucket(s.Precipitation / precipBucket),
		Night:    s.Night,
		Previous: prev,
	}
}

func bucket(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Floor(math.Max(-bucketLimit, math.Min(bucketLimit, v))))
}

// String renders the key in its canonical flat form, for example
// "lvl=10|roc=1.5|pcp=20|tod=night|prev=watch".
func (k StateKey) String() string {
	tod := "day"
	if k.Night {
		tod = "night"
	}
	return fmt.Sprintf("lvl=%d|roc=%s|pcp=%d|tod=%s|prev=%s",
		k.Level*int(levelBucket),
		strconv.FormatFloat(float64(k.Rate)/rateBuckets, 'f', 1, 64),
		k.Precip*int(precipBucket),
		tod,
		k.Previous,
	)
}

// MarshalText implements encoding.TextMarshaler.
func (k StateKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *StateKey) UnmarshalText(b []byte) error {
	parsed, err := ParseStateKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

var keyFields = []string{"lvl", "roc", "pcp", "tod", "prev"}

// ParseStateKey parses the canonical form produced by String. Anything that
// does not re-render to exactly the same text is rejected.
func ParseStateKey(s string) (StateKey, error) {
	parts := strings.Split(s, "|")
	if len(parts) != len(keyFields) {
		return StateKey{}, fmt.Errorf("state key %q: want %d fields, got %d", s, len(keyFields), len(parts))
	}
	vals := make([]string, len(parts))
	for i, part := range parts {
		name, val, ok := strings.Cut(part, "=")
		if !ok || name != keyFields[i] {
			return StateKey{}, fmt.Errorf("state key %q: field %d must be %q", s, i, keyFields[i])
		}
		vals[i] = val
	}

	var k StateKey
	level, err := strconv.Atoi(vals[0])
	if err != nil || level%int(levelBucket) != 0 {
		return StateKey{}, fmt.Errorf("state key %q: bad level bucket %q", s, vals[0])
	}
	k.Level = level / int(levelBucket)

	rate, err := strconv.ParseFloat(vals[1], 64)
	if err != nil || math.IsNaN(rate) || math.IsInf(rate, 0) || rate*rateBuckets != math.Trunc(rate*rateBuckets) {
		return StateKey{}, fmt.Errorf("state key %q: bad rate bucket %q", s, vals[1])
	}
	k.Rate = int(rate * rateBuckets)

	precip, err := strconv.Atoi(vals[2])
	if err != nil || precip%int(precipBucket) != 0 {
		return StateKey{}, fmt.Errorf("state key %q: bad precipitation bucket %q", s, vals[2])
	}
	k.Precip = precip / int(precipBucket)

	switch vals[3] {
	case "day":
	case "night":
		k.Night = true
	default:
		return StateKey{}, fmt.Errorf("state key %q: bad time of day %q", s, vals[3])
	}

	k.Previous = types.AlertAction(vals[4])
	if !k.Previous.Valid() {
		return StateKey{}, fmt.Errorf("state key %q: unknown previous action %q", s, vals[4])
	}

	if k.String() != s {
		return StateKey{}, fmt.Errorf("state key %q is not in canonical form", s)
	}
	return k, nil
}

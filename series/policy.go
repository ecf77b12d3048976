package series

import (
	"fmt"
	"strings"
)

// Policy selects how a value is resolved at a time that may fall between samples.
type Policy int

const (
	// PolicyExact returns only a sample recorded at exactly the target time of day.
	PolicyExact Policy = iota
	// PolicyNearest returns the closest sample, preferring the earlier one on ties.
	PolicyNearest
	// PolicyInterpolate blends the two surrounding samples linearly and clamps outside the range.
	PolicyInterpolate
)

var policyNames = map[Policy]string{
	PolicyExact:       "exact",
	PolicyNearest:     "nearest",
	PolicyInterpolate: "interpolate",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy accepts exact|nearest|interpolate (plus a few spellings used in configs).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact", "exact-or-null":
		return PolicyExact, nil
	case "nearest":
		return PolicyNearest, nil
	case "interpolate", "linear", "linear-interpolate":
		return PolicyInterpolate, nil
	default:
		return 0, fmt.Errorf("unknown resolution policy %q (expected exact|nearest|interpolate)", s)
	}
}

// MarshalText implements encoding.TextMarshaler so policies round-trip through YAML and JSON.
func (p Policy) MarshalText() ([]byte, error) {
	if _, ok := policyNames[p]; !ok {
		return nil, fmt.Errorf("unknown resolution policy %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

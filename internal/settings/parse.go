package settings

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// ParseInt accepts a JSON number, a numeric string or {"value": ...}.
func ParseInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	var n int
	if errUnmarshal := json.Unmarshal(raw, &n); errUnmarshal == nil {
		return n, true
	}
	var f float64
	if errUnmarshal := json.Unmarshal(raw, &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		if parsed, errParse := strconv.Atoi(strings.TrimSpace(s)); errParse == nil {
			return parsed, true
		}
		return 0, false
	}
	if inner, ok := unwrap(raw); ok {
		return ParseInt(inner)
	}
	return 0, false
}

// ParseBool accepts a JSON boolean, "true"/"false" strings or {"value": ...}.
func ParseBool(raw json.RawMessage) (bool, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false, false
	}
	var b bool
	if errUnmarshal := json.Unmarshal(raw, &b); errUnmarshal == nil {
		return b, true
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		if parsed, errParse := strconv.ParseBool(strings.TrimSpace(s)); errParse == nil {
			return parsed, true
		}
		return false, false
	}
	if inner, ok := unwrap(raw); ok {
		return ParseBool(inner)
	}
	return false, false
}

// ParseDecimal accepts a JSON number, a numeric string or {"value": ...}.
func ParseDecimal(raw json.RawMessage) (decimal.Decimal, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return decimal.Zero, false
	}
	var s string
	if errUnmarshal := json.Unmarshal(raw, &s); errUnmarshal == nil {
		d, errParse := decimal.NewFromString(strings.TrimSpace(s))
		return d, errParse == nil
	}
	if raw[0] == '{' {
		if inner, ok := unwrap(raw); ok {
			return ParseDecimal(inner)
		}
		return decimal.Zero, false
	}
	d, errParse := decimal.NewFromString(string(raw))
	return d, errParse == nil
}

func unwrap(raw json.RawMessage) (json.RawMessage, bool) {
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal(raw, &wrapper); errUnmarshal != nil || len(wrapper.Value) == 0 {
		return nil, false
	}
	return wrapper.Value, true
}

// Bool returns the stored boolean for key or fallback.
func Bool(key string, fallback bool) bool {
	if raw, ok := Value(key); ok {
		if b, okParse := ParseBool(raw); okParse {
			return b
		}
	}
	return fallback
}

// Int returns the stored positive integer for key or fallback.
func Int(key string, fallback int) int {
	if raw, ok := Value(key); ok {
		if n, okParse := ParseInt(raw); okParse && n > 0 {
			return n
		}
	}
	return fallback
}

// Decimal returns the stored decimal for key or fallback.
func Decimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if raw, ok := Value(key); ok {
		if d, okParse := ParseDecimal(raw); okParse {
			return d
		}
	}
	return fallback
}

// Seconds returns the stored number of seconds for key as a duration or
// fallback. Values above MaxIntervalSeconds are ignored.
func Seconds(key string, fallback time.Duration) time.Duration {
	if n := Int(key, 0); n > 0 && n <= MaxIntervalSeconds {
		return time.Duration(n) * time.Second
	}
	return fallback
}

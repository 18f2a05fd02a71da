package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, handling
// upstream catalogs that encode the same field as a string, number, or
// boolean depending on the portal. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	// Try string first
	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	// Try number
	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	// Try boolean
	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	// Fallback: return raw string representation
	return string(raw)
}

// FlexibleInt64Value converts a json.RawMessage to an int64, accepting
// numbers, numeric strings, and formatted counts like "1,234". Returns 0
// when the value is absent or unparseable.
func FlexibleInt64Value(raw json.RawMessage) int64 {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return int64(numVal)
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		strVal = strings.ReplaceAll(strings.TrimSpace(strVal), ",", "")
		if n, err := strconv.ParseInt(strVal, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(strVal, 64); err == nil {
			return int64(f)
		}
	}

	return 0
}

// FlexibleFloatValue converts a json.RawMessage to a float64, accepting
// numbers and numeric strings. Returns 0 when absent or unparseable.
func FlexibleFloatValue(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return numVal
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(strVal), 64); err == nil {
			return f
		}
	}

	return 0
}

// FlexibleBoolValue converts a json.RawMessage to a bool, accepting booleans
// and the usual string spellings ("true", "yes", "1"). Returns def when the
// value is absent or unrecognized.
func FlexibleBoolValue(raw json.RawMessage, def bool) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return def
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return boolVal
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		switch strings.ToLower(strings.TrimSpace(strVal)) {
		case "true", "yes", "y", "1":
			return true
		case "false", "no", "n", "0":
			return false
		}
	}

	return def
}

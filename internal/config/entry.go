package config

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// String returns a string value from the entry data, or "" when absent
func (e Entry) String(key string) string {
	switch v := e.Data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Float returns a numeric value from the entry data
func (e Entry) Float(key string) (float64, bool) {
	return ToFloat(e.Data[key])
}

// Bool returns a boolean value from the entry data
func (e Entry) Bool(key string) bool {
	switch v := e.Data[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Strings returns a list of strings from the entry data
func (e Entry) Strings(key string) []string {
	switch v := e.Data[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

// ToFloat converts the numeric types produced by YAML and JSON decoding
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

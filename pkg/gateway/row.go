package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// Row is one loosely typed record.
type Row map[string]any

// String returns the first non-blank value among keys, rendered as a string.
func (r Row) String(keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case []byte:
			s = string(t)
		default:
			s = fmt.Sprint(t)
		}
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// Bool interprets a column as a boolean. SQLite hands back integers and some
// imports store "true"/"false" strings; anything unrecognized is false.
func (r Row) Bool(key string) bool {
	switch t := r[key].(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case []byte:
		b, err := strconv.ParseBool(strings.TrimSpace(string(t)))
		return err == nil && b
	default:
		return false
	}
}

// ID returns the identifier column as a string. JSON numbers decode as
// float64, so integral values are printed without a fraction.
func (r Row) ID() string {
	switch t := r["id"].(type) {
	case nil:
		return ""
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return r.String("id")
	}
}

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ContainsFold reports whether any of the given columns contains needle, ignoring case.
func (r Row) ContainsFold(needle string, columns ...string) bool {
	needle = strings.ToLower(needle)
	for _, c := range columns {
		if strings.Contains(strings.ToLower(r.String(c)), needle) {
			return true
		}
	}
	return false
}

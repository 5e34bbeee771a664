package engine

import (
	"math"
	"strings"

	"github.com/spf13/cast"
)

// ValueColumn is the alias every catalog query is expected to give its result.
const ValueColumn = "value"

// ExtractValue reduces a result set to one number. It never fails: an empty
// result, a missing value or anything non-numeric yields 0.
func ExtractValue(rows []Row) float64 {
	if len(rows) == 0 {
		return 0
	}
	first := rows[0]
	for i, c := range first.Columns {
		if c == ValueColumn {
			return toNumber(first.Values[i])
		}
	}
	// Fallback for ad hoc diagnostic queries without a value alias.
	if len(first.Values) == 0 {
		return 0
	}
	return toNumber(first.Values[0])
}

func toNumber(v interface{}) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case []byte:
		v = string(t)
	}
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

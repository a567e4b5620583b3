package expr

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Truthy applies JSON-logic truthiness: false, 0, "", null and empty arrays are falsy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	}
	if n, ok := numeric(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	return true
}

// numeric converts Go number types without coercing strings or booleans.
func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}

// toNumber applies loose numeric coercion. null is 0, booleans are 0/1 and
// numeric strings parse.
func toNumber(v any) (float64, bool) {
	if n, ok := numeric(v); ok {
		return n, true
	}
	switch t := v.(type) {
	case nil:
		return 0, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, true
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	}
	if n, ok := numeric(v); ok {
		return formatNumber(n)
	}
	return fmt.Sprint(v)
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// looseEqual mirrors JSON-logic "==": numbers and numeric strings compare
// by value, booleans compare as 0/1, null equals only null.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return as == bs
	}

	_, aArr := a.([]any)
	_, bArr := b.([]any)
	if aArr || bArr {
		return reflect.DeepEqual(a, b)
	}

	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		return an == bn
	}
	return false
}

// order evaluates a relational operator. Two strings compare lexically,
// anything else must coerce to numbers.
func order(op string, a, b any) (bool, error) {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return compareOrdered(op, strings.Compare(as, bs)), nil
	}

	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if !aok || !bok {
		return false, fmt.Errorf("%w: cannot compare %v %s %v", ErrType, a, op, b)
	}
	if math.IsNaN(an) || math.IsNaN(bn) {
		return false, nil
	}
	cmp := 0
	switch {
	case an < bn:
		cmp = -1
	case an > bn:
		cmp = 1
	}
	return compareOrdered(op, cmp), nil
}

func compareOrdered(op string, cmp int) bool {
	switch op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	}
	return false
}

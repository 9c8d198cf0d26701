package expr

import "fmt"

// value is the tagged union every sub-expression evaluates to: either a
// float64 (all numbers, including booleans coerced for arithmetic) or a
// string. Keeping this narrow is what keeps the evaluator safe — there is
// no way to construct a function, a list, or anything else host-visible.
type value struct {
	isString bool
	num      float64
	str      string
}

func numValue(n float64) value { return value{num: n} }
func strValue(s string) value  { return value{isString: true, str: s} }
func boolValue(b bool) value {
	if b {
		return numValue(1)
	}
	return numValue(0)
}

func (v value) truthy() bool {
	if v.isString {
		return v.str != ""
	}
	return v.num != 0
}

func (v value) asFloat() (float64, error) {
	if v.isString {
		return 0, fmt.Errorf("cannot use string %q as a number", v.str)
	}
	return v.num, nil
}

// coerce converts any value looked up from a Scope into an expr value.
// Absent/nil binds to numeric 0 per spec.md §4.5.
func coerce(raw any) value {
	switch t := raw.(type) {
	case nil:
		return numValue(0)
	case bool:
		return boolValue(t)
	case string:
		return strValue(t)
	case int:
		return numValue(float64(t))
	case int64:
		return numValue(float64(t))
	case float64:
		return numValue(t)
	case float32:
		return numValue(float64(t))
	default:
		return numValue(0)
	}
}

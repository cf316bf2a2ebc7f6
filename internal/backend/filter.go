package backend

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Match evaluates filters against a record. All filters must hold.
func Match(rec Record, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(rec, f) {
			return false
		}
	}
	return true
}

func matchOne(rec Record, f Filter) bool {
	if len(f.All) > 0 {
		return Match(rec, f.All)
	}
	if len(f.Any) > 0 {
		for _, alt := range f.Any {
			if matchOne(rec, alt) {
				return true
			}
		}
		return false
	}

	v, present := rec[f.Column]
	switch f.Op {
	case OpEq:
		return present && Compare(v, f.Value) == 0
	case OpGt:
		return present && v != nil && Compare(v, f.Value) > 0
	case OpIn:
		values, _ := f.Value.([]any)
		for _, candidate := range values {
			if present && Compare(v, candidate) == 0 {
				return true
			}
		}
		return false
	case OpILike:
		needle, _ := f.Value.(string)
		return present && strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(needle))
	case OpIsNil:
		return !present || v == nil || isNilTime(v)
	}
	return false
}

func isNilTime(v any) bool {
	t, ok := v.(*time.Time)
	return ok && t == nil
}

// Compare orders two column values. Times compare chronologically, numbers
// numerically, booleans false<true and everything else by string form. nil
// sorts first.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// SortRecords orders rows in place. Ties keep their original order.
func SortRecords(rows []Record, order []Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			c := Compare(rows[i][o.Column], rows[j][o.Column])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

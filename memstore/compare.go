package memstore

import (
	"cmp"
	"reflect"
	"time"

	"github.com/jacentio/docload/loader"
)

// Type ranks order values of different types against each other.
const (
	rankNil = iota
	rankBool
	rankNumber
	rankTime
	rankString
	rankKey
	rankOther
)

func rank(v any) (int, any) {
	switch x := v.(type) {
	case nil:
		return rankNil, nil
	case bool:
		return rankBool, x
	case int:
		return rankNumber, float64(x)
	case int8:
		return rankNumber, float64(x)
	case int16:
		return rankNumber, float64(x)
	case int32:
		return rankNumber, float64(x)
	case int64:
		return rankNumber, float64(x)
	case uint:
		return rankNumber, float64(x)
	case uint8:
		return rankNumber, float64(x)
	case uint16:
		return rankNumber, float64(x)
	case uint32:
		return rankNumber, float64(x)
	case uint64:
		return rankNumber, float64(x)
	case float32:
		return rankNumber, float64(x)
	case float64:
		return rankNumber, x
	case time.Time:
		return rankTime, x
	case string:
		return rankString, x
	case *loader.Key:
		return rankKey, x
	default:
		return rankOther, v
	}
}

// compareValues orders a and b. ok is false when they cannot be ordered
// (maps, slices and other composite values).
func compareValues(a, b any) (c int, ok bool) {
	ra, va := rank(a)
	rb, vb := rank(b)
	if ra == rankOther || rb == rankOther {
		return 0, false
	}
	if ra != rb {
		return cmp.Compare(ra, rb), true
	}
	switch ra {
	case rankNil:
		return 0, true
	case rankBool:
		x, y := va.(bool), vb.(bool)
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case rankNumber:
		return cmp.Compare(va.(float64), vb.(float64)), true
	case rankTime:
		return va.(time.Time).Compare(vb.(time.Time)), true
	case rankKey:
		return va.(*loader.Key).Compare(vb.(*loader.Key)), true
	default:
		return cmp.Compare(va.(string), vb.(string)), true
	}
}

func equalValues(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// matches evaluates one filter against a field value.
func matches(value any, f loader.Filter) bool {
	switch f.Op {
	case loader.Equal:
		return equalValues(value, f.Value)
	case loader.NotEqual:
		return !equalValues(value, f.Value)
	case loader.In:
		rv := reflect.ValueOf(f.Value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if equalValues(value, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	}

	// Inequalities only match values of the same type.
	ra, _ := rank(value)
	rb, _ := rank(f.Value)
	if ra != rb {
		return false
	}
	c, ok := compareValues(value, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case loader.LessThan:
		return c < 0
	case loader.LessOrEqual:
		return c <= 0
	case loader.GreaterThan:
		return c > 0
	case loader.GreaterOrEqual:
		return c >= 0
	}
	return false
}

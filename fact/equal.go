package fact

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// Equal is structural equality over fact values. Numbers compare by value
// regardless of representation (2, 2.0, json.Number("2")). Maps compare
// key by key, slices element-wise. nil equals only nil.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if na, ok := toNumber(a); ok {
		nb, ok := toNumber(b)
		return ok && na.equal(nb)
	}
	if _, ok := toNumber(b); ok {
		return false
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch va.Kind() {
	case reflect.String:
		return vb.Kind() == reflect.String && va.String() == vb.String()
	case reflect.Bool:
		return vb.Kind() == reflect.Bool && va.Bool() == vb.Bool()
	case reflect.Map:
		return vb.Kind() == reflect.Map && mapsEqual(va, vb)
	case reflect.Slice, reflect.Array:
		return (vb.Kind() == reflect.Slice || vb.Kind() == reflect.Array) && slicesEqual(va, vb)
	}
	return reflect.DeepEqual(a, b)
}

func mapsEqual(a, b reflect.Value) bool {
	if a.IsNil() != b.IsNil() {
		return false
	}
	if a.Len() != b.Len() {
		return false
	}
	// String keys are matched by content so map[string]any and
	// map[string]int with the same entries compare equal.
	bIndex := make(map[string]reflect.Value, b.Len())
	stringKeys := a.Type().Key().Kind() == reflect.String && b.Type().Key().Kind() == reflect.String
	if stringKeys {
		iter := b.MapRange()
		for iter.Next() {
			bIndex[iter.Key().String()] = iter.Value()
		}
	}

	iter := a.MapRange()
	for iter.Next() {
		var bv reflect.Value
		if stringKeys {
			var ok bool
			if bv, ok = bIndex[iter.Key().String()]; !ok {
				return false
			}
		} else {
			if !iter.Key().Type().AssignableTo(b.Type().Key()) {
				return false
			}
			bv = b.MapIndex(iter.Key())
			if !bv.IsValid() {
				return false
			}
		}
		if !Equal(iter.Value().Interface(), bv.Interface()) {
			return false
		}
	}
	return true
}

func slicesEqual(a, b reflect.Value) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i := 0; i < a.Len(); i++ {
		if !Equal(a.Index(i).Interface(), b.Index(i).Interface()) {
			return false
		}
	}
	return true
}

// number holds an exact integer when one is available, otherwise a float
type number struct {
	isInt bool
	neg   bool
	mag   uint64
	f     float64
}

func (n number) equal(o number) bool {
	if n.isInt && o.isInt {
		return n.neg == o.neg && n.mag == o.mag || (n.mag == 0 && o.mag == 0)
	}
	return n.float() == o.float()
}

func (n number) float() float64 {
	if !n.isInt {
		return n.f
	}
	if n.neg {
		return -float64(n.mag)
	}
	return float64(n.mag)
}

func fromInt(i int64) number {
	if i < 0 {
		return number{isInt: true, neg: true, mag: uint64(-(i + 1)) + 1}
	}
	return number{isInt: true, mag: uint64(i)}
}

func fromFloat(f float64) number {
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return fromInt(int64(f))
	}
	return number{f: f}
}

// ToFloat64 converts any numeric value (including json.Number and numeric
// strings) to float64.
func ToFloat64(v any) (float64, bool) {
	if n, ok := toNumber(v); ok {
		return n.float(), true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func toNumber(v any) (number, bool) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return fromInt(i), true
		}
		if u, err := strconv.ParseUint(string(x), 10, 64); err == nil {
			return number{isInt: true, mag: u}, true
		}
		f, err := x.Float64()
		if err != nil {
			return number{}, false
		}
		return fromFloat(f), true
	case float64:
		return fromFloat(x), true
	case float32:
		return fromFloat(float64(x)), true
	case int:
		return fromInt(int64(x)), true
	case int8:
		return fromInt(int64(x)), true
	case int16:
		return fromInt(int64(x)), true
	case int32:
		return fromInt(int64(x)), true
	case int64:
		return fromInt(x), true
	case uint:
		return number{isInt: true, mag: uint64(x)}, true
	case uint8:
		return number{isInt: true, mag: uint64(x)}, true
	case uint16:
		return number{isInt: true, mag: uint64(x)}, true
	case uint32:
		return number{isInt: true, mag: uint64(x)}, true
	case uint64:
		return number{isInt: true, mag: x}, true
	}
	return number{}, false
}

// DeepCopy copies maps and slices recursively. Scalars are returned as is.
func DeepCopy(v any) any {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = DeepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = DeepCopy(val)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyValue(iter.Value(), rv.Type().Elem()))
		}
		return out.Interface()
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyValue(rv.Index(i), rv.Type().Elem()))
		}
		return out.Interface()
	}
	return v
}

func copyValue(v reflect.Value, elem reflect.Type) reflect.Value {
	if !v.IsValid() || (v.Kind() == reflect.Interface && v.IsNil()) {
		return reflect.Zero(elem)
	}
	c := DeepCopy(v.Interface())
	if c == nil {
		return reflect.Zero(elem)
	}
	return reflect.ValueOf(c)
}

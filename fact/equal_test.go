package fact

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil vs zero", nil, 0, false},
		{"int vs float", 2, 2.0, true},
		{"int vs json.Number", json.Number("2"), 2, true},
		{"json.Number float", json.Number("2.50"), 2.5, true},
		{"different numbers", 2, 3, false},
		{"int64 extremes", int64(math.MinInt64), int64(math.MinInt64), true},
		{"uint64 large", uint64(math.MaxUint64), json.Number("18446744073709551615"), true},
		{"negative zero", 0.0, math.Copysign(0, -1), true},
		{"string vs number", "2", 2, false},
		{"strings", "tier 3", "tier 3", true},
		{"bools", true, false, false},
		{"string vs bool", "true", true, false},
		{"maps by value", map[string]any{"a": 1}, map[string]any{"a": 1.0}, true},
		{"maps of different types", map[string]int{"a": 1}, map[string]any{"a": json.Number("1")}, true},
		{"maps missing key", map[string]any{"a": 1}, map[string]any{"b": 1}, false},
		{"maps different size", map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}, false},
		{"slices", []any{1, "x"}, []any{1.0, "x"}, true},
		{"typed slices", []int{1, 2}, []any{1, 2}, true},
		{"slice order", []any{1, 2}, []any{2, 1}, false},
		{"nested", map[string]any{"p": []any{map[string]any{"t": 1}}}, map[string]any{"p": []any{map[string]any{"t": 1.0}}}, true},
		{"map vs slice", map[string]any{}, []any{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, Equal(tt.b, tt.a), "symmetric")
		})
	}
}

func TestToFloat64(t *testing.T) {
	f, ok := ToFloat64(json.Number("12.5"))
	assert.True(t, ok)
	assert.Equal(t, 12.5, f)

	f, ok = ToFloat64("45")
	assert.True(t, ok)
	assert.Equal(t, 45.0, f)

	_, ok = ToFloat64("n/a")
	assert.False(t, ok)
	_, ok = ToFloat64(nil)
	assert.False(t, ok)
}

func TestDeepCopy_TypedContainers(t *testing.T) {
	src := map[string][]int{"a": {1, 2}}
	dst := DeepCopy(src).(map[string][]int)
	dst["a"][0] = 9
	assert.Equal(t, 1, src["a"][0])

	assert.Equal(t, "x", DeepCopy("x"))
	assert.Nil(t, DeepCopy(nil))
}

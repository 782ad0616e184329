package rule

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoerceString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  interface{}
	}{
		{"empty", "", ""},
		{"blank", "   \t", ""},
		{"true literal", "true", true},
		{"false literal", " false ", false},
		{"capitalized true stays string", "True", "True"},
		{"integer", "50", 50.0},
		{"negative float", "-12.5", -12.5},
		{"padded number", "  42 ", 42.0},
		{"exponent", "1e3", 1000.0},
		{"infinity stays string", "Infinity", "Infinity"},
		{"inf stays string", "inf", "inf"},
		{"nan stays string", "NaN", "NaN"},
		{"overflow stays string", "1e400", "1e400"},
		{"plain text", "on", "on"},
		{"text trimmed", "  open valve ", "open valve"},
		{"numeric prefix", "50C", "50C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CoerceString(tt.input))
		})
	}
}

func TestCoerceValue(t *testing.T) {
	assert.Nil(t, CoerceValue(nil))
	assert.Equal(t, 3, CoerceValue(3))
	assert.Equal(t, true, CoerceValue(true))
	assert.Equal(t, 7.5, CoerceValue("7.5"))
}

func TestCoerceStringIdempotent(t *testing.T) {
	inputs := []string{"0", "50", "-3.25", "1e3", "true", "false", "0.1", "  17  ", "hello", ""}

	for _, in := range inputs {
		first := CoerceString(in)
		var again interface{}
		switch v := first.(type) {
		case float64:
			again = CoerceString(strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			again = CoerceString(strconv.FormatBool(v))
		case string:
			again = CoerceString(v)
		default:
			t.Fatalf("CoerceString(%q) returned %T", in, first)
		}
		assert.Equal(t, first, again, "input %q", in)
	}
}

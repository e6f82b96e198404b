package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_Scalars(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", Str("hello"), `"hello"`},
		{"empty string", Str(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-7), "-7"},
		{"min int64", Int(-9223372036854775808), "-9223372036854775808"},
		{"bool", Bool(true), "true"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array", Array{Int(1), Str("x")}, `[1,"x"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalCanonical_SortsKeysByUTF16(t *testing.T) {
	// U+10000 encodes as the surrogate pair 0xD800 0xDC00 and therefore
	// sorts before U+E000 in UTF-16, the reverse of UTF-8 byte order.
	obj := Object{
		"\uE000":     Int(1),
		"\U00010000": Int(2),
		"b":          Int(3),
		"a":          Object{"z": Int(1), "y": Int(2)},
	}

	got, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":{\"y\":2,\"z\":1},\"b\":3,\"\U00010000\":2,\"\uE000\":1}", string(got))
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical(Str("<a&b>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(got))
}

func TestMarshalCanonical_ControlCharacters(t *testing.T) {
	got, err := MarshalCanonical(Str("a\nb\x01\"\\"))
	require.NoError(t, err)
	assert.Equal(t, `"a\nb\u0001\"\\"`, string(got))
}

func TestMarshalCanonical_NFCNormalizes(t *testing.T) {
	composed, err := MarshalCanonical(Str("\u00e9"))
	require.NoError(t, err)
	decomposed, err := MarshalCanonical(Str("e\u0301"))
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonical_RejectsNullAndFloats(t *testing.T) {
	_, err := MarshalCanonical(Null{})
	assert.Error(t, err)

	_, err = MarshalCanonical(Object{"x": Null{}})
	assert.Error(t, err)

	_, err = MarshalCanonical(1.5)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": 1.5})
	assert.Error(t, err)
}

func TestMarshalCanonical_FixedPoint(t *testing.T) {
	obj := Object{
		"kind":  Str("binop"),
		"attrs": Object{"op": Str("add"), "width": Int(64), "flags": Array{Bool(true)}},
	}
	first, err := MarshalCanonical(obj)
	require.NoError(t, err)

	second, err := canonicalRoundTrip(first)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

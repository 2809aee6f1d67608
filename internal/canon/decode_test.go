package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTrip(t *testing.T) {
	inputs := []string{
		`{"a":1,"b":"x","c":true}`,
		`{"burn":14.4,"objective":0.99}`,
		`{"nested":{"arr":[1,"two",false],"d":0.05}}`,
		`[]`,
		`{}`,
		`"plain"`,
		`-42`,
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			v, err := Decode([]byte(in))
			require.NoError(t, err)
			out, err := MarshalCanonical(v)
			require.NoError(t, err)
			assert.Equal(t, in, string(out))
		})
	}
}

func TestDecodeRejectsNull(t *testing.T) {
	_, err := Decode([]byte(`{"a":null}`))
	require.Error(t, err)
}

func TestDecodeRejectsTrailing(t *testing.T) {
	_, err := Decode([]byte(`{}{}`))
	require.Error(t, err)
}

func TestDecodeObject(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"k":5}`))
	require.NoError(t, err)
	assert.Equal(t, Int(5), obj["k"])

	_, err = DecodeObject([]byte(`[1]`))
	require.Error(t, err)
}

func TestDecodePreservesNumberLiterals(t *testing.T) {
	// 1e2 must stay "1e2", not become 100 or 100.0.
	v, err := Decode([]byte(`{"x":1e2}`))
	require.NoError(t, err)
	out, err := MarshalCanonical(v)
	require.NoError(t, err)
	assert.Equal(t, `{"x":1e2}`, string(out))
}

func TestDecodeLargeIntegers(t *testing.T) {
	v, err := Decode([]byte(`9223372036854775807`))
	require.NoError(t, err)
	assert.Equal(t, Int(9223372036854775807), v)
}

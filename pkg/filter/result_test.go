package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResultJSONRoundTrip(t *testing.T) {
	r := NewResult()
	r.InputAttrs["in"] = "digest-in"
	r.OutputAttrs["out"] = "digest-out"
	r.Score = 0.875
	r.CacheOutput = true

	encoded, err := r.Encode()
	require.NoError(t, err)

	decoded, err := DecodeResult(encoded)
	require.NoError(t, err)
	require.Equal(t, r.InputAttrs, decoded.InputAttrs)
	require.Equal(t, r.OutputAttrs, decoded.OutputAttrs)
	require.Equal(t, r.Score, decoded.Score)
	require.False(t, decoded.CacheOutput, "CacheOutput is never persisted")
}

func TestResultEncodeUsesExactlyThreeKeys(t *testing.T) {
	r := NewResult()
	r.Score = 1

	encoded, err := r.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"input_attrs":{},"output_attrs":{},"score":1}`, string(encoded))
}

func TestDecodeResultMissingFieldIsAbsentNotError(t *testing.T) {
	decoded, err := DecodeResult([]byte(`{"input_attrs":{},"score":1}`))
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestDecodeResultMalformedJSONIsError(t *testing.T) {
	_, err := DecodeResult([]byte(`not json`))
	require.Error(t, err)
}

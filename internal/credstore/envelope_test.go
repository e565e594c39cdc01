package credstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		value any
	}{
		{"plain map", map[string]any{"registrationId": float64(42)}},
		{"byte buffer", map[string]any{"signedPreKey": []byte{0x01, 0x02, 0xff}}},
		{"nested buffers", map[string]any{
			"identity": map[string]any{
				"public":  []byte{0xde, 0xad},
				"private": []byte{0xbe, 0xef},
			},
		}},
		{"buffer inside array", map[string]any{
			"preKeys": []any{
				map[string]any{"keyId": float64(1), "public": []byte{0x01}},
				map[string]any{"keyId": float64(2), "public": []byte{0x02}},
			},
		}},
		{"nil", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := encodeValue(tc.value)
			raw, err := json.Marshal(encoded)
			require.NoError(t, err)

			var roundTripped any
			require.NoError(t, json.Unmarshal(raw, &roundTripped))
			decoded := decodeValue(roundTripped)

			assertStructurallyEqual(t, tc.value, decoded)
		})
	}
}

// assertStructurallyEqual walks the original value and the decoded one in
// step: maps by key, slices by index, and every leaf (including the []byte
// buffers the envelope reconstructs) with assert.Equal, so a failure names
// the leaf that differs.
func assertStructurallyEqual(t *testing.T, original, decoded any) {
	t.Helper()

	switch orig := original.(type) {
	case []byte:
		assert.Equal(t, orig, decoded)
	case map[string]any:
		decodedMap, ok := decoded.(map[string]any)
		require.True(t, ok)
		require.Equal(t, len(orig), len(decodedMap))
		for k, v := range orig {
			assertStructurallyEqual(t, v, decodedMap[k])
		}
	case []any:
		decodedSlice, ok := decoded.([]any)
		require.True(t, ok)
		require.Equal(t, len(orig), len(decodedSlice))
		for i, v := range orig {
			assertStructurallyEqual(t, v, decodedSlice[i])
		}
	default:
		assert.Equal(t, original, decoded)
	}
}

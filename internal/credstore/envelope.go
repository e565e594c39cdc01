package credstore

import "encoding/base64"

// bytesTagKey marks a byte buffer inside an arbitrary JSON-shaped credential
// value. Go's encoding/json already base64-encodes []byte, but a bare
// base64 string is indistinguishable from a plain string field, so every
// []byte is wrapped in a small tagged envelope before marshalling and
// unwrapped on the way back out. Every []byte held in maps and slices comes
// back with the same bytes; a plain map whose only key is "$bytes" with a
// valid base64 string value cannot be told apart from an envelope and also
// decodes to a []byte.
const bytesTagKey = "$bytes"

// encodeValue recursively walks an arbitrary Go value tree (as produced by
// json.Unmarshal into interface{}, or built directly by callers) and
// replaces every []byte with a {"$bytes": "<base64>"} envelope.
func encodeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return map[string]any{bytesTagKey: base64.StdEncoding.EncodeToString(val)}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = encodeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = encodeValue(item)
		}
		return out
	default:
		return v
	}
}

// decodeValue reverses encodeValue: any {"$bytes": "<base64>"} envelope is
// restored to a []byte, recursively.
func decodeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if encoded, ok := val[bytesTagKey].(string); ok {
				if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil {
					return decoded
				}
			}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = decodeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = decodeValue(item)
		}
		return out
	default:
		return v
	}
}

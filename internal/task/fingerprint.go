package task

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint derives the deterministic cache key for a task.
//
// The key covers (kind, parameters, principal) so that two tasks asking for
// the same computation on behalf of the same principal share a cache entry,
// while different principals never observe each other's results.
//
// Parameters are serialized as JSON; encoding/json emits map keys in sorted
// order, which makes the encoding canonical for the structured payloads the
// planner produces.
func Fingerprint(kind Kind, parameters map[string]any, principal string) string {
	h := sha256.New()

	writeField := func(data []byte) {
		length := uint64(len(data))
		h.Write([]byte{
			byte(length >> 56), byte(length >> 48), byte(length >> 40), byte(length >> 32),
			byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length),
		})
		h.Write(data)
	}

	writeField([]byte(kind))
	writeField([]byte(principal))

	// Marshal errors only occur for values the planner never emits (channels,
	// funcs); fall back to an empty payload rather than panicking mid-dispatch.
	params, err := json.Marshal(parameters)
	if err != nil {
		params = []byte("{}")
	}
	writeField(params)

	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint is a convenience wrapper over the package-level Fingerprint.
func (t *Task) Fingerprint() string {
	return Fingerprint(t.Kind, t.Parameters, t.Principal)
}

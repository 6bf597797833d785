package adapter

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Checksum returns an order-independent digest of a document payload.
//
// The payload is serialized to canonical JSON first: encoding/json emits map
// keys in sorted order at every nesting level, so two payloads that differ
// only in key insertion order always hash identically. Array element order
// is preserved and therefore significant.
func Checksum(data map[string]any) string {
	b, err := json.Marshal(data)
	if err != nil {
		// Non-serializable payloads cannot round-trip through either backend
		// anyway; hash their string form so comparison stays deterministic.
		b = []byte(fmt.Sprintf("%#v", data))
	}
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}

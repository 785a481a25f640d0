package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// hashLength truncates the hex digest for storage economy. 128 bits keeps
// collisions negligible for any realistic cache population.
const hashLength = 32

// NewKey derives the content-addressed key for a validated input. Object
// keys are sorted recursively before hashing, so two structurally identical
// inputs produce the same key regardless of key order.
func NewKey(tenantID, processID string, input any) (Key, error) {
	canonical, err := canonicalJSON(input)
	if err != nil {
		return Key{}, fmt.Errorf("failed to canonicalize input: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(processID))
	h.Write([]byte{0})
	h.Write(canonical)

	return Key{
		TenantID:  tenantID,
		ProcessID: processID,
		Hash:      hex.EncodeToString(h.Sum(nil))[:hashLength],
	}, nil
}

// canonicalJSON serializes value with object keys in sorted order at every
// nesting level. Array order is preserved: it is semantically significant.
func canonicalJSON(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := writeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		scalar, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(scalar)
		return nil
	}
}

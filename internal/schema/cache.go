package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultCacheSize bounds how many compiled schemas are kept. Processes
// re-use the same schema document for every call, so a small cache covers
// the hot set.
const defaultCacheSize = 512

// Cache memoizes compiled schemas keyed by a fingerprint of the raw
// document. It is safe for concurrent use.
type Cache struct {
	compiled *lru.Cache[string, *Schema]
}

// NewCache creates a compiled-schema cache. Size <= 0 uses the default.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	// Size is validated above, so construction cannot fail.
	c, _ := lru.New[string, *Schema](size)
	return &Cache{compiled: c}
}

// Compile returns the compiled schema for raw, compiling and caching it on
// first sight.
func (c *Cache) Compile(raw json.RawMessage) (*Schema, error) {
	key := fingerprint(raw)
	if s, ok := c.compiled.Get(key); ok {
		return s, nil
	}

	s, err := Compile(raw)
	if err != nil {
		return nil, err
	}
	c.compiled.Add(key, s)
	return s, nil
}

func fingerprint(raw json.RawMessage) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

package predictor

import (
	"crypto/sha1"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// resultCache memoizes predictions by image content. A nil cache is a no-op.
type resultCache struct {
	entries *lru.Cache[string, PredictionResult]
}

func newResultCache(size int) (*resultCache, error) {
	if size <= 0 {
		return nil, nil
	}
	entries, err := lru.New[string, PredictionResult](size)
	if err != nil {
		return nil, err
	}
	return &resultCache{entries: entries}, nil
}

func (c *resultCache) get(key string) (PredictionResult, bool) {
	if c == nil {
		return PredictionResult{}, false
	}
	return c.entries.Get(key)
}

func (c *resultCache) put(key string, result PredictionResult) {
	if c == nil {
		return
	}
	c.entries.Add(key, result)
}

func (c *resultCache) purge() {
	if c == nil {
		return
	}
	c.entries.Purge()
}

func (c *resultCache) len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

func imageKey(raw []byte) string {
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}

package indexer

import "sync"

// RequestCache memoises reference data for the duration of a single Process call. It is handed
// to the Extractor explicitly, so nothing outlives the batch it was loaded for.
type RequestCache struct {
	mu     sync.Mutex
	values map[string]interface{}
}

func NewRequestCache() *RequestCache {
	return &RequestCache{values: make(map[string]interface{})}
}

// GetOrLoad returns the value cached under key, calling load to fill it in if missing.
// Failed loads are not cached.
func (c *RequestCache) GetOrLoad(key string, load func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[key]; ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.values[key] = v
	return v, nil
}

// Len returns the number of cached values
func (c *RequestCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

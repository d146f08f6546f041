package core

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"ctrace/internal/trace"
)

// TraceCache remembers traces by source digest. A nil cache never hits.
type TraceCache struct {
	lru *lru.Cache[string, trace.Trace]
}

// NewTraceCache returns nil when size is not positive.
func NewTraceCache(size int) (*TraceCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, trace.Trace](size)
	if err != nil {
		return nil, err
	}
	return &TraceCache{lru: c}, nil
}

func (c *TraceCache) Get(digest string) (trace.Trace, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(digest)
}

func (c *TraceCache) Add(digest string, tr trace.Trace) {
	if c == nil {
		return
	}
	c.lru.Add(digest, tr)
}

func (c *TraceCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

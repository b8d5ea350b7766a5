package oracle

import (
	"context"
	"strings"
	"sync"
)

// StaticFeed serves quotes pushed by Set. Used by devnets and tests.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{quotes: make(map[string]PriceQuote)}
}

func (f *StaticFeed) Set(feedID string, q PriceQuote) {
	f.mu.Lock()
	f.quotes[normalizeID(feedID)] = q
	f.mu.Unlock()
}

func (f *StaticFeed) Remove(feedID string) {
	f.mu.Lock()
	delete(f.quotes, normalizeID(feedID))
	f.mu.Unlock()
}

func (f *StaticFeed) GetQuote(_ context.Context, feedID string) (PriceQuote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.quotes[normalizeID(feedID)]
	if !ok {
		return PriceQuote{}, ErrPriceFeedNotFound
	}
	return q, nil
}

// normalizeID lowercases and strips the 0x prefix so both spellings match.
func normalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.TrimPrefix(id, "0x")
}

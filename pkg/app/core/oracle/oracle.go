package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPriceFeedNotFound covers feeds that cannot be resolved or decoded.
	ErrPriceFeedNotFound = errors.New("price feed not found")
	// ErrPriceStale means the quote is older than the allowed window.
	ErrPriceStale = errors.New("price is stale")
	// ErrInvalidPrice is a non-positive quote. It is a feed-not-found class
	// error: errors.Is(ErrInvalidPrice, ErrPriceFeedNotFound) holds.
	ErrInvalidPrice = fmt.Errorf("%w: non-positive price", ErrPriceFeedNotFound)
)

// PriceQuote is one oracle observation: value = Price × 10^Exponent USD.
// Example: Price=14250000000, Exponent=-8 → $142.50
type PriceQuote struct {
	Price      int64
	Exponent   int32
	ObservedAt time.Time
}

// AgeSeconds returns whole seconds between observation and now.
// Quotes stamped in the future have age 0.
func (q PriceQuote) AgeSeconds(now time.Time) int64 {
	age := now.Unix() - q.ObservedAt.Unix()
	if age < 0 {
		return 0
	}
	return age
}

// Feed resolves the latest raw quote for a feed identifier.
type Feed interface {
	GetQuote(ctx context.Context, feedID string) (PriceQuote, error)
}

// LatestPrice fetches a quote and validates it against now and maxAge.
// There is no retry and no caching: every call reaches the feed.
func LatestPrice(ctx context.Context, feed Feed, feedID string, now time.Time, maxAge time.Duration) (PriceQuote, error) {
	if feed == nil || strings.TrimSpace(feedID) == "" {
		return PriceQuote{}, ErrPriceFeedNotFound
	}

	q, err := feed.GetQuote(ctx, feedID)
	if err != nil {
		if errors.Is(err, ErrPriceFeedNotFound) {
			return PriceQuote{}, err
		}
		return PriceQuote{}, fmt.Errorf("%w: %s: %v", ErrPriceFeedNotFound, feedID, err)
	}
	if q.ObservedAt.IsZero() {
		return PriceQuote{}, fmt.Errorf("%w: %s: missing publish time", ErrPriceFeedNotFound, feedID)
	}
	if q.Price <= 0 {
		return PriceQuote{}, fmt.Errorf("%w: %s: price=%d", ErrInvalidPrice, feedID, q.Price)
	}

	maxAgeSec := int64(maxAge / time.Second)
	if age := now.Unix() - q.ObservedAt.Unix(); age > maxAgeSec {
		return PriceQuote{}, fmt.Errorf("%w: %s: age %ds exceeds %ds", ErrPriceStale, feedID, age, maxAgeSec)
	}

	return q, nil
}

// Adapter binds a feed to one feed identifier and a freshness window.
type Adapter struct {
	feed   Feed
	feedID string
	maxAge time.Duration
}

func NewAdapter(feed Feed, feedID string, maxAge time.Duration) *Adapter {
	return &Adapter{feed: feed, feedID: strings.TrimSpace(feedID), maxAge: maxAge}
}

func (a *Adapter) LatestPrice(ctx context.Context, now time.Time) (PriceQuote, error) {
	return LatestPrice(ctx, a.feed, a.feedID, now, a.maxAge)
}

func (a *Adapter) FeedID() string         { return a.feedID }
func (a *Adapter) MaxAge() time.Duration { return a.maxAge }

package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HermesFeed reads Pyth quotes from a Hermes price service:
//
//	GET {base}/v2/updates/price/latest?ids[]={id}&parsed=true
type HermesFeed struct {
	baseURL string
	client  *http.Client
}

func NewHermesFeed(baseURL string, timeout time.Duration) *HermesFeed {
	return &HermesFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesParsed struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

type hermesResponse struct {
	Parsed []hermesParsed `json:"parsed"`
}

func (f *HermesFeed) GetQuote(ctx context.Context, feedID string) (PriceQuote, error) {
	id := normalizeID(feedID)

	q := url.Values{}
	q.Set("ids[]", id)
	q.Set("parsed", "true")
	endpoint := fmt.Sprintf("%s/v2/updates/price/latest?%s", f.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("hermes request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrPriceFeedNotFound, feedID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("hermes status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PriceQuote{}, fmt.Errorf("%w: decode: %v", ErrPriceFeedNotFound, err)
	}

	for _, p := range out.Parsed {
		if normalizeID(p.ID) != id {
			continue
		}
		price, err := strconv.ParseInt(p.Price.Price, 10, 64)
		if err != nil {
			return PriceQuote{}, fmt.Errorf("%w: price %q: %v", ErrPriceFeedNotFound, p.Price.Price, err)
		}
		return PriceQuote{
			Price:      price,
			Exponent:   p.Price.Expo,
			ObservedAt: time.Unix(p.Price.PublishTime, 0),
		}, nil
	}

	return PriceQuote{}, fmt.Errorf("%w: %s", ErrPriceFeedNotFound, feedID)
}

package marketdata

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/marketglass/client-go/reqcache"
)

// Quote is a single instrument quote on a watchlist.
type Quote struct {
	Code      string  `json:"code" msgpack:"code"`
	Name      string  `json:"name" msgpack:"name"`
	Price     float64 `json:"price" msgpack:"price"`
	ChangePct float64 `json:"changePct" msgpack:"changePct"`
}

// FundDetail is the detail page payload for one fund.
type FundDetail struct {
	Code      string  `json:"code" msgpack:"code"`
	Name      string  `json:"name" msgpack:"name"`
	NetValue  float64 `json:"netValue" msgpack:"netValue"`
	DayGrowth float64 `json:"dayGrowth" msgpack:"dayGrowth"`
	Manager   string  `json:"manager" msgpack:"manager"`
}

// RankingPage is one page of a market ranking.
type RankingPage struct {
	Market  string  `json:"market" msgpack:"market"`
	Page    int     `json:"page" msgpack:"page"`
	Total   int     `json:"total" msgpack:"total"`
	Entries []Quote `json:"entries" msgpack:"entries"`
}

// NewsItem is one article in a news feed.
type NewsItem struct {
	ID      string `json:"id" msgpack:"id"`
	Title   string `json:"title" msgpack:"title"`
	Source  string `json:"source" msgpack:"source"`
	Publish int64  `json:"publish" msgpack:"publish"`
}

const (
	watchlistPath = "/v1/watchlist"
	fundsPath     = "/v1/funds"
	rankingPath   = "/v1/ranking"
	newsPath      = "/v1/news"
)

func (c *Client) key(p string, q url.Values) string {
	return reqcache.BuildKeyQuery(c.baseURL, p, q)
}

func (c *Client) quotePolicy(force bool) reqcache.Policy {
	return reqcache.Policy{
		FreshTTL:     c.cfg.QuoteTTL,
		PersistTTL:   c.cfg.PersistTTL,
		StaleOnError: true,
		Force:        force,
	}
}

func (c *Client) detailPolicy(force bool) reqcache.Policy {
	return reqcache.Policy{
		FreshTTL:     c.cfg.DetailTTL,
		PersistTTL:   c.cfg.PersistTTL,
		StaleOnError: true,
		Force:        force,
	}
}

// WatchlistQuotes returns quotes for the given instrument codes. The code
// list is canonicalized before key construction so the same set of codes
// shares a cache entry regardless of order.
func (c *Client) WatchlistQuotes(ctx context.Context, codes []string, force bool) ([]Quote, error) {
	q := url.Values{"codes": {reqcache.JoinCodes(codes)}}
	p := watchlistPath + "/quotes"
	return reqcache.Get(ctx, c.cache, c.key(p, q), c.quotePolicy(force),
		getJSON[[]Quote](c, p+"?"+q.Encode()))
}

// PeekWatchlistQuotes returns cached quotes without fetching, for
// optimistic pre-fill while a refresh is underway.
func (c *Client) PeekWatchlistQuotes(codes []string) ([]Quote, bool) {
	q := url.Values{"codes": {reqcache.JoinCodes(codes)}}
	return reqcache.Peek[[]Quote](c.cache, c.key(watchlistPath+"/quotes", q))
}

// FundDetail returns the detail payload for one fund.
func (c *Client) FundDetail(ctx context.Context, code string, force bool) (FundDetail, error) {
	p := fundsPath + "/" + code
	return reqcache.Get(ctx, c.cache, c.key(p, nil), c.detailPolicy(force),
		getJSON[FundDetail](c, p))
}

// MarketRanking returns one page of the ranking for a market.
func (c *Client) MarketRanking(ctx context.Context, market string, page int, force bool) (RankingPage, error) {
	q := url.Values{"market": {market}, "page": {strconv.Itoa(page)}}
	return reqcache.Get(ctx, c.cache, c.key(rankingPath, q), c.detailPolicy(force),
		getJSON[RankingPage](c, rankingPath+"?"+q.Encode()))
}

// News returns the feed for a category.
func (c *Client) News(ctx context.Context, category string) ([]NewsItem, error) {
	q := url.Values{"category": {category}}
	return reqcache.Get(ctx, c.cache, c.key(newsPath, q), c.detailPolicy(false),
		getJSON[[]NewsItem](c, newsPath+"?"+q.Encode()))
}

// AddWatchlistItem adds a code to the server-side watchlist. Mutations
// never go through the cache; afterwards every watchlist read (the list
// and the quotes derived from it) is invalidated so the next read refetches.
func (c *Client) AddWatchlistItem(ctx context.Context, code string) error {
	if err := c.do(ctx, http.MethodPost, watchlistPath, map[string]string{"code": code}, nil); err != nil {
		return err
	}
	c.cache.InvalidatePrefix(ctx, reqcache.BuildKey(c.baseURL, watchlistPath))
	return nil
}

// RemoveWatchlistItem removes a code from the server-side watchlist and
// invalidates the watchlist key family plus the fund's own detail entry.
func (c *Client) RemoveWatchlistItem(ctx context.Context, code string) error {
	if err := c.do(ctx, http.MethodDelete, watchlistPath+"/"+code, nil, nil); err != nil {
		return err
	}
	c.cache.InvalidatePrefix(ctx, reqcache.BuildKey(c.baseURL, watchlistPath))
	c.cache.Invalidate(ctx, c.key(fundsPath+"/"+code, nil))
	return nil
}

package blockchain

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

// UniquePriceFeeds resolves tokens to their configured price feeds and
// collapses tokens sharing a feed address into one request, keeping
// first-seen order. Tokens with no feed are left out of the requests.
//
// The returned map records the feed of every resolved token so results can be
// fanned back out with NewPriceLookup.
func UniquePriceFeeds(tokens []common.Address, registry outbound.TokenRegistry) ([]FeedRequest, map[common.Address]common.Address) {
	requests := make([]FeedRequest, 0, len(tokens))
	tokenFeeds := make(map[common.Address]common.Address, len(tokens))
	seen := make(map[common.Address]bool, len(tokens))

	for _, token := range tokens {
		if _, done := tokenFeeds[token]; done {
			continue
		}
		feed, ok := registry.PriceFeed(token)
		if !ok || feed == (common.Address{}) {
			continue
		}
		tokenFeeds[token] = feed
		if seen[feed] {
			continue
		}
		seen[feed] = true
		requests = append(requests, FeedRequest{TokenAddress: token, FeedAddress: feed})
	}

	return requests, tokenFeeds
}

// PriceLookup indexes one fetch cycle's results by lower-cased token and feed
// address. It is immutable once built and safe for concurrent readers.
type PriceLookup struct {
	byKey map[string]entity.PriceFeedResult
}

// NewPriceLookup builds a lookup from results. Every token in tokenFeeds whose
// feed produced a result is indexed with a copy carrying its own TokenAddress.
func NewPriceLookup(results []entity.PriceFeedResult, tokenFeeds map[common.Address]common.Address) *PriceLookup {
	l := &PriceLookup{byKey: make(map[string]entity.PriceFeedResult, len(results)*2+len(tokenFeeds))}

	byFeed := make(map[common.Address]entity.PriceFeedResult, len(results))
	for _, r := range results {
		byFeed[r.FeedAddress] = r
		l.byKey[entity.AddressKey(r.FeedAddress)] = r
		l.byKey[entity.AddressKey(r.TokenAddress)] = r
	}
	for token, feed := range tokenFeeds {
		r, ok := byFeed[feed]
		if !ok {
			continue
		}
		r.TokenAddress = token
		l.byKey[entity.AddressKey(token)] = r
	}
	return l
}

// Get returns the result for a token or feed address.
func (l *PriceLookup) Get(address common.Address) (entity.PriceFeedResult, bool) {
	if l == nil {
		return entity.PriceFeedResult{}, false
	}
	r, ok := l.byKey[entity.AddressKey(address)]
	return r, ok
}

// GetHex is Get for a hex address string in any case.
func (l *PriceLookup) GetHex(address string) (entity.PriceFeedResult, bool) {
	if !common.IsHexAddress(address) {
		return entity.PriceFeedResult{}, false
	}
	return l.Get(common.HexToAddress(address))
}

// Results returns the distinct token-indexed results. Order is unspecified.
func (l *PriceLookup) Results() []entity.PriceFeedResult {
	if l == nil {
		return nil
	}
	seen := make(map[common.Address]bool, len(l.byKey))
	out := make([]entity.PriceFeedResult, 0, len(l.byKey))
	for _, r := range l.byKey {
		if seen[r.TokenAddress] {
			continue
		}
		seen[r.TokenAddress] = true
		out = append(out, r)
	}
	return out
}

// Len returns the number of indexed keys.
func (l *PriceLookup) Len() int {
	if l == nil {
		return 0
	}
	return len(l.byKey)
}

package blockchain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/testutil"
)

func TestUniquePriceFeeds_Dedup(t *testing.T) {
	usdFeed := common.HexToAddress("0x0000000000000000000000000000000000000f01")
	ethFeed := common.HexToAddress("0x0000000000000000000000000000000000000f02")

	reg := testutil.NewMockTokenRegistry()
	tokens := make([]common.Address, 5)
	for i := range tokens {
		tokens[i] = common.BigToAddress(big.NewInt(int64(0x100 + i)))
		feed := usdFeed
		if i >= 3 {
			feed = ethFeed
		}
		reg.AddToken(tokens[i], "T", 18, feed)
	}

	requests, tokenFeeds := UniquePriceFeeds(tokens, reg)
	if len(requests) != 2 {
		t.Fatalf("len(requests) = %d, want 2", len(requests))
	}
	if requests[0].FeedAddress != usdFeed || requests[1].FeedAddress != ethFeed {
		t.Errorf("requests out of first-seen order: %+v", requests)
	}
	if len(tokenFeeds) != 5 {
		t.Errorf("len(tokenFeeds) = %d, want 5", len(tokenFeeds))
	}
}

func TestUniquePriceFeeds_SkipsUnconfigured(t *testing.T) {
	reg := testutil.NewMockTokenRegistry().
		AddToken(usdcToken, "USDC", 6, usdcFeed).
		AddToken(wethToken, "WETH", 18, common.Address{})

	requests, tokenFeeds := UniquePriceFeeds([]common.Address{usdcToken, wethToken, wbtcToken, usdcToken}, reg)
	if len(requests) != 1 || requests[0].TokenAddress != usdcToken {
		t.Errorf("requests = %+v, want only USDC", requests)
	}
	if _, ok := tokenFeeds[wethToken]; ok {
		t.Error("token without feed must not be mapped")
	}
}

func TestPriceLookup(t *testing.T) {
	shared := common.HexToAddress("0x0000000000000000000000000000000000000f01")
	tokenA := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	results := []entity.PriceFeedResult{{
		TokenAddress: tokenA,
		FeedAddress:  shared,
		RawPrice:     big.NewInt(100_000_000),
		FeedDecimals: 8,
		Success:      true,
	}}
	lookup := NewPriceLookup(results, map[common.Address]common.Address{tokenA: shared, tokenB: shared})

	b, ok := lookup.Get(tokenB)
	if !ok {
		t.Fatal("tokenB not indexed")
	}
	if b.TokenAddress != tokenB {
		t.Errorf("tokenB result carries token %s", b.TokenAddress.Hex())
	}
	if _, ok := lookup.Get(shared); !ok {
		t.Error("feed address not indexed")
	}
	if _, ok := lookup.GetHex("0x00000000000000000000000000000000000000AA"); !ok {
		t.Error("lookup must be case-insensitive")
	}
	if _, ok := lookup.GetHex("not-an-address"); ok {
		t.Error("malformed address must miss")
	}
	if got := len(lookup.Results()); got != 2 {
		t.Errorf("len(Results()) = %d, want 2", got)
	}

	var nilLookup *PriceLookup
	if _, ok := nilLookup.Get(tokenA); ok {
		t.Error("nil lookup must miss")
	}
}

func TestFailedPrice(t *testing.T) {
	r := FailedPrice(FeedRequest{TokenAddress: usdcToken, FeedAddress: usdcFeed})
	if r.Success || !r.IsStale || r.Valid() {
		t.Errorf("unexpected placeholder %+v", r)
	}
	if r.FormattedPrice != "0.0000" {
		t.Errorf("FormattedPrice = %q, want 0.0000", r.FormattedPrice)
	}
}

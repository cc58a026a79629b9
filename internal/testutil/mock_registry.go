package testutil

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

var _ outbound.TokenRegistry = (*MockTokenRegistry)(nil)

// MockTokenRegistry implements outbound.TokenRegistry over plain maps.
type MockTokenRegistry struct {
	TokensByAddr map[common.Address]*entity.TokenDescriptor
	Feeds        map[common.Address]common.Address
}

func NewMockTokenRegistry() *MockTokenRegistry {
	return &MockTokenRegistry{
		TokensByAddr: make(map[common.Address]*entity.TokenDescriptor),
		Feeds:        make(map[common.Address]common.Address),
	}
}

// AddToken registers a token with an optional feed (zero address means none).
func (m *MockTokenRegistry) AddToken(addr common.Address, symbol string, decimals int, feed common.Address) *MockTokenRegistry {
	m.TokensByAddr[addr] = &entity.TokenDescriptor{
		Address:    addr,
		Symbol:     symbol,
		Decimals:   decimals,
		Volatility: entity.VolatilityUnknown,
	}
	if feed != (common.Address{}) {
		m.Feeds[addr] = feed
	}
	return m
}

func (m *MockTokenRegistry) Token(addr common.Address) (*entity.TokenDescriptor, bool) {
	t, ok := m.TokensByAddr[addr]
	return t, ok
}

func (m *MockTokenRegistry) PriceFeed(token common.Address) (common.Address, bool) {
	f, ok := m.Feeds[token]
	return f, ok
}

func (m *MockTokenRegistry) Tokens() []*entity.TokenDescriptor {
	out := make([]*entity.TokenDescriptor, 0, len(m.TokensByAddr))
	for _, t := range m.TokensByAddr {
		out = append(out, t)
	}
	return out
}

package outbound

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/lendview/internal/domain/entity"
)

// TokenRegistry is the static token and price feed configuration.
// A missing entry is a normal state: the token is simply not priced live.
type TokenRegistry interface {
	// Token returns the descriptor for address, if configured.
	Token(address common.Address) (*entity.TokenDescriptor, bool)

	// PriceFeed returns the configured price feed address for a token, if any.
	PriceFeed(token common.Address) (common.Address, bool)

	// Tokens returns all configured descriptors.
	Tokens() []*entity.TokenDescriptor
}

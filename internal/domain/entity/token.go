package entity

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Volatility classifies how much a token's USD price is expected to move.
type Volatility string

const (
	VolatilityStable   Volatility = "stable"
	VolatilityVolatile Volatility = "volatile"
	VolatilityUnknown  Volatility = "unknown"
)

// ParseVolatility maps a config value to a Volatility. Unrecognised values map to VolatilityUnknown.
func ParseVolatility(s string) Volatility {
	switch Volatility(strings.ToLower(strings.TrimSpace(s))) {
	case VolatilityStable:
		return VolatilityStable
	case VolatilityVolatile:
		return VolatilityVolatile
	default:
		return VolatilityUnknown
	}
}

// TokenDescriptor describes an ERC20 token supported by the front end.
// Descriptors are immutable once loaded from the registry.
type TokenDescriptor struct {
	Address    common.Address `json:"address"`
	Symbol     string         `json:"symbol"`
	Decimals   int            `json:"decimals"`
	Volatility Volatility     `json:"volatility"`
}

// NewTokenDescriptor creates a new TokenDescriptor with validation.
// The address must be a 0x-prefixed, 40 hex character string.
func NewTokenDescriptor(address, symbol string, decimals int, volatility Volatility) (*TokenDescriptor, error) {
	if !IsWellFormedAddress(address) {
		return nil, fmt.Errorf("invalid token address %q", address)
	}
	t := &TokenDescriptor{
		Address:    common.HexToAddress(address),
		Symbol:     symbol,
		Decimals:   decimals,
		Volatility: volatility,
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TokenDescriptor) validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if t.Decimals < 0 {
		return fmt.Errorf("decimals must be non-negative, got %d", t.Decimals)
	}
	if t.Volatility == "" {
		t.Volatility = VolatilityUnknown
	}
	return nil
}

// Key returns the lower-cased hex address used for case-insensitive lookups.
func (t *TokenDescriptor) Key() string {
	return AddressKey(t.Address)
}

// AddressKey returns the lower-cased 0x hex form of an address.
func AddressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// IsWellFormedAddress reports whether s is "0x" followed by exactly 40 hex characters.
func IsWellFormedAddress(s string) bool {
	if len(s) != 42 || (!strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X")) {
		return false
	}
	return common.IsHexAddress(s)
}

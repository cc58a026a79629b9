// Package registry provides the static token and price feed configuration.
package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

var _ outbound.TokenRegistry = (*Static)(nil)

// TokenConfig is one token entry of the registry file.
type TokenConfig struct {
	Address    string `yaml:"address"`
	Symbol     string `yaml:"symbol"`
	Decimals   *int   `yaml:"decimals"`
	Volatility string `yaml:"volatility"`
	PriceFeed  string `yaml:"priceFeed"`
}

// File is the registry file layout.
//
//	chainId: 1
//	tokens:
//	  - address: "0xA0b8...eB48"
//	    symbol: USDC
//	    decimals: 6
//	    volatility: stable
//	    priceFeed: "0x8fFf...f6"
type File struct {
	ChainID int64         `yaml:"chainId"`
	Tokens  []TokenConfig `yaml:"tokens"`
}

// Static is an immutable, in-memory TokenRegistry.
type Static struct {
	chainID int64
	tokens  map[common.Address]*entity.TokenDescriptor
	feeds   map[common.Address]common.Address
}

// New builds a registry from parsed configuration. Every invalid entry is
// reported; duplicate token addresses are rejected.
func New(file File) (*Static, error) {
	s := &Static{
		chainID: file.ChainID,
		tokens:  make(map[common.Address]*entity.TokenDescriptor, len(file.Tokens)),
		feeds:   make(map[common.Address]common.Address, len(file.Tokens)),
	}

	var errs []error
	for i, tc := range file.Tokens {
		if tc.Decimals == nil {
			errs = append(errs, fmt.Errorf("tokens[%d] (%s): decimals is required", i, tc.Symbol))
			continue
		}
		desc, err := entity.NewTokenDescriptor(tc.Address, tc.Symbol, *tc.Decimals, entity.ParseVolatility(tc.Volatility))
		if err != nil {
			errs = append(errs, fmt.Errorf("tokens[%d]: %w", i, err))
			continue
		}
		if _, dup := s.tokens[desc.Address]; dup {
			errs = append(errs, fmt.Errorf("tokens[%d]: duplicate token %s", i, desc.Address.Hex()))
			continue
		}
		s.tokens[desc.Address] = desc

		if tc.PriceFeed == "" {
			continue
		}
		feed, err := entity.ParseAddress(tc.PriceFeed)
		if err != nil {
			errs = append(errs, fmt.Errorf("tokens[%d] (%s): price feed: %w", i, tc.Symbol, err))
			continue
		}
		s.feeds[desc.Address] = feed
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid token registry: %w", err)
	}
	return s, nil
}

// Parse reads a registry file from r.
func Parse(r io.Reader) (*Static, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode token registry: %w", err)
	}
	return New(file)
}

// Load reads the registry file at path.
func Load(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open token registry: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// ChainID returns the chain the registry addresses belong to.
func (s *Static) ChainID() int64 { return s.chainID }

// Token returns the descriptor for address, if configured.
func (s *Static) Token(address common.Address) (*entity.TokenDescriptor, bool) {
	d, ok := s.tokens[address]
	return d, ok
}

// PriceFeed returns the configured feed for token, if any.
func (s *Static) PriceFeed(token common.Address) (common.Address, bool) {
	f, ok := s.feeds[token]
	return f, ok
}

// Tokens returns all descriptors ordered by symbol.
func (s *Static) Tokens() []*entity.TokenDescriptor {
	out := make([]*entity.TokenDescriptor, 0, len(s.tokens))
	for _, d := range s.tokens {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Package abis holds the contract ABIs used for read-only calls.
package abis

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ParseABI parses a JSON ABI definition.
func ParseABI(abiJSON string) (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// cachedABI parses an ABI once and hands out the same instance afterwards.
// A parsed abi.ABI is safe for concurrent Pack/Unpack.
type cachedABI struct {
	once   sync.Once
	json   string
	parsed *abi.ABI
	err    error
}

func (c *cachedABI) get(name string) (*abi.ABI, error) {
	c.once.Do(func() {
		c.parsed, c.err = ParseABI(c.json)
		if c.err != nil {
			c.err = fmt.Errorf("parsing %s ABI: %w", name, c.err)
		}
	})
	return c.parsed, c.err
}

// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Multicaller executes a batch of read-only contract calls in one dispatch.
// Calls with AllowFailure set report a failed Result instead of failing the batch.
type Multicaller interface {
	Execute(ctx context.Context, calls []Call, blockNumber *big.Int) ([]Result, error)
	Address() common.Address
}

type Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type Result struct {
	Success    bool
	ReturnData []byte
}

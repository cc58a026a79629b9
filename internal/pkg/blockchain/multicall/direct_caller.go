package multicall

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/lendview/internal/ports/outbound"
)

// Compile-time check that DirectCaller implements outbound.Multicaller.
var _ outbound.Multicaller = (*DirectCaller)(nil)

// BatchCaller is the subset of rpc.Client used by DirectCaller.
type BatchCaller interface {
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

// DirectCaller implements outbound.Multicaller with one eth_call per target,
// all sent in a single JSON-RPC batch request. Each call keeps msg.sender as
// address(0), which some feed adapters with read whitelists require.
type DirectCaller struct {
	rpcClient BatchCaller
}

// NewDirectCaller creates a new DirectCaller.
func NewDirectCaller(rpcClient BatchCaller) *DirectCaller {
	return &DirectCaller{rpcClient: rpcClient}
}

type ethCallArg struct {
	To   string        `json:"to"`
	Data hexutil.Bytes `json:"data"`
}

// Execute sends all calls in a single JSON-RPC batch request.
func (c *DirectCaller) Execute(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
	if len(calls) == 0 {
		return []outbound.Result{}, nil
	}

	blockArg := toBlockNumArg(blockNumber)

	elems := make([]rpc.BatchElem, len(calls))
	hexResults := make([]hexutil.Bytes, len(calls))

	for i, call := range calls {
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []any{
				ethCallArg{To: call.Target.Hex(), Data: call.CallData},
				blockArg,
			},
			Result: &hexResults[i],
		}
	}

	if err := c.rpcClient.BatchCallContext(ctx, elems); err != nil {
		return nil, fmt.Errorf("batch eth_call failed: %w", err)
	}

	results := make([]outbound.Result, len(calls))
	for i, elem := range elems {
		if elem.Error != nil {
			if !calls[i].AllowFailure {
				return nil, fmt.Errorf("direct call to %s failed: %w", calls[i].Target.Hex(), elem.Error)
			}
			results[i] = outbound.Result{Success: false}
			continue
		}
		results[i] = outbound.Result{
			Success:    true,
			ReturnData: hexResults[i],
		}
	}

	return results, nil
}

// Address returns the zero address since DirectCaller doesn't use a contract.
func (c *DirectCaller) Address() common.Address {
	return common.Address{}
}

func toBlockNumArg(number *big.Int) string {
	if number == nil || number.Sign() < 0 {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}

// Package multicall batches read-only contract calls.
//
// Client sends every call through the Multicall3 aggregate3 entry point in a
// single eth_call. DirectCaller sends one eth_call per target inside a single
// JSON-RPC batch for contracts that reject calls routed through Multicall3.
package multicall

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/lendview/internal/pkg/blockchain/abis"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

// DefaultAddress is the Multicall3 deployment shared by most EVM chains.
const DefaultAddress = "0xcA11bde05977b3631167028862bE2a173976CA11"

// Compile-time check that Client implements outbound.Multicaller.
var _ outbound.Multicaller = (*Client)(nil)

// ContractCaller is the subset of ethclient.Client used by Client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Client struct {
	caller  ContractCaller
	address common.Address
	abi     *abi.ABI
}

// NewClient creates a Multicall3 client for the contract at multicall3Address.
func NewClient(caller ContractCaller, multicall3Address common.Address) (*Client, error) {
	if caller == nil {
		return nil, fmt.Errorf("caller cannot be nil")
	}
	multicallABI, err := abis.GetMulticall3ABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load multicall3 ABI: %w", err)
	}

	return &Client{
		caller:  caller,
		address: multicall3Address,
		abi:     multicallABI,
	}, nil
}

func (c *Client) Address() common.Address {
	return c.address
}

// Execute runs calls in one aggregate3 call. A nil blockNumber reads at the latest block.
func (c *Client) Execute(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
	if len(calls) == 0 {
		return []outbound.Result{}, nil
	}

	data, err := c.abi.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("failed to pack multicall: %w", err)
	}

	msg := ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}

	result, err := c.caller.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to call multicall contract at address=%s block=%s calls=%d: %w",
			c.address.Hex(), blockNumberString(blockNumber), len(calls), err)
	}

	unpacked, err := c.abi.Unpack("aggregate3", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack multicall response at block=%s: %w",
			blockNumberString(blockNumber), err)
	}

	resultsRaw, ok := unpacked[0].([]struct {
		Success    bool   `json:"success"`
		ReturnData []byte `json:"returnData"`
	})
	if !ok {
		return nil, fmt.Errorf("unexpected aggregate3 return type %T", unpacked[0])
	}
	if len(resultsRaw) != len(calls) {
		return nil, fmt.Errorf("expected %d multicall results, got %d", len(calls), len(resultsRaw))
	}

	results := make([]outbound.Result, len(resultsRaw))
	for i, r := range resultsRaw {
		results[i] = outbound.Result{
			Success:    r.Success,
			ReturnData: r.ReturnData,
		}
	}

	return results, nil
}

func blockNumberString(blockNumber *big.Int) string {
	if blockNumber == nil {
		return "latest"
	}
	return blockNumber.String()
}

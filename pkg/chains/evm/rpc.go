package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/constants"
)

// ethBackend is the subset of *ethclient.Client the adapter depends on
type ethBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Verify *ethclient.Client implements ethBackend
var _ ethBackend = (*ethclient.Client)(nil)

// endpointBackend pairs a backend with the URL it was dialed from, for error reporting
type endpointBackend struct {
	endpoint string
	backend  ethBackend
}

// RPCClient fails over between EVM endpoints in priority order
type RPCClient struct {
	chainID  string
	backends []endpointBackend

	// pollInterval is the delay between receipt polls
	pollInterval time.Duration
}

// NewRPCClient dials every endpoint. HTTP endpoints connect lazily, so this does not touch the network.
func NewRPCClient(chainID string, endpoints []string) (*RPCClient, error) {
	backends := make([]endpointBackend, 0, len(endpoints))
	for _, endpoint := range endpoints {
		client, err := ethclient.Dial(endpoint)
		if err != nil {
			return nil, &RPCError{Endpoint: endpoint, Err: err}
		}
		backends = append(backends, endpointBackend{endpoint: endpoint, backend: client})
	}
	return newRPCClient(chainID, backends), nil
}

func newRPCClient(chainID string, backends []endpointBackend) *RPCClient {
	return &RPCClient{chainID: chainID, backends: backends, pollInterval: time.Second}
}

// withFailover runs fn against each endpoint in order until one succeeds
func (r *RPCClient) withFailover(ctx context.Context, op string, fn func(ethBackend) error) error {
	if len(r.backends) == 0 {
		return chains.Errorf(chains.ErrNetwork, r.chainID, op, "no RPC endpoints configured")
	}

	var lastErr error
	for i, b := range r.backends {
		if i > 0 {
			delay := time.Duration(i*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-ctx.Done():
				return chains.NewError(chains.ErrNetwork, r.chainID, op, ctx.Err())
			case <-time.After(delay):
			}
		}

		err := fn(b.backend)
		if err == nil {
			return nil
		}
		var chainErr *chains.Error
		if errors.As(err, &chainErr) {
			return err
		}
		lastErr = &RPCError{Endpoint: b.endpoint, Err: err}
	}

	return chains.NewError(chains.ErrNetwork, r.chainID, op,
		fmt.Errorf("all RPC endpoints failed after %d attempts: %w", len(r.backends), lastErr))
}

// balanceAt returns the latest balance of account in wei
func (r *RPCClient) balanceAt(ctx context.Context, op string, account common.Address) (*big.Int, error) {
	var balance *big.Int
	err := r.withFailover(ctx, op, func(b ethBackend) error {
		v, err := b.BalanceAt(ctx, account, nil)
		if err != nil {
			return err
		}
		balance = v
		return nil
	})
	return balance, err
}

// nonceAt returns the pending nonce of account
func (r *RPCClient) nonceAt(ctx context.Context, op string, account common.Address) (uint64, error) {
	var nonce uint64
	err := r.withFailover(ctx, op, func(b ethBackend) error {
		v, err := b.PendingNonceAt(ctx, account)
		if err != nil {
			return err
		}
		nonce = v
		return nil
	})
	return nonce, err
}

// gasPrice returns the suggested legacy gas price
func (r *RPCClient) gasPrice(ctx context.Context, op string) (*big.Int, error) {
	var price *big.Int
	err := r.withFailover(ctx, op, func(b ethBackend) error {
		v, err := b.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		price = v
		return nil
	})
	return price, err
}

// broadcast hands a signed transaction to the first endpoint that accepts it.
// Rebroadcasting the same signed transaction to another endpoint is harmless.
// A transport failure may still have reached a node, so it is reported as *chains.UnconfirmedError.
func (r *RPCClient) broadcast(ctx context.Context, op string, tx *ethtypes.Transaction) error {
	err := r.withFailover(ctx, op, func(b ethBackend) error {
		err := b.SendTransaction(ctx, tx)
		if err == nil || strings.Contains(err.Error(), "already known") {
			return nil
		}
		if strings.Contains(err.Error(), "insufficient funds") {
			return chains.NewError(chains.ErrInsufficientBalance, r.chainID, op, err)
		}
		if strings.Contains(err.Error(), "nonce too low") ||
			strings.Contains(err.Error(), "intrinsic gas too low") {
			return chains.NewError(chains.ErrValidation, r.chainID, op, err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	var chainErr *chains.Error
	if errors.As(err, &chainErr) && chainErr.Kind != chains.ErrNetwork {
		// rejected by the node, never entered the mempool
		return err
	}
	return &chains.UnconfirmedError{Hash: tx.Hash().Hex(), Err: err}
}

// confirm waits for the receipt of a broadcast transaction. A reverted receipt is a ValidationError;
// a receipt that never shows up is a *chains.UnconfirmedError.
func (r *RPCClient) confirm(ctx context.Context, op string, tx *ethtypes.Transaction) (*ethtypes.Receipt, error) {
	receipt, err := r.waitForReceipt(ctx, op, tx.Hash())
	if err != nil {
		return nil, &chains.UnconfirmedError{Hash: tx.Hash().Hex(), Err: err}
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, chains.Errorf(chains.ErrValidation, r.chainID, op, "transaction %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}

// waitForReceipt polls for the receipt of txHash until it is mined or the timeout passes
func (r *RPCClient) waitForReceipt(ctx context.Context, op string, txHash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.ConfirmationTimeout)
	defer cancel()

	for {
		for _, b := range r.backends {
			// ethereum.NotFound means not mined yet; other errors move on to the next endpoint
			receipt, err := b.backend.TransactionReceipt(ctx, txHash)
			if err == nil && receipt != nil {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, chains.Errorf(chains.ErrNetwork, r.chainID, op, "transaction %s not mined: %v", txHash.Hex(), ctx.Err())
		case <-time.After(r.pollInterval):
		}
	}
}

// IsHealthy reports whether any endpoint returns a block number and serves the expected chain id
func (r *RPCClient) IsHealthy(ctx context.Context, expectedChainID int64) error {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	var lastErr error = fmt.Errorf("no RPC endpoints configured")
	for _, b := range r.backends {
		if _, err := b.backend.BlockNumber(ctx); err != nil {
			lastErr = &RPCError{Endpoint: b.endpoint, Err: err}
			continue
		}
		if expectedChainID != 0 {
			id, err := b.backend.ChainID(ctx)
			if err != nil {
				lastErr = &RPCError{Endpoint: b.endpoint, Err: err}
				continue
			}
			if id.Int64() != expectedChainID {
				lastErr = &RPCError{Endpoint: b.endpoint, Err: &ChainIDMismatchError{Expected: expectedChainID, Actual: id.Int64()}}
				continue
			}
		}
		return nil
	}
	return lastErr
}

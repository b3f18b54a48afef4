package svm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/constants"
)

// solanaRPC is the subset of *rpc.Client the adapter depends on
type solanaRPC interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetHealth(ctx context.Context) (string, error)
}

// Verify *rpc.Client implements solanaRPC
var _ solanaRPC = (*rpc.Client)(nil)

// errAccountNotFound is returned by getAccountData when the account does not exist
var errAccountNotFound = errors.New("account not found")

// RPCClient wraps one client per configured endpoint and fails over between them
type RPCClient struct {
	chainID string
	clients []solanaRPC

	// pollInterval is the delay between signature status polls
	pollInterval time.Duration
}

// NewRPCClient creates a Solana RPC client for the given endpoints, in priority order
func NewRPCClient(chainID string, endpoints []string) *RPCClient {
	clients := make([]solanaRPC, 0, len(endpoints))
	for _, endpoint := range endpoints {
		clients = append(clients, rpc.New(endpoint))
	}
	return newRPCClient(chainID, clients)
}

func newRPCClient(chainID string, clients []solanaRPC) *RPCClient {
	return &RPCClient{chainID: chainID, clients: clients, pollInterval: time.Second}
}

// withFailover runs fn against each endpoint in order until one succeeds.
// errAccountNotFound is authoritative and stops the loop.
func (r *RPCClient) withFailover(ctx context.Context, op string, fn func(solanaRPC) error) error {
	if len(r.clients) == 0 {
		return chains.Errorf(chains.ErrNetwork, r.chainID, op, "no RPC endpoints configured")
	}

	var lastErr error
	for i, client := range r.clients {
		if i > 0 {
			delay := time.Duration(i*constants.DelayBetweenRPCCalls) * time.Millisecond
			select {
			case <-ctx.Done():
				return chains.NewError(chains.ErrNetwork, r.chainID, op, ctx.Err())
			case <-time.After(delay):
			}
		}

		err := fn(client)
		if err == nil {
			return nil
		}
		if errors.Is(err, errAccountNotFound) {
			return err
		}
		lastErr = err
	}

	return chains.NewError(chains.ErrNetwork, r.chainID, op,
		fmt.Errorf("all RPC endpoints failed after %d attempts: %w", len(r.clients), lastErr))
}

// getAccountData returns the raw data of account, or errAccountNotFound
func (r *RPCClient) getAccountData(ctx context.Context, op string, account solana.PublicKey) ([]byte, error) {
	var data []byte
	err := r.withFailover(ctx, op, func(client solanaRPC) error {
		info, err := client.GetAccountInfo(ctx, account)
		if errors.Is(err, rpc.ErrNotFound) || (err == nil && (info == nil || info.Value == nil)) {
			return errAccountNotFound
		}
		if err != nil {
			return err
		}
		data = info.Value.Data.GetBinary()
		return nil
	})
	return data, err
}

// accountExists reports whether account has been created
func (r *RPCClient) accountExists(ctx context.Context, op string, account solana.PublicKey) (bool, error) {
	_, err := r.getAccountData(ctx, op, account)
	if errors.Is(err, errAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// submit builds, signs and sends a transaction paid by signer, then waits for confirmation.
// Failures after signing that leave the outcome open are reported as *chains.UnconfirmedError.
// A signed transaction is idempotent by signature, so resending it to the next endpoint is safe.
func (r *RPCClient) submit(ctx context.Context, op string, signer solana.PrivateKey, instructions ...solana.Instruction) (solana.Signature, error) {
	var blockhash solana.Hash
	err := r.withFailover(ctx, op, func(client solanaRPC) error {
		latest, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		blockhash = latest.Value.Blockhash
		return nil
	})
	if err != nil {
		return solana.Signature{}, err
	}

	payer := signer.PublicKey()
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &signer
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	var sig solana.Signature
	var programErr error
	err = r.withFailover(ctx, op, func(client solanaRPC) error {
		s, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			if kind := classifyProgramError(err); kind != nil {
				// the program rejected the transaction; another endpoint would too
				programErr = chains.NewError(kind, r.chainID, op, err)
				return nil
			}
			return err
		}
		sig = s
		return nil
	})
	if err != nil {
		// the transaction may have reached a leader before the transport failed
		return solana.Signature{}, &chains.UnconfirmedError{Hash: tx.Signatures[0].String(), Err: err}
	}
	if programErr != nil {
		return solana.Signature{}, programErr
	}

	if err := r.waitForConfirmation(ctx, op, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// waitForConfirmation polls the signature status until it is confirmed, failed, or the timeout passes
func (r *RPCClient) waitForConfirmation(ctx context.Context, op string, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, constants.ConfirmationTimeout)
	defer cancel()

	for {
		for _, client := range r.clients {
			status, err := client.GetSignatureStatuses(ctx, true, sig)
			if err != nil || status == nil || len(status.Value) == 0 || status.Value[0] == nil {
				continue
			}
			if status.Value[0].Err != nil {
				return chains.Errorf(chains.ErrValidation, r.chainID, op, "transaction %s failed: %v", sig, status.Value[0].Err)
			}
			switch status.Value[0].ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
			break
		}

		select {
		case <-ctx.Done():
			return &chains.UnconfirmedError{
				Hash: sig.String(),
				Err:  chains.NewError(chains.ErrNetwork, r.chainID, op, ctx.Err()),
			}
		case <-time.After(r.pollInterval):
		}
	}
}

// IsHealthy reports whether any endpoint answers getHealth with "ok"
func (r *RPCClient) IsHealthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	for _, client := range r.clients {
		health, err := client.GetHealth(ctx)
		if err == nil && health == rpc.HealthOk {
			return true
		}
	}
	return false
}

// classifyProgramError maps simulation failures raised by the program to taxonomy kinds.
// It returns nil for transport failures, which are retried on the next endpoint.
func classifyProgramError(err error) error {
	errStr := err.Error()

	if strings.Contains(errStr, "InsufficientBalance") ||
		strings.Contains(errStr, "insufficient funds") ||
		strings.Contains(errStr, "insufficient lamports") {
		return chains.ErrInsufficientBalance
	}

	if strings.Contains(errStr, "AccountNotInitialized") ||
		strings.Contains(errStr, "AccountNotFound") {
		return chains.ErrWalletNotFound
	}

	if strings.Contains(errStr, "custom program error") ||
		strings.Contains(errStr, "Error processing Instruction") ||
		strings.Contains(errStr, "already in use") {
		return chains.ErrValidation
	}

	return nil
}

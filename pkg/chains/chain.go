package chains

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sigweihq/simchain/pkg/types"
)

// ChainAdapter provides primitive wallet operations on one chain.
// Each implementation owns that chain's network client and signing material.
type ChainAdapter interface {
	// ChainID returns the configured chain id (e.g., "solana", "ethereum")
	ChainID() string

	// Config returns the chain configuration the adapter was built from
	Config() types.ChainConfig

	// InitializeWallet creates the wallet for sim and returns its address
	InitializeWallet(ctx context.Context, sim, pin string) (string, error)

	// SendFunds moves amount from the wallet of sim "from" to "to".
	// "to" is either another sim or a raw chain address.
	SendFunds(ctx context.Context, from, to string, amount decimal.Decimal, pin string) (*types.ChainTransaction, error)

	// CheckBalance returns the wallet balance in native units. Read-only.
	CheckBalance(ctx context.Context, sim, pin string) (decimal.Decimal, error)

	// SetAlias attaches a human-readable alias to the wallet
	SetAlias(ctx context.Context, sim, alias, pin string) (bool, error)

	// ValidatePin reports whether pin is the credential for sim. Read-only.
	ValidatePin(ctx context.Context, sim, pin string) (bool, error)
}

// Treasury is an optional interface for chains whose bridge-controlled account can pay out.
// Implemented by: adapters that take part in cross-chain transfers as release or refund side.
type Treasury interface {
	// Credit pays amount from the bridge treasury into the wallet of sim
	Credit(ctx context.Context, sim string, amount decimal.Decimal) (*types.ChainTransaction, error)

	// EscrowAddress returns the bridge-controlled address that locked funds are sent to
	EscrowAddress() string
}

// WalletInspector is an optional interface for reading a wallet snapshot without a PIN
type WalletInspector interface {
	// WalletInfo returns address, balance, existence and alias of the wallet for sim
	WalletInfo(ctx context.Context, sim string) (*types.ChainWallet, error)
}

// ConnectionTester is an optional interface for probing chain connectivity
type ConnectionTester interface {
	// TestConnection performs a health check against the chain RPC endpoint
	TestConnection(ctx context.Context) bool
}

// PinValidator is the single credential check every non-authority adapter trusts
type PinValidator interface {
	ValidatePin(ctx context.Context, sim, pin string) (bool, error)
}

// AliasStore persists aliases outside of the chains
type AliasStore interface {
	GetAlias(ctx context.Context, sim string) (string, error)
	SetAlias(ctx context.Context, sim, alias string) error
}

// AddressDeriver is an optional interface for adapters that can compute a wallet address offline
type AddressDeriver interface {
	DeriveAddress(ctx context.Context, sim string) (string, error)
}

// WalletRequirement is an optional interface for chains that can only pay into wallets created
// by InitializeWallet. Chains without it accept funds for any derived address.
type WalletRequirement interface {
	RequiresInitializedWallet() bool
}

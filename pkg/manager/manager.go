// Package manager is the entry point for callers: single-chain operations, cross-chain transfers,
// quotes and wallet lookups over one set of configured chains.
package manager

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/constants"
	"github.com/sigweihq/simchain/pkg/conversion"
	"github.com/sigweihq/simchain/pkg/dispatcher"
	"github.com/sigweihq/simchain/pkg/identity"
	"github.com/sigweihq/simchain/pkg/metrics"
	"github.com/sigweihq/simchain/pkg/relay"
	"github.com/sigweihq/simchain/pkg/saga"
	"github.com/sigweihq/simchain/pkg/types"
)

// Options configures a Manager. Zero values select defaults.
type Options struct {
	Rates       conversion.RateSource
	Fees        *conversion.FeeSchedule
	Relay       relay.MessageRelay // required for cross-chain transfers
	Metrics     *metrics.Metrics
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Manager ties the registry, dispatcher, calculator and transfer saga together
type Manager struct {
	registry   *chains.Registry
	dispatcher *dispatcher.Dispatcher
	calculator *conversion.Calculator
	saga       *saga.Saga
	relay      relay.MessageRelay
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a manager over registry. pins must wrap the registry's authority adapter;
// when nil one is created.
func New(registry *chains.Registry, pins *chains.PinAuthority, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if pins == nil {
		pins = chains.NewPinAuthority(registry.Authority(), logger)
	}
	rates := opts.Rates
	if rates == nil {
		rates = conversion.DefaultRates()
	}
	fees := conversion.DefaultFeeSchedule()
	if opts.Fees != nil {
		fees = *opts.Fees
	}

	calculator := conversion.NewCalculator(rates, fees, registryChainInfo(registry))

	m := &Manager{
		registry:   registry,
		dispatcher: dispatcher.New(registry, pins, opts.Metrics, logger),
		calculator: calculator,
		relay:      opts.Relay,
		metrics:    opts.Metrics,
		logger:     logger,
	}
	if opts.Relay != nil {
		m.saga = saga.New(registry, pins, calculator, opts.Relay, saga.Options{
			CallTimeout: opts.CallTimeout,
			Metrics:     opts.Metrics,
			Logger:      logger,
		})
	}
	return m
}

// Execute runs a single-chain operation
func (m *Manager) Execute(ctx context.Context, op types.Operation) (*types.OperationResult, error) {
	return m.dispatcher.Execute(ctx, op)
}

// CrossChainTransfer moves value from the source chain to the target chain.
// On failure after funds were locked the error is a *saga.TransferError.
func (m *Manager) CrossChainTransfer(ctx context.Context, transfer types.CrossChainTransfer) (*types.CrossChainResult, error) {
	if m.saga == nil {
		return nil, chains.Errorf(chains.ErrConfigNotInitialized, "", "crossChainTransfer", "no message relay configured")
	}
	return m.saga.Execute(ctx, transfer)
}

// Deposit funds the wallet of sim on chainID from the chain's treasury.
// Amounts below one base unit of the chain are rejected by the adapter.
func (m *Manager) Deposit(ctx context.Context, chainID, sim string, amount decimal.Decimal) (tx *types.ChainTransaction, err error) {
	const op = "deposit"
	defer func() { m.metrics.ObserveOperation(chainID, op, err) }()

	normalized, err := identity.NormalizeSim(sim)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, chains.Errorf(chains.ErrValidation, chainID, op, "amount must be positive")
	}
	adapter, err := m.registry.Get(chainID)
	if err != nil {
		return nil, err
	}
	treasury, ok := adapter.(chains.Treasury)
	if !ok {
		return nil, chains.Errorf(chains.ErrUnsupportedChain, chainID, op, "chain has no treasury")
	}

	ctx, cancel := context.WithTimeout(ctx, constants.AdapterCallTimeout+constants.ConfirmationTimeout)
	defer cancel()

	if err := requireWallet(ctx, adapter, chainID, normalized); err != nil {
		return nil, err
	}
	tx, err = treasury.Credit(ctx, normalized, amount)
	if err != nil {
		m.logger.Warn("deposit failed", "chain", chainID, "error", err)
		return nil, err
	}
	m.logger.Info("deposit confirmed", "chain", chainID, "tx", tx.Hash, "amount", amount.String())
	return tx, nil
}

// requireWallet rejects sims without a wallet on chains that cannot pay them
func requireWallet(ctx context.Context, adapter chains.ChainAdapter, chainID, sim string) error {
	required, ok := adapter.(chains.WalletRequirement)
	if !ok || !required.RequiresInitializedWallet() {
		return nil
	}
	inspector, ok := adapter.(chains.WalletInspector)
	if !ok {
		return nil
	}
	wallet, err := inspector.WalletInfo(ctx, sim)
	if err != nil {
		return err
	}
	if !wallet.Exists {
		return chains.Errorf(chains.ErrWalletNotFound, chainID, "deposit", "wallet not found, initialize it first")
	}
	return nil
}

// Quote prices a transfer without authenticating or moving funds
func (m *Manager) Quote(ctx context.Context, transfer types.CrossChainTransfer) (*types.ConversionDetails, error) {
	if transfer.SourceChain == transfer.TargetChain {
		return nil, chains.Errorf(chains.ErrValidation, transfer.SourceChain, "quote", "source and target chain must differ")
	}
	for _, chainID := range []string{transfer.SourceChain, transfer.TargetChain} {
		if _, err := m.registry.Get(chainID); err != nil {
			return nil, err
		}
	}
	return m.calculator.Calculate(ctx, transfer)
}

// GetWalletInfo returns a snapshot of the wallet of sim on chainID. Chains without a wallet
// lookup report the derived address only.
func (m *Manager) GetWalletInfo(ctx context.Context, chainID, sim string) (*types.ChainWallet, error) {
	normalized, err := identity.NormalizeSim(sim)
	if err != nil {
		return nil, err
	}
	adapter, err := m.registry.Get(chainID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.AdapterCallTimeout)
	defer cancel()

	switch a := adapter.(type) {
	case chains.WalletInspector:
		return a.WalletInfo(ctx, normalized)
	case chains.AddressDeriver:
		address, err := a.DeriveAddress(ctx, normalized)
		if err != nil {
			return nil, err
		}
		return &types.ChainWallet{Address: address}, nil
	default:
		return nil, chains.Errorf(chains.ErrUnsupportedChain, chainID, "walletInfo", "chain does not expose wallet info")
	}
}

// TestConnection checks the RPC endpoint of chainID
func (m *Manager) TestConnection(ctx context.Context, chainID string) bool {
	adapter, err := m.registry.Get(chainID)
	if err != nil {
		return false
	}
	tester, ok := adapter.(chains.ConnectionTester)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()
	healthy := tester.TestConnection(ctx)
	if !healthy {
		m.logger.Warn("chain connection test failed", "chain", chainID)
	}
	return healthy
}

// SupportedChains returns the configured chain ids
func (m *Manager) SupportedChains() []string {
	return m.registry.SupportedChains()
}

// IsChainAvailable reports whether chainID is configured
func (m *Manager) IsChainAvailable(chainID string) bool {
	return m.registry.IsSupported(chainID)
}

// AuthorityChain returns the chain id that validates PINs
func (m *Manager) AuthorityChain() string {
	return m.registry.AuthorityID()
}

// ChainConfig returns the configuration of chainID
func (m *Manager) ChainConfig(chainID string) (types.ChainConfig, error) {
	adapter, err := m.registry.Get(chainID)
	if err != nil {
		return types.ChainConfig{}, err
	}
	return adapter.Config(), nil
}

// Close releases the relay's resources
func (m *Manager) Close() {
	if closer, ok := m.relay.(interface{ Close() }); ok {
		closer.Close()
	}
}

// registryChainInfo reports native token and decimals from each adapter's config
func registryChainInfo(registry *chains.Registry) conversion.ChainInfo {
	return conversion.ChainInfoFunc(func(chainID string) (string, int32, bool) {
		adapter, err := registry.Get(chainID)
		if err != nil {
			return "", 0, false
		}
		cfg := adapter.Config()
		symbol := cfg.Symbol
		if symbol == "" {
			symbol = constants.NativeTokens[chainID]
		}
		if symbol == "" {
			return "", 0, false
		}
		decimals := cfg.Decimals
		if decimals == 0 {
			decimals = 9
			if cfg.Kind == constants.KindEVM {
				decimals = 18
			}
		}
		return symbol, decimals, true
	})
}

package evm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/constants"
	"github.com/sigweihq/simchain/pkg/identity"
	"github.com/sigweihq/simchain/pkg/types"
	"github.com/sigweihq/simchain/pkg/utils"
)

// AdapterSettings carries the secrets and collaborators of one EVM chain
type AdapterSettings struct {
	Salt        []byte
	TreasuryKey string // hex private key, optional
	Aliases     chains.AliasStore
	// Discoverer, when set, appends public fallback endpoints to the configured ones
	Discoverer *EndpointDiscoverer
}

// NewEVMAdapterFromConfig builds an EVM adapter from its chain config.
// If the config has no RPC URL, the default public endpoint for the chain is used.
func NewEVMAdapterFromConfig(ctx context.Context, logger *slog.Logger, config types.ChainConfig, pins chains.PinValidator, settings AdapterSettings) (*EVMAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ChainID == 0 {
		return nil, fmt.Errorf("chain_id is required for EVM chain %s", config.ID)
	}

	endpoints := config.Endpoints()
	if len(endpoints) == 0 {
		if endpoint, ok := constants.DefaultRPCEndpoints[config.ID]; ok {
			logger.Info("using default endpoint for EVM chain", "chain", config.ID, "endpoint", endpoint)
			endpoints = []string{endpoint}
		}
	}

	if settings.Discoverer != nil {
		discovered, err := settings.Discoverer.Discover(ctx, config.ChainID, endpoints)
		if err != nil {
			logger.Warn("endpoint discovery failed, using configured endpoints only", "chain", config.ID, "error", err)
		} else {
			endpoints = append(endpoints, discovered...)
		}
	}

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoint configured for %s", config.ID)
	}
	for _, endpoint := range endpoints {
		if err := utils.ValidateEndpointURL(endpoint); err != nil {
			return nil, fmt.Errorf("invalid RPC endpoint for %s: %w", config.ID, err)
		}
	}

	rpcClient, err := NewRPCClient(config.ID, endpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client for %s: %w", config.ID, err)
	}

	opts := Options{Aliases: settings.Aliases, Logger: logger}
	if len(settings.Salt) > 0 {
		opts.Salt = identity.StaticSalt(settings.Salt)
	}
	if settings.TreasuryKey != "" {
		key, err := utils.ParseEVMPrivateKey(settings.TreasuryKey)
		if err != nil {
			return nil, fmt.Errorf("invalid treasury key for %s: %w", config.ID, err)
		}
		opts.Treasury = key
	}

	return NewEVMAdapter(config, rpcClient, pins, opts)
}

package svm

import (
	"fmt"
	"log/slog"

	"github.com/sigweihq/simchain/pkg/constants"
	"github.com/sigweihq/simchain/pkg/types"
	"github.com/sigweihq/simchain/pkg/utils"
)

// NewSVMAdapterFromConfig builds a Solana adapter from its chain config and the relayer key.
// If the config has no RPC URL, the default public endpoint for the chain is used.
func NewSVMAdapterFromConfig(logger *slog.Logger, config types.ChainConfig, signerKey string) (*SVMAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	endpoints := config.Endpoints()
	if len(endpoints) == 0 {
		endpoint, ok := constants.DefaultRPCEndpoints[config.ID]
		if !ok {
			return nil, fmt.Errorf("no RPC endpoint configured for %s", config.ID)
		}
		logger.Info("using default endpoint for SVM chain", "chain", config.ID, "endpoint", endpoint)
		endpoints = []string{endpoint}
	}

	for _, endpoint := range endpoints {
		if err := utils.ValidateEndpointURL(endpoint); err != nil {
			return nil, fmt.Errorf("invalid RPC endpoint for %s: %w", config.ID, err)
		}
	}

	signer, err := utils.ParseSolanaPrivateKey(signerKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signer key for %s: %w", config.ID, err)
	}

	return NewSVMAdapter(config, NewRPCClient(config.ID, endpoints), signer, logger)
}

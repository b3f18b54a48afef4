package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/chains/evm"
	"github.com/sigweihq/simchain/pkg/chains/svm"
	"github.com/sigweihq/simchain/pkg/config"
	"github.com/sigweihq/simchain/pkg/constants"
	"github.com/sigweihq/simchain/pkg/metrics"
	"github.com/sigweihq/simchain/pkg/relay"
	"github.com/sigweihq/simchain/pkg/store"
)

// NewFromConfig builds every adapter named in cfg and returns a ready manager.
// The authority chain is built first so the other adapters can delegate PIN checks to it.
func NewFromConfig(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	authorityConfig, ok := cfg.Chain(cfg.Authority)
	if !ok {
		return nil, fmt.Errorf("authority chain %s is not configured", cfg.Authority)
	}
	authority, err := svm.NewSVMAdapterFromConfig(logger, authorityConfig, cfg.Secrets.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authority chain: %w", err)
	}
	pins := chains.NewPinAuthority(authority, logger)

	var discoverer *evm.EndpointDiscoverer
	if cfg.Discovery.Enabled {
		discoverer = evm.NewEndpointDiscoverer(logger, cfg.Discovery.SourceURL)
	}
	aliases := store.NewMemoryAliasStore()

	var others []chains.ChainAdapter
	for _, chainConfig := range cfg.Chains {
		if chainConfig.ID == cfg.Authority {
			continue
		}
		if chainConfig.Kind != constants.KindEVM {
			return nil, fmt.Errorf("chain %s: only the authority chain may be an %s chain", chainConfig.ID, constants.KindSVM)
		}
		adapter, err := evm.NewEVMAdapterFromConfig(ctx, logger, chainConfig, pins, evm.AdapterSettings{
			Salt:        cfg.Secrets.Salts[chainConfig.ID],
			TreasuryKey: cfg.Secrets.TreasuryKeys[chainConfig.ID],
			Aliases:     aliases,
			Discoverer:  discoverer,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize chain %s: %w", chainConfig.ID, err)
		}
		others = append(others, adapter)
		logger.Info("chain initialized", "chain", chainConfig.ID, "chainId", chainConfig.ChainID)
	}

	registry, err := chains.NewRegistry(authority, others...)
	if err != nil {
		return nil, err
	}

	messageRelay, err := newRelay(cfg, logger)
	if err != nil {
		return nil, err
	}

	rates, err := cfg.RateSource()
	if err != nil {
		return nil, err
	}
	fees, err := cfg.FeeSchedule()
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.CallTimeoutDuration()
	if err != nil {
		return nil, err
	}

	return New(registry, pins, Options{
		Rates:       rates,
		Fees:        &fees,
		Relay:       messageRelay,
		Metrics:     m,
		CallTimeout: timeout,
		Logger:      logger,
	}), nil
}

func newRelay(cfg *config.Config, logger *slog.Logger) (relay.MessageRelay, error) {
	switch cfg.Relay.Kind {
	case config.RelayKafka:
		return relay.NewKafkaRelay(logger, cfg.Relay.Brokers, cfg.Relay.Topic)
	case config.RelayHTTP:
		return relay.NewHTTPRelay(logger, cfg.Relay.URLs, cfg.Secrets.RelayAPIKey)
	default:
		return nil, fmt.Errorf("unknown relay kind: %s", cfg.Relay.Kind)
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/config"
	"github.com/sigweihq/simchain/pkg/manager"
	"github.com/sigweihq/simchain/pkg/metrics"
	"github.com/sigweihq/simchain/pkg/saga"
)

var (
	cfgFile     string
	envFile     string
	logLevel    string
	metricsAddr string
)

// NewRootCmd builds the simchain command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simchain",
		Short: "Phone-number wallets across Solana and EVM chains",
		Long: `simchain operates wallets that are addressed by a phone number and a 6-digit PIN.
The authority chain (Solana) holds the PIN hash; every other chain trusts it.

Examples:
  simchain chains
  simchain balance --chain ethereum --sim +15551234567 --pin 123456
  simchain quote --from solana --to ethereum --amount 1.5
  simchain transfer --from solana --to ethereum --amount 1.5 --sim +15551234567 --pin 123456
  simchain deposit --chain solana --sim +15551234567 --amount 2
  simchain keygen --kind evm`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "simchain.toml", "config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional file with SIMCHAIN_* secrets")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	rootCmd.AddCommand(
		newChainsCmd(),
		newTestConnectionCmd(),
		newWalletCmd(),
		newInitCmd(),
		newBalanceCmd(),
		newSendCmd(),
		newAliasCmd(),
		newQuoteCmd(),
		newTransferCmd(),
		newDepositCmd(),
		newKeygenCmd(),
	)
	return rootCmd
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", logLevel)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// withManager loads the config, builds the manager and runs fn with it
func withManager(cmd *cobra.Command, fn func(ctx context.Context, m *manager.Manager) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer server.Close()
	}

	ctx := cmd.Context()
	mgr, err := manager.NewFromConfig(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	return fn(ctx, mgr)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeError names the failure kind and, for transfers, whether funds came back
func describeError(err error) string {
	var b strings.Builder
	if kind := chains.KindOf(err); kind != nil {
		fmt.Fprintf(&b, "[%s] ", kind)
	}
	b.WriteString(err.Error())

	var transferErr *saga.TransferError
	if errors.As(err, &transferErr) {
		switch {
		case transferErr.Unresolved:
			b.WriteString("\nfunds returned: NO, transaction " + transferErr.PendingTx + " may still land; reconcile before retrying")
		case transferErr.FundsReturned():
			b.WriteString("\nfunds returned: yes")
		default:
			b.WriteString("\nfunds returned: NO, source transaction " + transferErr.SourceTx + " needs manual recovery")
		}
	}
	return b.String()
}

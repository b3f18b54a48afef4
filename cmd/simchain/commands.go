package main

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sigweihq/simchain/pkg/constants"
	"github.com/sigweihq/simchain/pkg/manager"
	"github.com/sigweihq/simchain/pkg/types"
	"github.com/sigweihq/simchain/pkg/utils"
)

// envPin lets scripts pass the PIN without putting it on the command line
const envPin = "SIMCHAIN_PIN"

type credentialFlags struct {
	sim string
	pin string
}

func (c *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.sim, "sim", "", "phone number of the wallet owner")
	cmd.Flags().StringVar(&c.pin, "pin", "", "6-digit PIN (defaults to $"+envPin+")")
	_ = cmd.MarkFlagRequired("sim")
}

func (c *credentialFlags) resolvedPin() string {
	if c.pin != "" {
		return c.pin
	}
	return os.Getenv(envPin)
}

func newChainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List configured chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *manager.Manager) error {
				type chainInfo struct {
					ID        string `json:"id"`
					Name      string `json:"name"`
					Kind      string `json:"kind"`
					Symbol    string `json:"symbol"`
					Testnet   bool   `json:"testnet"`
					Authority bool   `json:"authority"`
				}
				var out []chainInfo
				for _, id := range m.SupportedChains() {
					cfg, err := m.ChainConfig(id)
					if err != nil {
						return err
					}
					out = append(out, chainInfo{
						ID:        id,
						Name:      cfg.Name,
						Kind:      cfg.Kind,
						Symbol:    cfg.Symbol,
						Testnet:   cfg.Testnet,
						Authority: id == m.AuthorityChain(),
					})
				}
				return printJSON(cmd, out)
			})
		},
	}
}

func newTestConnectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection [chain...]",
		Short: "Probe the RPC endpoint of each chain (all chains when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, func(ctx context.Context, m *manager.Manager) error {
				ids := args
				if len(ids) == 0 {
					ids = m.SupportedChains()
				}
				results := make(map[string]bool, len(ids))
				failed := 0
				for _, id := range ids {
					results[id] = m.TestConnection(ctx, id)
					if !results[id] {
						failed++
					}
				}
				if err := printJSON(cmd, results); err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d chains unreachable", failed, len(ids))
				}
				return nil
			})
		},
	}
}

func newWalletCmd() *cobra.Command {
	var chain, sim string
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Show address, balance and alias of a wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd, func(ctx context.Context, m *manager.Manager) error {
				wallet, err := m.GetWalletInfo(ctx, chain, sim)
				if err != nil {
					return err
				}
				return printJSON(cmd, wallet)
			})
		},
	}
	cmd.Flags().StringVar(&chain, "chain", "", "chain id")
	cmd.Flags().StringVar(&sim, "sim", "", "phone number of the wallet owner")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("sim")
	return cmd
}

// newOperationCmd builds a command that runs one single-chain operation
func newOperationCmd(use, short string, opType types.OperationType, params func() (map[string]string, error), extra func(*cobra.Command)) *cobra.Command {
	var (
		chain string
		creds credentialFlags
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var p map[string]string
			if params != nil {
				var err error
				if p, err = params(); err != nil {
					return err
				}
			}
			return withManager(cmd, func(ctx context.Context, m *manager.Manager) error {
				result, err := m.Execute(ctx, types.Operation{
					Type:        opType,
					TargetChain: chain,
					Sim:         creds.sim,
					Pin:         creds.resolvedPin(),
					Params:      p,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd, operationOutput(result))
			})
		},
	}
	cmd.Flags().StringVar(&chain, "chain", "", "chain id")
	_ = cmd.MarkFlagRequired("chain")
	creds.register(cmd)
	if extra != nil {
		extra(cmd)
	}
	return cmd
}

func operationOutput(result *types.OperationResult) any {
	switch result.Type {
	case types.OpInitializeWallet:
		return map[string]string{"address": result.Address}
	case types.OpSendFunds:
		return result.Transaction
	case types.OpCheckBalance:
		return map[string]string{"balance": result.Balance.String()}
	default:
		return map[string]bool{"ok": result.OK}
	}
}

func newInitCmd() *cobra.Command {
	return newOperationCmd("init", "Create the wallet of a phone number", types.OpInitializeWallet, nil, nil)
}

func newBalanceCmd() *cobra.Command {
	return newOperationCmd("balance", "Show the balance of a wallet", types.OpCheckBalance, nil, nil)
}

func newSendCmd() *cobra.Command {
	var to, amount string
	return newOperationCmd("send", "Send funds to another phone number or a raw address", types.OpSendFunds,
		func() (map[string]string, error) {
			return map[string]string{types.ParamTo: to, types.ParamAmount: amount}, nil
		},
		func(cmd *cobra.Command) {
			cmd.Flags().StringVar(&to, "to", "", "recipient phone number or chain address")
			cmd.Flags().StringVar(&amount, "amount", "", "amount in native units")
			_ = cmd.MarkFlagRequired("to")
			_ = cmd.MarkFlagRequired("amount")
		})
}

func newAliasCmd() *cobra.Command {
	var alias string
	return newOperationCmd("alias", "Attach an alias to a wallet", types.OpSetAlias,
		func() (map[string]string, error) {
			return map[string]string{types.ParamAlias: alias}, nil
		},
		func(cmd *cobra.Command) {
			cmd.Flags().StringVar(&alias, "alias", "", "alias, up to 32 characters")
			_ = cmd.MarkFlagRequired("alias")
		})
}

type transferFlags struct {
	from, to    string
	amount      string
	sourceToken string
	targetToken string
	slippage    string
}

func (f *transferFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "source chain id")
	cmd.Flags().StringVar(&f.to, "to", "", "target chain id")
	cmd.Flags().StringVar(&f.amount, "amount", "", "amount in source token units")
	cmd.Flags().StringVar(&f.sourceToken, "source-token", "", "source token (defaults to the native token)")
	cmd.Flags().StringVar(&f.targetToken, "target-token", "", "target token (defaults to the native token)")
	cmd.Flags().StringVar(&f.slippage, "slippage", "", "slippage tolerance in percent (default 0.5)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
}

func (f *transferFlags) transfer() (types.CrossChainTransfer, error) {
	amount, err := decimal.NewFromString(f.amount)
	if err != nil {
		return types.CrossChainTransfer{}, fmt.Errorf("invalid amount %q", f.amount)
	}
	t := types.CrossChainTransfer{
		SourceChain: f.from,
		TargetChain: f.to,
		Amount:      amount,
		SourceToken: f.sourceToken,
		TargetToken: f.targetToken,
	}
	if f.slippage != "" {
		slippage, err := decimal.NewFromString(f.slippage)
		if err != nil {
			return t, fmt.Errorf("invalid slippage %q", f.slippage)
		}
		t.SlippageTolerancePercent = &slippage
	}
	return t, nil
}

func newQuoteCmd() *cobra.Command {
	var flags transferFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a cross-chain transfer without moving funds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			transfer, err := flags.transfer()
			if err != nil {
				return err
			}
			return withManager(cmd, func(ctx context.Context, m *manager.Manager) error {
				details, err := m.Quote(ctx, transfer)
				if err != nil {
					return err
				}
				return printJSON(cmd, details)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newTransferCmd() *cobra.Command {
	var (
		flags transferFlags
		creds credentialFlags
	)
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move funds from one chain to another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			transfer, err := flags.transfer()
			if err != nil {
				return err
			}
			transfer.Sim = creds.sim
			transfer.Pin = creds.resolvedPin()
			return withManager(cmd, func(ctx context.Context, m *manager.Manager) error {
				result, err := m.CrossChainTransfer(ctx, transfer)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
	flags.register(cmd)
	creds.register(cmd)
	return cmd
}

func newDepositCmd() *cobra.Command {
	var chain, sim, amount string
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Fund a wallet from the chain's treasury",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q", amount)
			}
			return withManager(cmd, func(ctx context.Context, m *manager.Manager) error {
				tx, err := m.Deposit(ctx, chain, sim, value)
				if err != nil {
					return err
				}
				return printJSON(cmd, tx)
			})
		},
	}
	cmd.Flags().StringVar(&chain, "chain", "", "chain id")
	cmd.Flags().StringVar(&sim, "sim", "", "phone number of the wallet owner")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in native units")
	_ = cmd.MarkFlagRequired("chain")
	_ = cmd.MarkFlagRequired("sim")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

type keyOutput struct {
	Kind       string `json:"kind"`
	PrivateKey string `json:"privateKey,omitempty"`
	Address    string `json:"address"`
}

// keygen creates a key for kind, or derives the address of fromKey when set
func keygen(kind, fromKey string) (*keyOutput, error) {
	out := &keyOutput{Kind: kind}
	var err error
	switch {
	case kind == constants.KindSVM && fromKey != "":
		out.Address, err = utils.DeriveSolanaAddress(fromKey)
	case kind == constants.KindSVM:
		out.PrivateKey, out.Address, err = utils.GenerateSolanaKeypair()
	case kind == constants.KindEVM && fromKey != "":
		out.Address, err = utils.DeriveEVMAddress(fromKey)
	case kind == constants.KindEVM:
		out.PrivateKey, out.Address, err = utils.GenerateEVMKey()
	default:
		return nil, fmt.Errorf("unknown key kind %q (expected %s or %s)", kind, constants.KindSVM, constants.KindEVM)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func newKeygenCmd() *cobra.Command {
	var kind, fromKey string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a payer or treasury key, or show the address of an existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := keygen(kind, fromKey)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", constants.KindSVM, "key kind (svm or evm)")
	cmd.Flags().StringVar(&fromKey, "from-key", "", "existing private key to derive the address from")
	return cmd
}

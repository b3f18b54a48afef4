package svm

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/identity"
	"github.com/sigweihq/simchain/pkg/types"
	"github.com/sigweihq/simchain/pkg/utils"
)

// SVMAdapter runs wallet operations against the simchain program on a Solana cluster.
// It is the PIN authority: every credential check reads the PIN hash stored in the wallet account.
type SVMAdapter struct {
	config  types.ChainConfig
	program program
	rpc     *RPCClient
	signer  solana.PrivateKey
	escrow  solana.PublicKey
	deriver *identity.Deriver
	logger  *slog.Logger
}

// Verify SVMAdapter implements the adapter interfaces
var (
	_ chains.ChainAdapter      = (*SVMAdapter)(nil)
	_ chains.Treasury          = (*SVMAdapter)(nil)
	_ chains.WalletInspector   = (*SVMAdapter)(nil)
	_ chains.ConnectionTester  = (*SVMAdapter)(nil)
	_ chains.AddressDeriver    = (*SVMAdapter)(nil)
	_ chains.WalletRequirement = (*SVMAdapter)(nil)
)

// NewSVMAdapter creates a Solana adapter. signer owns every wallet it initializes and pays fees.
func NewSVMAdapter(config types.ChainConfig, rpcClient *RPCClient, signer solana.PrivateKey, logger *slog.Logger) (*SVMAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	programID, err := solana.PublicKeyFromBase58(config.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id for %s: %w", config.ID, err)
	}
	if len(signer) == 0 {
		return nil, fmt.Errorf("signer keypair is required for %s", config.ID)
	}
	if config.Decimals == 0 {
		config.Decimals = 9
	}

	escrow := signer.PublicKey()
	if config.EscrowAddress != "" {
		escrow, err = solana.PublicKeyFromBase58(config.EscrowAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid escrow address for %s: %w", config.ID, err)
		}
	}

	a := &SVMAdapter{
		config:  config,
		program: program{id: programID},
		rpc:     rpcClient,
		signer:  signer,
		escrow:  escrow,
		logger:  logger,
	}
	a.deriver = identity.NewDeriver(config.ID, identity.SaltFunc(a.fetchSalt))
	return a, nil
}

// ChainID implements chains.ChainAdapter
func (a *SVMAdapter) ChainID() string {
	return a.config.ID
}

// Config implements chains.ChainAdapter
func (a *SVMAdapter) Config() types.ChainConfig {
	return a.config
}

// AddressFromSeed implements identity.AddressScheme: the wallet is the PDA ["wallet", seed]
func (a *SVMAdapter) AddressFromSeed(seed [32]byte) (string, error) {
	addr, err := a.program.walletAddress(seed)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// DeriveAddress returns the wallet address of sim without touching the wallet account
func (a *SVMAdapter) DeriveAddress(ctx context.Context, sim string) (string, error) {
	return a.deriver.DeriveAddress(ctx, sim, a)
}

// fetchSalt reads the salt from the program config account
func (a *SVMAdapter) fetchSalt(ctx context.Context) ([]byte, error) {
	configAddr, err := a.program.configAddress()
	if err != nil {
		return nil, err
	}
	data, err := a.rpc.getAccountData(ctx, "salt", configAddr)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeConfigAccount(data)
	if err != nil {
		return nil, err
	}
	return cfg.Salt, nil
}

// walletKey derives the wallet PDA of sim
func (a *SVMAdapter) walletKey(ctx context.Context, sim string) (solana.PublicKey, [32]byte, error) {
	simHash, err := a.deriver.HashSim(ctx, sim)
	if err != nil {
		return solana.PublicKey{}, simHash, err
	}
	addr, err := a.program.walletAddress(simHash)
	if err != nil {
		return solana.PublicKey{}, simHash, fmt.Errorf("failed to derive wallet address: %w", err)
	}
	return addr, simHash, nil
}

// loadWallet reads and decodes the wallet of sim. A missing account is ErrWalletNotFound.
func (a *SVMAdapter) loadWallet(ctx context.Context, op, sim string) (solana.PublicKey, *walletAccount, error) {
	addr, _, err := a.walletKey(ctx, sim)
	if err != nil {
		return addr, nil, err
	}
	data, err := a.rpc.getAccountData(ctx, op, addr)
	if errors.Is(err, errAccountNotFound) {
		return addr, nil, chains.NewError(chains.ErrWalletNotFound, a.ChainID(), op, nil)
	}
	if err != nil {
		return addr, nil, err
	}
	wallet, err := decodeWalletAccount(data)
	if err != nil {
		return addr, nil, chains.NewError(chains.ErrNetwork, a.ChainID(), op, err)
	}
	return addr, wallet, nil
}

// authorize loads the wallet of sim and checks pin against its stored hash
func (a *SVMAdapter) authorize(ctx context.Context, op, sim, pin string) (solana.PublicKey, *walletAccount, error) {
	pinHash, err := identity.HashPin(pin)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	addr, wallet, err := a.loadWallet(ctx, op, sim)
	if err != nil {
		return addr, nil, err
	}
	if subtle.ConstantTimeCompare(pinHash[:], wallet.PinHash[:]) != 1 {
		return addr, nil, chains.NewError(chains.ErrInvalidPin, a.ChainID(), op, nil)
	}
	return addr, wallet, nil
}

// InitializeWallet implements chains.ChainAdapter
func (a *SVMAdapter) InitializeWallet(ctx context.Context, sim, pin string) (string, error) {
	const op = "initializeWallet"

	pinHash, err := identity.HashPin(pin)
	if err != nil {
		return "", err
	}
	walletAddr, simHash, err := a.walletKey(ctx, sim)
	if err != nil {
		return "", err
	}

	exists, err := a.rpc.accountExists(ctx, op, walletAddr)
	if err != nil {
		return "", err
	}
	if exists {
		return "", chains.Errorf(chains.ErrValidation, a.ChainID(), op, "wallet already exists for this phone number")
	}

	configAddr, err := a.program.configAddress()
	if err != nil {
		return "", fmt.Errorf("failed to derive config address: %w", err)
	}
	ix, err := a.program.initializeWallet(walletAddr, configAddr, a.signer.PublicKey(), simHash, pinHash)
	if err != nil {
		return "", err
	}
	sig, err := a.rpc.submit(ctx, op, a.signer, ix)
	if err != nil {
		return "", err
	}

	a.logger.Info("wallet initialized", "chain", a.ChainID(), "sim", identity.MaskSim(sim), "address", walletAddr.String(), "signature", sig.String())
	return walletAddr.String(), nil
}

// SendFunds implements chains.ChainAdapter.
// When "to" is a Solana address the lamports leave the program ledger for that address;
// otherwise "to" is a SIM and the transfer stays between two wallet accounts.
func (a *SVMAdapter) SendFunds(ctx context.Context, from, to string, amount decimal.Decimal, pin string) (*types.ChainTransaction, error) {
	const op = "sendFunds"

	lamports, err := utils.ToUint64BaseUnits(amount, a.config.Decimals)
	if err != nil {
		return nil, chains.NewError(chains.ErrValidation, a.ChainID(), op, err)
	}

	senderAddr, sender, err := a.authorize(ctx, op, from, pin)
	if err != nil {
		return nil, err
	}
	if sender.Balance < lamports {
		return nil, chains.Errorf(chains.ErrInsufficientBalance, a.ChainID(), op, "balance %d lamports, need %d", sender.Balance, lamports)
	}

	var ix solana.Instruction
	var recipient string
	if destination, perr := solana.PublicKeyFromBase58(to); perr == nil {
		recipient = destination.String()
		ix, err = a.program.withdrawNative(senderAddr, destination, a.signer.PublicKey(), lamports)
	} else {
		receiverAddr, _, rerr := a.loadWallet(ctx, op, to)
		if rerr != nil {
			return nil, rerr
		}
		recipient = receiverAddr.String()
		ix, err = a.program.send(senderAddr, receiverAddr, a.signer.PublicKey(), lamports)
	}
	if err != nil {
		return nil, err
	}

	sig, err := a.rpc.submit(ctx, op, a.signer, ix)
	if err != nil {
		return nil, err
	}

	return &types.ChainTransaction{
		Hash:   sig.String(),
		From:   senderAddr.String(),
		To:     recipient,
		Amount: amount,
		Status: types.TxConfirmed,
	}, nil
}

// CheckBalance implements chains.ChainAdapter
func (a *SVMAdapter) CheckBalance(ctx context.Context, sim, pin string) (decimal.Decimal, error) {
	_, wallet, err := a.authorize(ctx, "checkBalance", sim, pin)
	if err != nil {
		return decimal.Zero, err
	}
	return a.fromLamports(wallet.Balance), nil
}

// SetAlias implements chains.ChainAdapter. The alias index account makes aliases unique on chain.
func (a *SVMAdapter) SetAlias(ctx context.Context, sim, alias, pin string) (bool, error) {
	const op = "setAlias"

	aliasBytes, err := identity.AliasBytes(alias)
	if err != nil {
		return false, err
	}
	walletAddr, wallet, err := a.authorize(ctx, op, sim, pin)
	if err != nil {
		return false, err
	}
	if wallet.Alias == aliasBytes {
		return true, nil
	}

	aliasAddr, err := a.program.aliasAddress(aliasBytes)
	if err != nil {
		return false, fmt.Errorf("failed to derive alias address: %w", err)
	}
	taken, err := a.rpc.accountExists(ctx, op, aliasAddr)
	if err != nil {
		return false, err
	}
	if taken {
		return false, chains.Errorf(chains.ErrValidation, a.ChainID(), op, "alias %q is already taken", alias)
	}

	ix, err := a.program.setAlias(walletAddr, aliasAddr, a.signer.PublicKey(), aliasBytes)
	if err != nil {
		return false, err
	}
	if _, err := a.rpc.submit(ctx, op, a.signer, ix); err != nil {
		return false, err
	}
	return true, nil
}

// ValidatePin implements chains.ChainAdapter. It only reads the wallet account.
func (a *SVMAdapter) ValidatePin(ctx context.Context, sim, pin string) (bool, error) {
	_, _, err := a.authorize(ctx, "validatePin", sim, pin)
	if errors.Is(err, chains.ErrInvalidPin) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Credit implements chains.Treasury: the bridge owner adds lamports to the wallet of sim
func (a *SVMAdapter) Credit(ctx context.Context, sim string, amount decimal.Decimal) (*types.ChainTransaction, error) {
	const op = "credit"

	lamports, err := utils.ToUint64BaseUnits(amount, a.config.Decimals)
	if err != nil {
		return nil, chains.NewError(chains.ErrValidation, a.ChainID(), op, err)
	}
	walletAddr, _, err := a.loadWallet(ctx, op, sim)
	if err != nil {
		return nil, err
	}

	ix, err := a.program.addFunds(walletAddr, a.signer.PublicKey(), lamports)
	if err != nil {
		return nil, err
	}
	sig, err := a.rpc.submit(ctx, op, a.signer, ix)
	if err != nil {
		return nil, err
	}

	return &types.ChainTransaction{
		Hash:   sig.String(),
		From:   a.escrow.String(),
		To:     walletAddr.String(),
		Amount: amount,
		Status: types.TxConfirmed,
	}, nil
}

func (a *SVMAdapter) fromLamports(lamports uint64) decimal.Decimal {
	return utils.FromBaseUnits(new(big.Int).SetUint64(lamports), a.config.Decimals)
}

// RequiresInitializedWallet implements chains.WalletRequirement: add_funds needs the wallet PDA
func (a *SVMAdapter) RequiresInitializedWallet() bool {
	return true
}

// EscrowAddress implements chains.Treasury
func (a *SVMAdapter) EscrowAddress() string {
	return a.escrow.String()
}

// WalletInfo implements chains.WalletInspector
func (a *SVMAdapter) WalletInfo(ctx context.Context, sim string) (*types.ChainWallet, error) {
	addr, wallet, err := a.loadWallet(ctx, "walletInfo", sim)
	if errors.Is(err, chains.ErrWalletNotFound) {
		return &types.ChainWallet{Address: addr.String(), Balance: decimal.Zero, Exists: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.ChainWallet{
		Address: addr.String(),
		Balance: a.fromLamports(wallet.Balance),
		Exists:  true,
		Alias:   identity.AliasFromBytes(wallet.Alias),
	}, nil
}

// TestConnection implements chains.ConnectionTester
func (a *SVMAdapter) TestConnection(ctx context.Context) bool {
	return a.rpc.IsHealthy(ctx)
}

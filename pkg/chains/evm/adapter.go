package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/identity"
	"github.com/sigweihq/simchain/pkg/types"
	"github.com/sigweihq/simchain/pkg/utils"
)

// transferGas is the fixed gas limit of a plain value transfer
const transferGas = params.TxGas

// EVMAdapter provides wallet operations on any EVM-compatible chain.
// It stores no credentials: every PIN check is delegated to the injected PinValidator.
type EVMAdapter struct {
	config   types.ChainConfig
	rpc      *RPCClient
	pins     chains.PinValidator
	aliases  chains.AliasStore
	treasury *ecdsa.PrivateKey
	escrow   common.Address
	deriver  *identity.Deriver
	nonces   *nonceManager
	logger   *slog.Logger
}

// Verify EVMAdapter implements the adapter interfaces
var (
	_ chains.ChainAdapter     = (*EVMAdapter)(nil)
	_ chains.Treasury         = (*EVMAdapter)(nil)
	_ chains.WalletInspector  = (*EVMAdapter)(nil)
	_ chains.ConnectionTester = (*EVMAdapter)(nil)
	_ chains.AddressDeriver   = (*EVMAdapter)(nil)
)

// Options carries the optional collaborators of an EVMAdapter
type Options struct {
	// Salt scopes the SIM hash to this chain. Required.
	Salt identity.SaltSource
	// Treasury pays credits and refunds. Without it the chain cannot take part in transfers.
	Treasury *ecdsa.PrivateKey
	// Aliases persists aliases, since EVM accounts carry no alias of their own
	Aliases chains.AliasStore
	Logger  *slog.Logger
}

// NewEVMAdapter creates an EVM adapter. pins is the authority every PIN check is delegated to.
func NewEVMAdapter(config types.ChainConfig, rpcClient *RPCClient, pins chains.PinValidator, opts Options) (*EVMAdapter, error) {
	if pins == nil {
		return nil, fmt.Errorf("pin validator is required for %s", config.ID)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Decimals == 0 {
		config.Decimals = 18
	}

	a := &EVMAdapter{
		config:   config,
		rpc:      rpcClient,
		pins:     pins,
		aliases:  opts.Aliases,
		treasury: opts.Treasury,
		deriver:  identity.NewDeriver(config.ID, opts.Salt),
		nonces:   newNonceManager(),
		logger:   logger,
	}

	switch {
	case config.EscrowAddress != "":
		if !common.IsHexAddress(config.EscrowAddress) {
			return nil, fmt.Errorf("invalid escrow address for %s: %s", config.ID, config.EscrowAddress)
		}
		a.escrow = common.HexToAddress(config.EscrowAddress)
	case opts.Treasury != nil:
		a.escrow = crypto.PubkeyToAddress(opts.Treasury.PublicKey)
	}

	return a, nil
}

// ChainID implements chains.ChainAdapter
func (a *EVMAdapter) ChainID() string {
	return a.config.ID
}

// Config implements chains.ChainAdapter
func (a *EVMAdapter) Config() types.ChainConfig {
	return a.config
}

// AddressFromSeed implements identity.AddressScheme: the seed is used as the secp256k1 private key
func (a *EVMAdapter) AddressFromSeed(seed [32]byte) (string, error) {
	key, err := crypto.ToECDSA(seed[:])
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// DeriveAddress returns the account address of sim
func (a *EVMAdapter) DeriveAddress(ctx context.Context, sim string) (string, error) {
	return a.deriver.DeriveAddress(ctx, sim, a)
}

// accountKey derives the signing key of sim
func (a *EVMAdapter) accountKey(ctx context.Context, sim string) (*ecdsa.PrivateKey, common.Address, error) {
	seed, err := a.deriver.HashSim(ctx, sim)
	if err != nil {
		return nil, common.Address{}, err
	}
	key, err := crypto.ToECDSA(seed[:])
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("failed to derive account key: %w", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

// authorize asks the PIN authority and maps a rejection to ErrInvalidPin
func (a *EVMAdapter) authorize(ctx context.Context, op, sim, pin string) error {
	if err := identity.ValidatePinFormat(pin); err != nil {
		return err
	}
	ok, err := a.pins.ValidatePin(ctx, sim, pin)
	if err != nil {
		return err
	}
	if !ok {
		return chains.NewError(chains.ErrInvalidPin, a.ChainID(), op, nil)
	}
	return nil
}

// InitializeWallet implements chains.ChainAdapter. EVM accounts exist implicitly,
// so initialization only derives and returns the address.
func (a *EVMAdapter) InitializeWallet(ctx context.Context, sim, pin string) (string, error) {
	const op = "initializeWallet"

	if err := a.authorize(ctx, op, sim, pin); err != nil {
		return "", err
	}
	_, address, err := a.accountKey(ctx, sim)
	if err != nil {
		return "", err
	}

	a.logger.Info("wallet initialized", "chain", a.ChainID(), "sim", identity.MaskSim(sim), "address", address.Hex())
	return address.Hex(), nil
}

// SendFunds implements chains.ChainAdapter. "to" is either a hex address or a SIM.
func (a *EVMAdapter) SendFunds(ctx context.Context, from, to string, amount decimal.Decimal, pin string) (*types.ChainTransaction, error) {
	const op = "sendFunds"

	value := utils.ToBaseUnits(amount, a.config.Decimals)
	if value.Sign() <= 0 {
		return nil, chains.Errorf(chains.ErrValidation, a.ChainID(), op, "amount %s is below the smallest unit", amount.String())
	}
	if err := a.authorize(ctx, op, from, pin); err != nil {
		return nil, err
	}

	key, sender, err := a.accountKey(ctx, from)
	if err != nil {
		return nil, err
	}
	recipient, err := a.resolveRecipient(ctx, to)
	if err != nil {
		return nil, err
	}

	tx, err := a.transfer(ctx, op, key, sender, recipient, value)
	if err != nil {
		return nil, err
	}
	return chainTransaction(tx, sender, recipient, amount), nil
}

func (a *EVMAdapter) resolveRecipient(ctx context.Context, to string) (common.Address, error) {
	if common.IsHexAddress(to) {
		return common.HexToAddress(to), nil
	}
	_, address, err := a.accountKey(ctx, to)
	return address, err
}

// transfer signs, broadcasts and confirms a legacy value transfer after checking the balance covers
// value plus gas. The sender's nonce slot is held until the node has the transaction.
func (a *EVMAdapter) transfer(ctx context.Context, op string, key *ecdsa.PrivateKey, from, to common.Address, value *big.Int) (*ethtypes.Transaction, error) {
	gasPrice, err := a.rpc.gasPrice(ctx, op)
	if err != nil {
		return nil, err
	}
	balance, err := a.rpc.balanceAt(ctx, op, from)
	if err != nil {
		return nil, err
	}
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(transferGas))
	cost.Add(cost, value)
	if balance.Cmp(cost) < 0 {
		return nil, chains.Errorf(chains.ErrInsufficientBalance, a.ChainID(), op, "balance %s wei, need %s wei", balance, cost)
	}

	signed, err := a.signAndBroadcast(ctx, op, key, from, func(nonce uint64) *ethtypes.Transaction {
		return ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    value,
			Gas:      transferGas,
			GasPrice: gasPrice,
		})
	})
	if err != nil {
		return nil, err
	}

	if _, err := a.rpc.confirm(ctx, op, signed); err != nil {
		return nil, err
	}
	return signed, nil
}

// signAndBroadcast reserves the next nonce of from, signs the transaction built for it and
// hands it to the network
func (a *EVMAdapter) signAndBroadcast(ctx context.Context, op string, key *ecdsa.PrivateKey, from common.Address, build func(nonce uint64) *ethtypes.Transaction) (*ethtypes.Transaction, error) {
	slot := a.nonces.slot(from)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	pending, err := a.rpc.nonceAt(ctx, op, from)
	if err != nil {
		return nil, err
	}
	nonce := slot.reserve(pending)

	signed, err := ethtypes.SignTx(build(nonce), ethtypes.LatestSignerForChainID(big.NewInt(a.config.ChainID)), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := a.rpc.broadcast(ctx, op, signed); err != nil {
		slot.reset()
		return nil, err
	}
	slot.advance(nonce)
	return signed, nil
}

func chainTransaction(tx *ethtypes.Transaction, from, to common.Address, amount decimal.Decimal) *types.ChainTransaction {
	return &types.ChainTransaction{
		Hash:   tx.Hash().Hex(),
		From:   from.Hex(),
		To:     to.Hex(),
		Amount: amount,
		Status: types.TxConfirmed,
	}
}

// CheckBalance implements chains.ChainAdapter
func (a *EVMAdapter) CheckBalance(ctx context.Context, sim, pin string) (decimal.Decimal, error) {
	const op = "checkBalance"

	if err := a.authorize(ctx, op, sim, pin); err != nil {
		return decimal.Zero, err
	}
	_, address, err := a.accountKey(ctx, sim)
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := a.rpc.balanceAt(ctx, op, address)
	if err != nil {
		return decimal.Zero, err
	}
	return utils.FromBaseUnits(wei, a.config.Decimals), nil
}

// SetAlias implements chains.ChainAdapter by writing to the alias store
func (a *EVMAdapter) SetAlias(ctx context.Context, sim, alias, pin string) (bool, error) {
	const op = "setAlias"

	if err := identity.ValidateAlias(alias); err != nil {
		return false, err
	}
	if a.aliases == nil {
		return false, chains.Errorf(chains.ErrConfigNotInitialized, a.ChainID(), op, "no alias store configured")
	}
	if err := a.authorize(ctx, op, sim, pin); err != nil {
		return false, err
	}
	if err := a.aliases.SetAlias(ctx, sim, alias); err != nil {
		return false, err
	}
	return true, nil
}

// ValidatePin implements chains.ChainAdapter by asking the PIN authority
func (a *EVMAdapter) ValidatePin(ctx context.Context, sim, pin string) (bool, error) {
	err := a.authorize(ctx, "validatePin", sim, pin)
	if errors.Is(err, chains.ErrInvalidPin) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Credit implements chains.Treasury: the treasury key pays amount to the account of sim
func (a *EVMAdapter) Credit(ctx context.Context, sim string, amount decimal.Decimal) (*types.ChainTransaction, error) {
	const op = "credit"

	if a.treasury == nil {
		return nil, chains.Errorf(chains.ErrConfigNotInitialized, a.ChainID(), op, "no treasury key configured")
	}
	value := utils.ToBaseUnits(amount, a.config.Decimals)
	if value.Sign() <= 0 {
		return nil, chains.Errorf(chains.ErrValidation, a.ChainID(), op, "amount %s is below the smallest unit", amount.String())
	}
	_, recipient, err := a.accountKey(ctx, sim)
	if err != nil {
		return nil, err
	}

	from := crypto.PubkeyToAddress(a.treasury.PublicKey)
	tx, err := a.transfer(ctx, op, a.treasury, from, recipient, value)
	if err != nil {
		return nil, err
	}
	return chainTransaction(tx, from, recipient, amount), nil
}

// EscrowAddress implements chains.Treasury
func (a *EVMAdapter) EscrowAddress() string {
	if a.escrow == (common.Address{}) {
		return ""
	}
	return a.escrow.Hex()
}

// WalletInfo implements chains.WalletInspector.
// An account counts as existing once it has a balance or has sent a transaction.
func (a *EVMAdapter) WalletInfo(ctx context.Context, sim string) (*types.ChainWallet, error) {
	const op = "walletInfo"

	_, address, err := a.accountKey(ctx, sim)
	if err != nil {
		return nil, err
	}
	wei, err := a.rpc.balanceAt(ctx, op, address)
	if err != nil {
		return nil, err
	}
	nonce, err := a.rpc.nonceAt(ctx, op, address)
	if err != nil {
		return nil, err
	}

	wallet := &types.ChainWallet{
		Address: address.Hex(),
		Balance: utils.FromBaseUnits(wei, a.config.Decimals),
		Exists:  wei.Sign() > 0 || nonce > 0,
	}
	if a.aliases != nil {
		alias, err := a.aliases.GetAlias(ctx, sim)
		if err != nil {
			a.logger.Warn("failed to load alias", "chain", a.ChainID(), "sim", identity.MaskSim(sim), "error", err)
		}
		wallet.Alias = alias
	}
	return wallet, nil
}

// TestConnection implements chains.ConnectionTester
func (a *EVMAdapter) TestConnection(ctx context.Context) bool {
	if err := a.rpc.IsHealthy(ctx, a.config.ChainID); err != nil {
		a.logger.Warn("connection test failed", "chain", a.ChainID(), "error", err)
		return false
	}
	return true
}

// Package chainstest provides an in-memory chain adapter that records every call.
package chainstest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/identity"
	"github.com/sigweihq/simchain/pkg/types"
)

// Method names reported by Calls
const (
	MethodInitializeWallet = "InitializeWallet"
	MethodSendFunds        = "SendFunds"
	MethodCheckBalance     = "CheckBalance"
	MethodSetAlias         = "SetAlias"
	MethodValidatePin      = "ValidatePin"
	MethodCredit           = "Credit"
	MethodWalletInfo       = "WalletInfo"
	MethodTestConnection   = "TestConnection"
)

// SpyAdapter is a ChainAdapter backed by maps. When CheckPins is set it behaves like the
// authority chain and rejects wrong PINs itself; otherwise it trusts its caller.
type SpyAdapter struct {
	ID        string
	Symbol    string
	Decimals  int32
	CheckPins bool
	Healthy   bool

	// RequireWallets makes Credit reject sims without a wallet, like the Solana program
	RequireWallets bool
	// TxStatus overrides the status of returned transactions when set
	TxStatus types.TxStatus

	mu         sync.Mutex
	pins       map[string]string
	balances   map[string]decimal.Decimal
	aliases    map[string]string
	failures   map[string]error
	afterMoves map[string]error
	calls      map[string]int
	history    []string
	txCount    int
}

// Verify SpyAdapter implements all adapter interfaces
var (
	_ chains.ChainAdapter      = (*SpyAdapter)(nil)
	_ chains.Treasury          = (*SpyAdapter)(nil)
	_ chains.WalletInspector   = (*SpyAdapter)(nil)
	_ chains.ConnectionTester  = (*SpyAdapter)(nil)
	_ chains.WalletRequirement = (*SpyAdapter)(nil)
)

// NewSpyAdapter creates an empty spy for chainID
func NewSpyAdapter(chainID string, checkPins bool) *SpyAdapter {
	return &SpyAdapter{
		ID:         chainID,
		Symbol:     "TKN",
		Decimals:   9,
		CheckPins:  checkPins,
		Healthy:    true,
		pins:       make(map[string]string),
		balances:   make(map[string]decimal.Decimal),
		aliases:    make(map[string]string),
		failures:   make(map[string]error),
		afterMoves: make(map[string]error),
		calls:      make(map[string]int),
	}
}

// AddWallet registers a wallet with a PIN and an opening balance
func (s *SpyAdapter) AddWallet(sim, pin string, balance decimal.Decimal) *SpyAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalize(sim)
	s.pins[key] = pin
	s.balances[key] = balance
	return s
}

// FailOn makes every later call to method return err
func (s *SpyAdapter) FailOn(method string, err error) *SpyAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
	return s
}

// FailAfterMove makes SendFunds or Credit move the funds and then report the transaction as
// unconfirmed with err, like a confirmation timeout after broadcast
func (s *SpyAdapter) FailAfterMove(method string, err error) *SpyAdapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterMoves[method] = err
	return s
}

// Calls returns how often method was invoked
func (s *SpyAdapter) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls returns the number of calls across all methods
func (s *SpyAdapter) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// MutatingCalls returns the number of calls that would submit a transaction
func (s *SpyAdapter) MutatingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[MethodInitializeWallet] + s.calls[MethodSendFunds] + s.calls[MethodSetAlias] + s.calls[MethodCredit]
}

// History returns method names in call order
func (s *SpyAdapter) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// Balance returns the current balance of sim or address
func (s *SpyAdapter) Balance(owner string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[normalize(owner)]
}

func (s *SpyAdapter) record(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	s.history = append(s.history, method)
	return s.failures[method]
}

func (s *SpyAdapter) authorize(sim, pin, op string) error {
	if !s.CheckPins {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.pins[normalize(sim)]
	if !ok {
		return chains.NewError(chains.ErrWalletNotFound, s.ID, op, nil)
	}
	if stored != pin {
		return chains.NewError(chains.ErrInvalidPin, s.ID, op, nil)
	}
	return nil
}

func (s *SpyAdapter) nextHash() string {
	s.txCount++
	return fmt.Sprintf("%s-tx-%d", s.ID, s.txCount)
}

func (s *SpyAdapter) ChainID() string {
	return s.ID
}

func (s *SpyAdapter) Config() types.ChainConfig {
	return types.ChainConfig{ID: s.ID, Name: s.ID, Symbol: s.Symbol, Decimals: s.Decimals}
}

func (s *SpyAdapter) InitializeWallet(ctx context.Context, sim, pin string) (string, error) {
	if err := s.record(MethodInitializeWallet); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalize(sim)
	if _, exists := s.pins[key]; exists && s.CheckPins {
		return "", chains.Errorf(chains.ErrValidation, s.ID, "initializeWallet", "wallet already exists")
	}
	s.pins[key] = pin
	if _, ok := s.balances[key]; !ok {
		s.balances[key] = decimal.Zero
	}
	return s.ID + ":" + key, nil
}

func (s *SpyAdapter) SendFunds(ctx context.Context, from, to string, amount decimal.Decimal, pin string) (*types.ChainTransaction, error) {
	if err := s.record(MethodSendFunds); err != nil {
		return nil, err
	}
	if err := s.authorize(from, pin, "sendFunds"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fromKey, toKey := normalize(from), normalize(to)
	if s.balances[fromKey].LessThan(amount) {
		return nil, chains.NewError(chains.ErrInsufficientBalance, s.ID, "sendFunds", nil)
	}
	s.balances[fromKey] = s.balances[fromKey].Sub(amount)
	s.balances[toKey] = s.balances[toKey].Add(amount)
	return s.settle(MethodSendFunds, &types.ChainTransaction{Hash: s.nextHash(), From: fromKey, To: toKey, Amount: amount})
}

func (s *SpyAdapter) CheckBalance(ctx context.Context, sim, pin string) (decimal.Decimal, error) {
	if err := s.record(MethodCheckBalance); err != nil {
		return decimal.Zero, err
	}
	if err := s.authorize(sim, pin, "checkBalance"); err != nil {
		return decimal.Zero, err
	}
	return s.Balance(sim), nil
}

func (s *SpyAdapter) SetAlias(ctx context.Context, sim, alias, pin string) (bool, error) {
	if err := s.record(MethodSetAlias); err != nil {
		return false, err
	}
	if err := s.authorize(sim, pin, "setAlias"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[normalize(sim)] = alias
	return true, nil
}

func (s *SpyAdapter) ValidatePin(ctx context.Context, sim, pin string) (bool, error) {
	if err := s.record(MethodValidatePin); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.pins[normalize(sim)]
	return ok && stored == pin, nil
}

// Credit pays amount out of the escrow balance
func (s *SpyAdapter) Credit(ctx context.Context, sim string, amount decimal.Decimal) (*types.ChainTransaction, error) {
	if err := s.record(MethodCredit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalize(sim)
	if _, exists := s.pins[key]; s.RequireWallets && !exists {
		return nil, chains.NewError(chains.ErrWalletNotFound, s.ID, "credit", nil)
	}
	escrow := s.EscrowAddress()
	s.balances[escrow] = s.balances[escrow].Sub(amount)
	s.balances[key] = s.balances[key].Add(amount)
	return s.settle(MethodCredit, &types.ChainTransaction{Hash: s.nextHash(), From: escrow, To: key, Amount: amount})
}

// settle stamps the status of a moved transaction. Callers hold s.mu.
func (s *SpyAdapter) settle(method string, tx *types.ChainTransaction) (*types.ChainTransaction, error) {
	tx.Status = types.TxConfirmed
	if s.TxStatus != "" {
		tx.Status = s.TxStatus
	}
	if err := s.afterMoves[method]; err != nil {
		return nil, &chains.UnconfirmedError{Hash: tx.Hash, Err: err}
	}
	return tx, nil
}

// RequiresInitializedWallet implements chains.WalletRequirement
func (s *SpyAdapter) RequiresInitializedWallet() bool {
	return s.RequireWallets
}

func (s *SpyAdapter) EscrowAddress() string {
	return s.ID + "-escrow"
}

func (s *SpyAdapter) WalletInfo(ctx context.Context, sim string) (*types.ChainWallet, error) {
	if err := s.record(MethodWalletInfo); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalize(sim)
	_, exists := s.pins[key]
	return &types.ChainWallet{
		Address: s.ID + ":" + key,
		Balance: s.balances[key],
		Exists:  exists,
		Alias:   s.aliases[key],
	}, nil
}

func (s *SpyAdapter) TestConnection(ctx context.Context) bool {
	_ = s.record(MethodTestConnection)
	return s.Healthy
}

// normalize keys sims by their canonical form and leaves raw addresses alone
func normalize(owner string) string {
	if !strings.HasPrefix(owner, "+") {
		return owner
	}
	if sim, err := identity.NormalizeSim(owner); err == nil {
		return sim
	}
	return owner
}

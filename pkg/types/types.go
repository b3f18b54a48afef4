package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ChainConfig describes one configured chain. It is immutable after load.
type ChainConfig struct {
	ID              string   `toml:"id"`
	Name            string   `toml:"name"`
	Kind            string   `toml:"kind"` // "svm" or "evm"
	RPCURL          string   `toml:"rpc_url"`
	FallbackRPCURLs []string `toml:"fallback_rpc_urls"` // tried in order for read-only calls
	ChainID         int64    `toml:"chain_id"`
	Symbol          string   `toml:"symbol"`
	Decimals        int32    `toml:"decimals"`
	Testnet         bool     `toml:"testnet"`
	BlockExplorer   string   `toml:"block_explorer"`
	ProgramID       string   `toml:"program_id"`     // SVM only
	EscrowAddress   string   `toml:"escrow_address"` // bridge-controlled lock destination
}

// Endpoints returns the primary RPC URL followed by the fallbacks
func (c ChainConfig) Endpoints() []string {
	endpoints := make([]string, 0, len(c.FallbackRPCURLs)+1)
	if c.RPCURL != "" {
		endpoints = append(endpoints, c.RPCURL)
	}
	for _, url := range c.FallbackRPCURLs {
		if url != "" && url != c.RPCURL {
			endpoints = append(endpoints, url)
		}
	}
	return endpoints
}

// OperationType is the closed set of single-chain operations
type OperationType int

const (
	OpInitializeWallet OperationType = iota + 1
	OpSendFunds
	OpCheckBalance
	OpSetAlias
	OpValidatePin
)

func (t OperationType) String() string {
	switch t {
	case OpInitializeWallet:
		return "initializeWallet"
	case OpSendFunds:
		return "sendFunds"
	case OpCheckBalance:
		return "checkBalance"
	case OpSetAlias:
		return "setAlias"
	case OpValidatePin:
		return "validatePin"
	default:
		return fmt.Sprintf("OperationType(%d)", int(t))
	}
}

// ParseOperationType maps the wire name of an operation back to its type
func ParseOperationType(s string) (OperationType, bool) {
	for _, t := range []OperationType{OpInitializeWallet, OpSendFunds, OpCheckBalance, OpSetAlias, OpValidatePin} {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// Operation parameter keys
const (
	ParamFrom   = "from"
	ParamTo     = "to"
	ParamAmount = "amount"
	ParamAlias  = "alias"
)

// Operation is a single-chain request. Construct per call, never mutate.
type Operation struct {
	Type        OperationType
	TargetChain string
	Sim         string
	Pin         string
	Params      map[string]string
}

// Param returns a parameter value, or "" if absent
func (o Operation) Param(key string) string {
	if o.Params == nil {
		return ""
	}
	return o.Params[key]
}

// OperationResult carries whichever value the dispatched operation produced
type OperationResult struct {
	Type        OperationType
	Address     string            // InitializeWallet
	Transaction *ChainTransaction // SendFunds
	Balance     decimal.Decimal   // CheckBalance
	OK          bool              // SetAlias, ValidatePin
}

// ChainWallet is a snapshot of a wallet on one chain
type ChainWallet struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
	Exists  bool            `json:"exists"`
	Alias   string          `json:"alias,omitempty"`
}

// TxStatus is the lifecycle state of a submitted transaction
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// ChainTransaction is a chain-agnostic transaction receipt
type ChainTransaction struct {
	Hash   string          `json:"hash"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Status TxStatus        `json:"status"`
}

// CrossChainTransfer is a request to move value from one chain to another
type CrossChainTransfer struct {
	Sim         string
	Pin         string
	SourceChain string
	TargetChain string
	Amount      decimal.Decimal
	SourceToken string // defaults to the source chain's native currency
	TargetToken string // defaults to the target chain's native currency
	// SlippageTolerancePercent defaults to 0.5 when nil
	SlippageTolerancePercent *decimal.Decimal
}

// Fees is the fee breakdown of a cross-chain transfer.
// TotalFee is always the exact sum of the three components.
type Fees struct {
	SourceChainFee decimal.Decimal `json:"sourceChainFee"`
	BridgeFee      decimal.Decimal `json:"bridgeFee"`
	TargetChainFee decimal.Decimal `json:"targetChainFee"`
	TotalFee       decimal.Decimal `json:"totalFee"`
}

// ConversionDetails is the output of the conversion calculator
type ConversionDetails struct {
	SourceToken          string          `json:"sourceToken"`
	TargetToken          string          `json:"targetToken"`
	ExchangeRate         decimal.Decimal `json:"exchangeRate"`
	SourceAmount         decimal.Decimal `json:"sourceAmount"`
	TargetAmount         decimal.Decimal `json:"targetAmount"`
	MinTargetAmount      decimal.Decimal `json:"minTargetAmount"`
	Fees                 Fees            `json:"fees"`
	EstimatedTimeSeconds int             `json:"estimatedTimeSeconds"`
}

// TransferStatus is the terminal status of a cross-chain transfer
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferConfirmed TransferStatus = "confirmed"
	TransferFailed    TransferStatus = "failed"
)

// CrossChainResult is returned by a completed cross-chain transfer
type CrossChainResult struct {
	SourceTx             string          `json:"sourceTx"`
	TargetTx             string          `json:"targetTx"`
	MessageID            string          `json:"messageId"`
	Status               TransferStatus  `json:"status"`
	ExchangeRate         decimal.Decimal `json:"exchangeRate"`
	SourceAmount         decimal.Decimal `json:"sourceAmount"`
	TargetAmount         decimal.Decimal `json:"targetAmount"`
	MinTargetAmount      decimal.Decimal `json:"minTargetAmount"`
	Fees                 Fees            `json:"fees"`
	EstimatedTimeSeconds int             `json:"estimatedTimeSeconds"`
}

// BridgeMessage is the payload relayed between chains during a transfer
type BridgeMessage struct {
	SourceChain     string          `json:"sourceChain"`
	TargetChain     string          `json:"targetChain"`
	SourceTx        string          `json:"sourceTx"`
	Sender          string          `json:"sender"`
	Recipient       string          `json:"recipient"`
	SourceToken     string          `json:"sourceToken"`
	TargetToken     string          `json:"targetToken"`
	SourceAmount    decimal.Decimal `json:"sourceAmount"`
	TargetAmount    decimal.Decimal `json:"targetAmount"`
	MinTargetAmount decimal.Decimal `json:"minTargetAmount"`
	ExchangeRate    decimal.Decimal `json:"exchangeRate"`
}

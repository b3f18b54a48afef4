package constants

import "time"

const (
	DelayBetweenRPCCalls  = 200              // delay in milliseconds between RPC calls
	AdapterCallTimeout    = 30 * time.Second // upper bound for a single adapter call
	ConfirmationTimeout   = 60 * time.Second // timeout for waiting on a submitted transaction
	RelayTimeout          = 30 * time.Second // timeout for relay/bridge requests
	HealthCheckTimeout    = 3 * time.Second  // timeout for connection tests
	TLSHandshakeTimeout   = 10 * time.Second // timeout for TLS handshake
	ResponseHeaderTimeout = 20 * time.Second // timeout for response header
	ExpectContinueTimeout = 1 * time.Second  // timeout for expect continue
	MaxRetries            = 3                // maximum number of retries for read-only RPC calls
	MaxResponseBodySize   = 10 * 1024 * 1024 // maximum response body size in bytes (10MB)
)

// Chain identifiers
const (
	ChainSolana   = "solana"
	ChainPolkadot = "polkadot"
	ChainEthereum = "ethereum"
	ChainPolygon  = "polygon"
	ChainArbitrum = "arbitrum"
	ChainBase     = "base"
	ChainOptimism = "optimism"
)

// Chain kinds select the adapter implementation
const (
	KindSVM = "svm"
	KindEVM = "evm"
)

// Identity and credential rules
const (
	MinSimLength   = 8
	MaxSimLength   = 15
	PinLength      = 6
	MaxAliasLength = 32
)

// Defaults for cross-chain transfers
const (
	DefaultSlippageTolerancePercent = "0.5"
	DefaultChainFee                 = "0.001"
	DefaultEstimatedTimeSeconds     = 300
	RateDivisionPrecision           = 18
	BridgeFeePrecision              = 9
)

// Bridge fee parameters: bridgeFee = clamp(amount * BridgeBaseFeeRate, BridgeMinFee, BridgeMaxFee)
const (
	BridgeBaseFeeRate = "0.001"
	BridgeMinFee      = "0.001"
	BridgeMaxFee      = "0.01"
)

// NativeTokens maps chain id to native currency symbol
var NativeTokens = map[string]string{
	ChainSolana:   "SOL",
	ChainPolkadot: "DOT",
	ChainEthereum: "ETH",
	ChainPolygon:  "MATIC",
	ChainArbitrum: "ARB",
	ChainBase:     "ETH",
	ChainOptimism: "ETH",
}

// TokenDecimals holds the decimals of priced tokens that are not a chain's native currency
var TokenDecimals = map[string]int32{
	"USDC": 6,
	"USDT": 6,
}

// ChainFees maps chain id to the flat network fee charged on that chain, in native units
var ChainFees = map[string]string{
	ChainSolana:   "0.0005",
	ChainPolkadot: "0.01",
	ChainEthereum: "0.001",
	ChainPolygon:  "0.001",
	ChainArbitrum: "0.01",
	ChainBase:     "0.01",
	ChainOptimism: "0.01",
}

// EstimatedTimes maps "source-target" to the expected settlement time in seconds
var EstimatedTimes = map[string]int{
	ChainSolana + "-" + ChainPolkadot: 120,
	ChainPolkadot + "-" + ChainSolana: 120,
	ChainSolana + "-" + ChainEthereum: 300,
	ChainEthereum + "-" + ChainSolana: 300,
	ChainSolana + "-" + ChainPolygon:  180,
	ChainPolygon + "-" + ChainSolana:  180,
}

// DemoRates is the static exchange rate table keyed by "SOURCE/TARGET"
var DemoRates = map[string]string{
	"SOL/DOT":   "250",
	"SOL/ETH":   "0.02",
	"SOL/USDC":  "1000",
	"DOT/USDC":  "40",
	"ETH/USDC":  "3000",
	"SOL/MATIC": "350",
}

// DefaultRPCEndpoints are used when a chain config omits its RPC URL
var DefaultRPCEndpoints = map[string]string{
	ChainSolana:   "https://api.mainnet-beta.solana.com",
	ChainEthereum: "https://eth.llamarpc.com",
	ChainPolygon:  "https://polygon-rpc.com",
}

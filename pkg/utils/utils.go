package utils

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/sigweihq/simchain/pkg/constants"
)

// ParseEVMPrivateKey parses a hex-encoded secp256k1 private key, with or without 0x prefix
func ParseEVMPrivateKey(key string) (*ecdsa.PrivateKey, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "0x")
	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return privateKey, nil
}

// DeriveEVMAddress derives the checksummed EVM address of a hex private key
func DeriveEVMAddress(key string) (string, error) {
	privateKey, err := ParseEVMPrivateKey(key)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(privateKey.PublicKey).Hex(), nil
}

// GenerateEVMKey generates a new secp256k1 key and returns its hex encoding and address
func GenerateEVMKey() (privateKeyHex, address string, err error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}
	privateKeyHex = "0x" + hex.EncodeToString(crypto.FromECDSA(privateKey))
	return privateKeyHex, crypto.PubkeyToAddress(privateKey.PublicKey).Hex(), nil
}

// ToBaseUnits converts a decimal amount of native currency to the chain's smallest unit.
// Digits below the smallest unit are truncated.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts an amount in the chain's smallest unit back to a decimal amount
func FromBaseUnits(value *big.Int, decimals int32) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -decimals)
}

// ToUint64BaseUnits converts amount to base units and requires a positive value that fits in a uint64
func ToUint64BaseUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	units := ToBaseUnits(amount, decimals)
	if units.Sign() <= 0 {
		return 0, fmt.Errorf("amount %s is below the smallest unit", amount.String())
	}
	if !units.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows uint64 base units", amount.String())
	}
	return units.Uint64(), nil
}

func CreateHTTPClientWithTimeouts(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
			ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
			ExpectContinueTimeout: constants.ExpectContinueTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // Disable redirects to prevent redirect-based SSRF
		},
	}
}

// ValidateEndpointURL validates that a relay or RPC URL is secure
// Returns error if URL doesn't use HTTPS (except for localhost/127.0.0.1 for testing)
func ValidateEndpointURL(url string) error {
	if !strings.HasPrefix(url, "https://") {
		// Allow http://localhost and http://127.0.0.1 for testing
		if strings.HasPrefix(url, "http://localhost") ||
			strings.HasPrefix(url, "http://127.0.0.1") ||
			strings.HasPrefix(url, "http://[::1]") {
			return nil
		}
		return fmt.Errorf("endpoint URL must use HTTPS: %s", url)
	}
	return nil
}

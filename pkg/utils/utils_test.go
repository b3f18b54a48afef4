package utils

import (
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test private key (DO NOT USE IN PRODUCTION)
const testPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestDeriveEVMAddress(t *testing.T) {
	address, err := DeriveEVMAddress("0x" + testPrivateKeyHex)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", address)

	_, err = DeriveEVMAddress("not-a-key")
	assert.Error(t, err)
}

func TestGenerateEVMKey(t *testing.T) {
	privateKeyHex, address, err := GenerateEVMKey()
	require.NoError(t, err)

	derived, err := DeriveEVMAddress(privateKeyHex)
	require.NoError(t, err)
	assert.Equal(t, address, derived)
}

func TestParseSolanaPrivateKey(t *testing.T) {
	seedHex, address, err := GenerateSolanaKeypair()
	require.NoError(t, err)

	fromSeed, err := ParseSolanaPrivateKey(seedHex)
	require.NoError(t, err)
	assert.Equal(t, address, fromSeed.PublicKey().String())

	// 64-byte keypair in base58 is the solana-keygen export format
	fromBase58, err := ParseSolanaPrivateKey(fromSeed.String())
	require.NoError(t, err)
	assert.Equal(t, address, fromBase58.PublicKey().String())

	derived, err := DeriveSolanaAddress(seedHex)
	require.NoError(t, err)
	assert.Equal(t, address, derived)
}

func TestParseSolanaPrivateKeyInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "empty", key: ""},
		{name: "short hex", key: "0xabcd"},
		{name: "garbage", key: "!!!not-base58!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSolanaPrivateKey(tt.key)
			assert.Error(t, err)
		})
	}
}

func TestBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int32
		expected string
	}{
		{name: "whole SOL", amount: "1.5", decimals: 9, expected: "1500000000"},
		{name: "smallest lamport", amount: "0.000000001", decimals: 9, expected: "1"},
		{name: "truncates below lamport", amount: "0.0000000019", decimals: 9, expected: "1"},
		{name: "wei", amount: "0.02", decimals: 18, expected: "20000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units := ToBaseUnits(decimal.RequireFromString(tt.amount), tt.decimals)
			assert.Equal(t, tt.expected, units.String())
		})
	}

	back := FromBaseUnits(big.NewInt(1500000000), 9)
	assert.True(t, back.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, FromBaseUnits(nil, 9).IsZero())
}

func TestToUint64BaseUnits(t *testing.T) {
	lamports, err := ToUint64BaseUnits(decimal.RequireFromString("10"), 9)
	require.NoError(t, err)
	assert.Equal(t, 10*solana.LAMPORTS_PER_SOL, lamports)

	_, err = ToUint64BaseUnits(decimal.RequireFromString("0.0000000001"), 9)
	assert.Error(t, err)

	_, err = ToUint64BaseUnits(decimal.RequireFromString("-1"), 9)
	assert.Error(t, err)

	_, err = ToUint64BaseUnits(decimal.RequireFromString("1e30"), 9)
	assert.Error(t, err)
}

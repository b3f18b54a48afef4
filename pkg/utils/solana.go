package utils

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ParseSolanaPrivateKey accepts a hex seed (32 bytes), a hex keypair (64 bytes) or a base58 keypair
func ParseSolanaPrivateKey(key string) (solana.PrivateKey, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("empty private key")
	}

	hexKey := strings.TrimPrefix(key, "0x")
	if privateKeyBytes, err := hex.DecodeString(hexKey); err == nil {
		// Solana Ed25519 private keys are 64 bytes (32-byte seed + 32-byte public key)
		// But we support providing just the 32-byte seed
		switch len(privateKeyBytes) {
		case ed25519.SeedSize:
			return solana.PrivateKey(ed25519.NewKeyFromSeed(privateKeyBytes)), nil
		case ed25519.PrivateKeySize:
			return solana.PrivateKey(privateKeyBytes), nil
		default:
			return nil, fmt.Errorf("invalid private key length: %d (expected 32 or 64 bytes)", len(privateKeyBytes))
		}
	}

	privateKey, err := solana.PrivateKeyFromBase58(key)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: %d (expected 64 bytes)", len(privateKey))
	}
	return privateKey, nil
}

// DeriveSolanaAddress derives a Solana address from a private key
func DeriveSolanaAddress(privateKey string) (string, error) {
	key, err := ParseSolanaPrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	return key.PublicKey().String(), nil
}

// GenerateSolanaKeypair generates a new Solana keypair
func GenerateSolanaKeypair() (privateKeyHex, address string, err error) {
	account := solana.NewWallet()

	// For storage, we only need the 32-byte seed
	seed := account.PrivateKey[:32]
	privateKeyHex = "0x" + hex.EncodeToString(seed)
	address = account.PublicKey().String()

	return privateKeyHex, address, nil
}

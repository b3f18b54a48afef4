// Package identity maps phone numbers to deterministic per-chain accounts.
//
// Every chain derives its wallet from the same seed: SHA256(normalizedSim || salt), where the salt
// is chain-scoped, fetched once per deriver lifetime and cached. The chain then turns the seed into
// an address with its native scheme (program-derived address, key-from-seed, ...).
package identity

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/constants"
)

// SaltSource fetches the chain-scoped salt
type SaltSource interface {
	FetchSalt(ctx context.Context) ([]byte, error)
}

// SaltFunc adapts a function to SaltSource
type SaltFunc func(ctx context.Context) ([]byte, error)

func (f SaltFunc) FetchSalt(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// StaticSalt is a SaltSource that always returns the same bytes
type StaticSalt []byte

func (s StaticSalt) FetchSalt(context.Context) ([]byte, error) {
	return []byte(s), nil
}

// AddressScheme turns a 32-byte seed into a chain address
type AddressScheme interface {
	AddressFromSeed(seed [32]byte) (string, error)
}

// Deriver computes salted SIM hashes and chain addresses.
// The salt is fetched at most once successfully; concurrent first callers share one fetch.
type Deriver struct {
	chainID string
	source  SaltSource
	salt    atomic.Pointer[[]byte]
	group   singleflight.Group
}

// NewDeriver creates a deriver for chainID backed by source
func NewDeriver(chainID string, source SaltSource) *Deriver {
	return &Deriver{chainID: chainID, source: source}
}

// Salt returns the cached salt, fetching it on first use
func (d *Deriver) Salt(ctx context.Context) ([]byte, error) {
	if cached := d.salt.Load(); cached != nil {
		return *cached, nil
	}
	if d.source == nil {
		return nil, chains.NewError(chains.ErrConfigNotInitialized, d.chainID, "salt", nil)
	}

	// the shared fetch must not die with whichever caller started it
	ch := d.group.DoChan("salt", func() (any, error) {
		if cached := d.salt.Load(); cached != nil {
			return *cached, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.AdapterCallTimeout)
		defer cancel()
		salt, err := d.source.FetchSalt(fetchCtx)
		if err != nil {
			return nil, err
		}
		if len(salt) == 0 {
			return nil, fmt.Errorf("empty salt")
		}
		owned := append([]byte(nil), salt...)
		d.salt.Store(&owned)
		return owned, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, chains.NewError(chains.ErrConfigNotInitialized, d.chainID, "salt", res.Err)
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, chains.NewError(chains.ErrNetwork, d.chainID, "salt", ctx.Err())
	}
}

// HashSim normalizes sim and returns SHA256(normalizedSim || salt)
func (d *Deriver) HashSim(ctx context.Context, sim string) ([32]byte, error) {
	normalized, err := NormalizeSim(sim)
	if err != nil {
		return [32]byte{}, err
	}
	salt, err := d.Salt(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	return SaltedHash(normalized, salt), nil
}

// DeriveAddress maps sim to its address on the deriver's chain using scheme
func (d *Deriver) DeriveAddress(ctx context.Context, sim string, scheme AddressScheme) (string, error) {
	seed, err := d.HashSim(ctx, sim)
	if err != nil {
		return "", err
	}
	address, err := scheme.AddressFromSeed(seed)
	if err != nil {
		return "", fmt.Errorf("failed to derive address on %s: %w", d.chainID, err)
	}
	return address, nil
}

// SaltedHash computes SHA256(normalizedSim || salt)
func SaltedHash(normalizedSim string, salt []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(normalizedSim))
	h.Write(salt)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NormalizeSim strips everything but digits and '+', forces a leading '+',
// and checks the result length.
func NormalizeSim(sim string) (string, error) {
	var b strings.Builder
	for _, r := range sim {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	if !strings.HasPrefix(normalized, "+") {
		normalized = "+" + normalized
	}
	if strings.Count(normalized, "+") != 1 {
		return "", chains.Errorf(chains.ErrValidation, "", "normalize", "invalid phone number format")
	}
	if len(normalized) < constants.MinSimLength || len(normalized) > constants.MaxSimLength {
		return "", chains.Errorf(chains.ErrValidation, "", "normalize", "invalid phone number format")
	}
	return normalized, nil
}

// MaskSim hides the middle of a phone number for logs
func MaskSim(sim string) string {
	if len(sim) <= 7 {
		return "***"
	}
	return sim[:5] + "***" + sim[len(sim)-4:]
}

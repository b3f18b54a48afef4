package identity

import (
	"crypto/sha256"
	"strings"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/constants"
)

// ValidatePinFormat requires exactly six digits
func ValidatePinFormat(pin string) error {
	if len(pin) != constants.PinLength {
		return chains.Errorf(chains.ErrValidation, "", "pin", "PIN must be exactly %d digits", constants.PinLength)
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return chains.Errorf(chains.ErrValidation, "", "pin", "PIN must be exactly %d digits", constants.PinLength)
		}
	}
	return nil
}

// HashPin returns SHA256(pin) after checking the PIN format
func HashPin(pin string) ([32]byte, error) {
	if err := ValidatePinFormat(pin); err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256([]byte(pin)), nil
}

// ValidateAlias requires 1..32 printable ASCII characters, not all zeros
func ValidateAlias(alias string) error {
	if len(alias) == 0 || len(alias) > constants.MaxAliasLength {
		return chains.Errorf(chains.ErrValidation, "", "alias", "alias must be 1-%d characters", constants.MaxAliasLength)
	}
	for i := 0; i < len(alias); i++ {
		if alias[i] < 0x20 || alias[i] > 0x7e {
			return chains.Errorf(chains.ErrValidation, "", "alias", "alias must be printable ASCII")
		}
	}
	if strings.Trim(alias, "0") == "" {
		return chains.Errorf(chains.ErrValidation, "", "alias", "alias cannot be all zeros")
	}
	return nil
}

// AliasBytes returns the alias as a zero-padded 32-byte array
func AliasBytes(alias string) ([32]byte, error) {
	var out [32]byte
	if err := ValidateAlias(alias); err != nil {
		return out, err
	}
	copy(out[:], alias)
	return out, nil
}

// AliasFromBytes trims the zero padding of an on-chain alias
func AliasFromBytes(b [32]byte) string {
	return strings.TrimRight(string(b[:]), "\x00")
}

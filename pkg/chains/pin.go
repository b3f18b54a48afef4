package chains

import (
	"context"
	"log/slog"
)

// PinAuthority wraps exactly one adapter as the single source of truth for PIN validation.
// Secondary adapters receive it at construction instead of storing credentials of their own.
type PinAuthority struct {
	adapter ChainAdapter
	logger  *slog.Logger
}

// NewPinAuthority creates the PIN authority backed by adapter
func NewPinAuthority(adapter ChainAdapter, logger *slog.Logger) *PinAuthority {
	if logger == nil {
		logger = slog.Default()
	}
	return &PinAuthority{adapter: adapter, logger: logger}
}

// Verify PinAuthority implements PinValidator
var _ PinValidator = (*PinAuthority)(nil)

// ChainID returns the authority chain id
func (p *PinAuthority) ChainID() string {
	return p.adapter.ChainID()
}

// ValidatePin implements PinValidator by asking the authority chain
func (p *PinAuthority) ValidatePin(ctx context.Context, sim, pin string) (bool, error) {
	ok, err := p.adapter.ValidatePin(ctx, sim, pin)
	if err != nil {
		p.logger.Warn("authority pin validation failed", "chain", p.adapter.ChainID(), "error", err)
		return false, err
	}
	return ok, nil
}

// Require validates the PIN and returns ErrInvalidPin when the authority rejects it
func (p *PinAuthority) Require(ctx context.Context, sim, pin, op string) error {
	ok, err := p.ValidatePin(ctx, sim, pin)
	if err != nil {
		return err
	}
	if !ok {
		return NewError(ErrInvalidPin, p.adapter.ChainID(), op, nil)
	}
	return nil
}

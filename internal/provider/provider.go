// Package provider is the capability interface for the outbound
// messaging channel. The implementation (real gateway or simulator) is
// selected once at construction; call sites never branch on it.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tasksync/internal/config"
)

// ErrorKind classifies delivery failures. Throttled and ProviderError are
// retried by the dispatcher; InvalidRecipient is permanent.
type ErrorKind int

const (
	KindThrottled ErrorKind = iota + 1
	KindInvalidRecipient
	KindProviderError
)

func (k ErrorKind) String() string {
	switch k {
	case KindThrottled:
		return "throttled"
	case KindInvalidRecipient:
		return "invalid_recipient"
	case KindProviderError:
		return "provider_error"
	}
	return "unknown"
}

// Error is the typed failure returned by Send.
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration // only set for KindThrottled
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider send: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("provider send: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the error kind, or 0 when err is not a provider error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// Permanent reports whether retrying can never succeed.
func Permanent(err error) bool {
	return KindOf(err) == KindInvalidRecipient
}

// RetryAfterOf returns the provider-advised pause, zero when unknown.
func RetryAfterOf(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// Sender delivers one rendered message to one recipient address and
// returns the provider-side message id.
type Sender interface {
	Send(ctx context.Context, recipient, body string) (string, error)
}

// New builds the configured Sender variant.
func New(cfg config.ProviderConfig, logger *zap.Logger) (Sender, error) {
	switch cfg.Mode {
	case "http":
		return NewHTTPSender(cfg, logger), nil
	case "simulator", "":
		return NewSimulator(SimulatorOptions{
			SuccessRate: cfg.Simulator.SuccessRate,
			Latency:     cfg.Simulator.Latency.Std(),
			Seed:        cfg.Simulator.Seed,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider mode %q", cfg.Mode)
	}
}
